package token

import (
	"errors"
	"testing"

	"github.com/clearline-network/clearline/internal/domain"
)

func TestMintAndTransfer(t *testing.T) {
	tok := New()
	if err := tok.Mint("alice", 100); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if err := tok.Transfer("alice", "bob", 40); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if got := tok.BalanceOf("alice"); got != 60 {
		t.Errorf("alice balance = %d, want 60", got)
	}
	if got := tok.BalanceOf("bob"); got != 40 {
		t.Errorf("bob balance = %d, want 40", got)
	}
	if got := tok.TotalSupply(); got != 100 {
		t.Errorf("supply = %d, want 100", got)
	}
}

func TestTransferInsufficient(t *testing.T) {
	tok := New()
	tok.Mint("alice", 10)
	err := tok.Transfer("alice", "bob", 11)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}
	// failed transfer must not move anything
	if tok.BalanceOf("alice") != 10 || tok.BalanceOf("bob") != 0 {
		t.Error("failed transfer must leave balances untouched")
	}
}

func TestApproveTransferFrom(t *testing.T) {
	tok := New()
	tok.Mint("alice", 100)
	tok.Approve("alice", "collector", 30)

	if err := tok.TransferFrom("collector", "alice", "pool", 20); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if got := tok.Allowance("alice", "collector"); got != 10 {
		t.Errorf("allowance = %d, want 10", got)
	}

	err := tok.TransferFrom("collector", "alice", "pool", 11)
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("over-allowance error = %v, want ErrNotAuthorized", err)
	}
}
