package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/clearline-network/clearline/internal/access"
	"github.com/clearline-network/clearline/internal/domain"
)

// newTestLedger returns a ledger with alice and bob as members holding
// 100-credit limits, plus an operator and the issuer service account.
func newTestLedger(t *testing.T) (*Ledger, *access.Registry) {
	t.Helper()
	reg := access.NewRegistry()
	reg.Grant("alice", domain.RoleMember)
	reg.Grant("bob", domain.RoleMember)
	reg.Grant("op", domain.RoleOperator)
	reg.Grant(domain.CreditIssuerAccount, domain.RoleIssuer)

	l := New(reg)
	l.WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) })
	for _, m := range []domain.Address{"alice", "bob"} {
		if err := l.SetLimit(domain.CreditIssuerAccount, m, 100); err != nil {
			t.Fatalf("SetLimit(%s) failed: %v", m, err)
		}
	}
	return l, reg
}

// checkZeroSum asserts the mutual-credit invariant: total supply equals
// total outstanding debt.
func checkZeroSum(t *testing.T, l *Ledger) {
	t.Helper()
	if s, d := l.TotalSupply(), l.TotalDebt(); s != d {
		t.Fatalf("supply %d != debt %d (mutual credit must be zero-sum)", s, d)
	}
}

func TestTransferMintsShortfall(t *testing.T) {
	l, _ := newTestLedger(t)

	r, err := l.Transfer("alice", "alice", "bob", 60)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if r.Minted != 60 {
		t.Errorf("minted = %d, want 60 (alice had no balance)", r.Minted)
	}
	if got := l.DebtOf("alice"); got != 60 {
		t.Errorf("alice debt = %d, want 60", got)
	}
	if got := l.BalanceOf("bob"); got != 60 {
		t.Errorf("bob balance = %d, want 60", got)
	}
	checkZeroSum(t, l)
}

func TestTransferBurnsRecipientDebt(t *testing.T) {
	l, _ := newTestLedger(t)

	// alice goes 60 into debt paying bob, then bob pays 80 back:
	// 60 burns alice's... no — bob has no debt; alice's debt burns when
	// alice *receives*. Set up: alice in debt, bob pays alice.
	if _, err := l.Transfer("alice", "alice", "bob", 60); err != nil {
		t.Fatalf("setup transfer failed: %v", err)
	}
	r, err := l.Transfer("bob", "bob", "alice", 80)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if r.Burned != 60 {
		t.Errorf("burned = %d, want 60 (alice's full debt)", r.Burned)
	}
	if r.Minted != 20 {
		t.Errorf("minted = %d, want 20 (bob spent 60 balance + 20 debt)", r.Minted)
	}
	if got := l.DebtOf("alice"); got != 0 {
		t.Errorf("alice debt = %d, want 0", got)
	}
	if got := l.BalanceOf("alice"); got != 20 {
		t.Errorf("alice balance = %d, want 20", got)
	}
	checkZeroSum(t, l)
}

func TestTransferPartialBurn(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Transfer("alice", "alice", "bob", 50)

	// bob sends 30 back: all of it burns alice's debt, none credited.
	r, err := l.Transfer("bob", "bob", "alice", 30)
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if r.Burned != 30 {
		t.Errorf("burned = %d, want 30", r.Burned)
	}
	if got := l.DebtOf("alice"); got != 20 {
		t.Errorf("alice debt = %d, want 20", got)
	}
	if got := l.BalanceOf("alice"); got != 0 {
		t.Errorf("alice balance = %d, want 0", got)
	}
	checkZeroSum(t, l)
}

func TestTransferExceedsLimitFailsAtomically(t *testing.T) {
	l, _ := newTestLedger(t)
	before := l.Snapshot()

	_, err := l.Transfer("alice", "alice", "bob", 101)
	if !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("error = %v, want ErrInsufficientCredit", err)
	}
	if domain.KindOf(err) != domain.KindInvariantViolation {
		t.Errorf("kind = %v, want InvariantViolation", domain.KindOf(err))
	}

	after := l.Snapshot()
	for addr, acc := range before {
		if after[addr] != acc {
			t.Errorf("account %s changed on failed transfer: %+v → %+v", addr, acc, after[addr])
		}
	}
	checkZeroSum(t, l)
}

func TestTransferAtExactLimit(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Transfer("alice", "alice", "bob", 100); err != nil {
		t.Fatalf("transfer at exact limit should succeed: %v", err)
	}
	if got := l.DebtOf("alice"); got != 100 {
		t.Errorf("alice debt = %d, want 100", got)
	}
	if _, err := l.Transfer("alice", "alice", "bob", 1); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("one past limit: error = %v, want ErrInsufficientCredit", err)
	}
}

func TestTransferAuthorization(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Transfer("bob", "alice", "bob", 10)
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("bob spending alice's credits: error = %v, want ErrNotAuthorized", err)
	}

	// Operators may move funds on behalf of members (pool operations).
	if _, err := l.Transfer("op", "alice", "bob", 10); err != nil {
		t.Fatalf("operator transfer failed: %v", err)
	}
}

func TestTransferRejectsZeroAndSelf(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Transfer("alice", "alice", "bob", 0); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("zero amount: error = %v, want ErrZeroAmount", err)
	}
	if _, err := l.Transfer("alice", "alice", "alice", 5); domain.KindOf(err) != domain.KindStateError {
		t.Errorf("self transfer: kind = %v, want StateError", domain.KindOf(err))
	}
}

func TestSetLimitBelowDebtRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Transfer("alice", "alice", "bob", 80)

	err := l.SetLimit(domain.CreditIssuerAccount, "alice", 50)
	if !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("error = %v, want ErrInsufficientCredit", err)
	}
	if got := l.LimitOf("alice"); got != 100 {
		t.Errorf("limit = %d, want unchanged 100", got)
	}

	if err := l.SetLimit("alice", "alice", 500); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("non-issuer SetLimit: error = %v, want ErrNotAuthorized", err)
	}
}

func TestMintDraw(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.MintDraw(domain.CreditIssuerAccount, "alice", 40); err != nil {
		t.Fatalf("MintDraw failed: %v", err)
	}
	if got := l.BalanceOf("alice"); got != 40 {
		t.Errorf("balance = %d, want 40", got)
	}
	if got := l.DebtOf("alice"); got != 40 {
		t.Errorf("debt = %d, want 40 (initial balance is drawn against the line)", got)
	}
	checkZeroSum(t, l)

	if err := l.MintDraw(domain.CreditIssuerAccount, "alice", 61); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Errorf("draw past limit: error = %v, want ErrInsufficientCredit", err)
	}
	if err := l.MintDraw("alice", "alice", 1); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Errorf("non-issuer MintDraw: error = %v, want ErrNotAuthorized", err)
	}
}

func TestWriteOffDebt(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Transfer("alice", "alice", "bob", 70)

	amount, err := l.WriteOffDebt(domain.CreditIssuerAccount, "alice")
	if err != nil {
		t.Fatalf("WriteOffDebt failed: %v", err)
	}
	if amount != 70 {
		t.Errorf("written off = %d, want 70", amount)
	}
	if got := l.DebtOf("alice"); got != 0 {
		t.Errorf("alice debt = %d, want 0", got)
	}
	if got := l.NetworkDebt(); got != 70 {
		t.Errorf("network debt = %d, want 70", got)
	}
	// Write-off socializes debt but never destroys supply.
	checkZeroSum(t, l)
}

func TestBurnNetworkDebt(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Transfer("alice", "alice", "bob", 70)
	l.WriteOffDebt(domain.CreditIssuerAccount, "alice")

	if err := l.BurnNetworkDebt("bob", "bob", 50); err != nil {
		t.Fatalf("BurnNetworkDebt failed: %v", err)
	}
	if got := l.NetworkDebt(); got != 20 {
		t.Errorf("network debt = %d, want 20", got)
	}
	if got := l.BalanceOf("bob"); got != 20 {
		t.Errorf("bob balance = %d, want 20", got)
	}
	checkZeroSum(t, l)

	if err := l.BurnNetworkDebt("bob", "bob", 21); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("burn past balance: error = %v, want ErrInsufficientBalance", err)
	}
}

func TestDebtNeverExceedsLimitProperty(t *testing.T) {
	l, _ := newTestLedger(t)

	// A pseudo-random walk of transfers; after every applied operation the
	// invariant must hold for both parties.
	amounts := []uint64{13, 97, 44, 5, 160, 72, 100, 1, 38, 250, 66}
	parties := [][2]domain.Address{{"alice", "bob"}, {"bob", "alice"}}
	for i, amt := range amounts {
		p := parties[i%2]
		l.Transfer(p[0], p[0], p[1], amt) // errors are expected for oversize amounts
		for _, m := range []domain.Address{"alice", "bob"} {
			if d, lim := l.DebtOf(m), l.LimitOf(m); d > lim {
				t.Fatalf("step %d: debt %d > limit %d for %s", i, d, lim, m)
			}
		}
		checkZeroSum(t, l)
	}
}

type captureRecorder struct {
	receipts []domain.TransferReceipt
}

func (c *captureRecorder) RecordTransfer(r domain.TransferReceipt) error {
	c.receipts = append(c.receipts, r)
	return nil
}

func TestTransferJournalled(t *testing.T) {
	l, _ := newTestLedger(t)
	rec := &captureRecorder{}
	l.SetRecorder(rec)

	l.Transfer("alice", "alice", "bob", 25)
	if len(rec.receipts) != 1 {
		t.Fatalf("recorded %d receipts, want 1", len(rec.receipts))
	}
	r := rec.receipts[0]
	if r.ID == "" {
		t.Error("receipt must carry an id")
	}
	if r.From != "alice" || r.To != "bob" || r.Amount != 25 {
		t.Errorf("receipt = %+v", r)
	}
}

func TestSnapshotRestore(t *testing.T) {
	l, reg := newTestLedger(t)
	l.Transfer("alice", "alice", "bob", 42)

	snap := l.Snapshot()
	restored := New(reg)
	restored.Restore(snap)

	if got := restored.DebtOf("alice"); got != 42 {
		t.Errorf("restored alice debt = %d, want 42", got)
	}
	if got := restored.BalanceOf("bob"); got != 42 {
		t.Errorf("restored bob balance = %d, want 42", got)
	}
	if restored.TotalSupply() != l.TotalSupply() || restored.TotalDebt() != l.TotalDebt() {
		t.Error("restored totals must match the source ledger")
	}
}
