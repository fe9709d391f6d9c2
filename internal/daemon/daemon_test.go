package daemon

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/clearline-network/clearline/internal/domain"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "node.db")
	cfg.Automation.Enabled = false
	cfg.API.Metrics = false
	return cfg
}

func newTestDaemon(t *testing.T, cfg Config) *Daemon {
	t.Helper()
	d, err := New(cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDaemonWiring(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	defer d.Close()

	err := d.Issuer().InitializeCreditLine(domain.CreditIssuerAccount, "alice", 720*time.Hour, 240*time.Hour, 100, 0, 200_000, 0)
	if err != nil {
		t.Fatalf("init line: %v", err)
	}
	err = d.Issuer().InitializeCreditLine(domain.CreditIssuerAccount, "bob", 720*time.Hour, 240*time.Hour, 100, 0, 200_000, 0)
	if err != nil {
		t.Fatalf("init line: %v", err)
	}

	applied, rec, err := d.Orchestrator().Transfer("alice", "alice", "bob", 40)
	if err != nil || !applied {
		t.Fatalf("transfer: applied=%v err=%v", applied, err)
	}
	if rec.Minted != 40 {
		t.Errorf("minted = %d, want 40", rec.Minted)
	}
	if d.Ledger().TotalSupply() != d.Ledger().TotalDebt() {
		t.Errorf("supply %d != debt %d", d.Ledger().TotalSupply(), d.Ledger().TotalDebt())
	}
}

func TestDaemonPersistRestore(t *testing.T) {
	cfg := testConfig(t)

	d := newTestDaemon(t, cfg)
	err := d.Issuer().InitializeCreditLine(domain.CreditIssuerAccount, "alice", 720*time.Hour, 240*time.Hour, 100, 5000, 200_000, 0)
	if err != nil {
		t.Fatalf("init line: %v", err)
	}
	err = d.Issuer().InitializeCreditLine(domain.CreditIssuerAccount, "bob", 720*time.Hour, 240*time.Hour, 100, 0, 200_000, 0)
	if err != nil {
		t.Fatalf("init line: %v", err)
	}
	if _, _, err := d.Orchestrator().Transfer("alice", "alice", "bob", 25); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen against the same database.
	d2 := newTestDaemon(t, cfg)
	defer d2.Close()

	if got := d2.Ledger().DebtOf("alice"); got != 25 {
		t.Errorf("restored alice debt = %d, want 25", got)
	}
	if got := d2.Ledger().BalanceOf("bob"); got != 25 {
		t.Errorf("restored bob balance = %d, want 25", got)
	}
	if got := d2.Ledger().TotalSupply(); got != 25 {
		t.Errorf("restored supply = %d, want 25", got)
	}
	if got := d2.Issuer().FeeRateOf("alice"); got != 5000 {
		t.Errorf("restored alice fee rate = %d, want 5000", got)
	}

	st, err := d2.Orchestrator().StatusOf("bob")
	if err != nil {
		t.Fatalf("restored member status: %v", err)
	}
	if !st.InCompliance {
		t.Error("bob should be in compliance after restore")
	}

	// Membership survived, so transfers keep working.
	applied, _, err := d2.Orchestrator().Transfer("bob", "bob", "alice", 10)
	if err != nil || !applied {
		t.Fatalf("post-restore transfer: applied=%v err=%v", applied, err)
	}
	if got := d2.Ledger().DebtOf("alice"); got != 15 {
		t.Errorf("alice debt after repayment = %d, want 15", got)
	}
}

// At a nonzero fee rate the sender needs reserve units; minting them
// through the daemon's token is the funding path, and a funded transfer
// collects the fee instead of hard-failing.
func TestDaemonFeePathFunded(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	defer d.Close()

	// 1% fee, limit high enough for a 500-credit transfer.
	err := d.Issuer().InitializeCreditLine(domain.CreditIssuerAccount, "alice", 720*time.Hour, 240*time.Hour, 1000, 10_000, 200_000, 0)
	if err != nil {
		t.Fatalf("init line: %v", err)
	}
	err = d.Issuer().InitializeCreditLine(domain.CreditIssuerAccount, "bob", 720*time.Hour, 240*time.Hour, 1000, 10_000, 200_000, 0)
	if err != nil {
		t.Fatalf("init line: %v", err)
	}

	// Unfunded sender: the fee cannot be paid.
	if _, _, err := d.Orchestrator().Transfer("alice", "alice", "bob", 500); err == nil {
		t.Fatal("unfunded transfer at a nonzero fee rate should fail")
	}

	if err := d.Token().Mint("alice", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	applied, rec, err := d.Orchestrator().Transfer("alice", "alice", "bob", 500)
	if err != nil || !applied {
		t.Fatalf("funded transfer: applied=%v err=%v", applied, err)
	}
	if rec.FeePaid != 5 {
		t.Errorf("fee paid = %d, want 5 (1%% of 500 at par price)", rec.FeePaid)
	}
	if got := d.Token().BalanceOf("alice"); got != 5 {
		t.Errorf("alice token balance = %d, want 5 left", got)
	}
	if got := d.Token().BalanceOf(domain.FeeCollectorAccount); got != 5 {
		t.Errorf("fee collector balance = %d, want 5", got)
	}
}

func TestDaemonBadOraclePrice(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reserve.OraclePrice = "not-a-number"
	if _, err := New(cfg, log.New(io.Discard, "", 0)); err == nil {
		t.Fatal("expected error for malformed oracle price")
	}
}
