package sqlite

import (
	"testing"
	"time"

	"github.com/clearline-network/clearline/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAccountsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	accounts := map[domain.Address]domain.CreditLine{
		"alice":                   {Balance: 40, Debt: 0, Limit: 100},
		"bob":                     {Balance: 0, Debt: 60, Limit: 100},
		domain.NetworkDebtAccount: {Limit: ^uint64(0)},
	}
	if err := db.SaveAccounts(accounts); err != nil {
		t.Fatalf("SaveAccounts failed: %v", err)
	}

	got, err := db.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts failed: %v", err)
	}
	if len(got) != len(accounts) {
		t.Fatalf("loaded %d accounts, want %d", len(got), len(accounts))
	}
	for addr, want := range accounts {
		if got[addr] != want {
			t.Errorf("account %s = %+v, want %+v", addr, got[addr], want)
		}
	}

	// Save again with a removed account: the table is fully replaced.
	delete(accounts, "bob")
	if err := db.SaveAccounts(accounts); err != nil {
		t.Fatal(err)
	}
	got, _ = db.LoadAccounts()
	if _, ok := got["bob"]; ok {
		t.Error("removed account survived a save")
	}
}

func TestPeriodsAndTermsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	periods := map[domain.Address]domain.CreditPeriod{
		"alice": {
			IssuedAt:         issued,
			PeriodExpiration: issued.Add(30 * 24 * time.Hour),
			GraceExpiration:  issued.Add(40 * 24 * time.Hour),
			PeriodLength:     30 * 24 * time.Hour,
			GraceLength:      10 * 24 * time.Hour,
		},
	}
	terms := map[domain.Address]domain.CreditTerms{
		"alice": {Rebalanced: true, PeriodIncome: 55, FeeRate: 10_000, MinITD: 200_000, Paused: false},
	}

	if err := db.SavePeriods(periods); err != nil {
		t.Fatalf("SavePeriods failed: %v", err)
	}
	if err := db.SaveTerms(terms); err != nil {
		t.Fatalf("SaveTerms failed: %v", err)
	}

	gotP, err := db.LoadPeriods()
	if err != nil {
		t.Fatalf("LoadPeriods failed: %v", err)
	}
	p := gotP["alice"]
	want := periods["alice"]
	if !p.IssuedAt.Equal(want.IssuedAt) || !p.PeriodExpiration.Equal(want.PeriodExpiration) ||
		!p.GraceExpiration.Equal(want.GraceExpiration) ||
		p.PeriodLength != want.PeriodLength || p.GraceLength != want.GraceLength {
		t.Errorf("period = %+v, want %+v", p, want)
	}

	gotT, err := db.LoadTerms()
	if err != nil {
		t.Fatalf("LoadTerms failed: %v", err)
	}
	if gotT["alice"] != terms["alice"] {
		t.Errorf("terms = %+v, want %+v", gotT["alice"], terms["alice"])
	}
}

func TestRolesRoundTrip(t *testing.T) {
	db := openTestDB(t)

	roles := map[domain.Address][]domain.Role{
		"alice": {domain.RoleMember},
		"op":    {domain.RoleOperator, domain.RoleAdmin},
	}
	if err := db.SaveRoles(roles); err != nil {
		t.Fatalf("SaveRoles failed: %v", err)
	}
	got, err := db.LoadRoles()
	if err != nil {
		t.Fatalf("LoadRoles failed: %v", err)
	}
	if len(got["op"]) != 2 {
		t.Errorf("op roles = %v, want 2 roles", got["op"])
	}
	if len(got["alice"]) != 1 || got["alice"][0] != domain.RoleMember {
		t.Errorf("alice roles = %v", got["alice"])
	}
}

func TestReserveStateRoundTrip(t *testing.T) {
	db := openTestDB(t)

	// Fresh database: zero value, no error.
	s, err := db.LoadReserveState()
	if err != nil {
		t.Fatalf("LoadReserveState on empty db failed: %v", err)
	}
	if s != (domain.ReserveState{}) {
		t.Errorf("empty db reserve state = %+v, want zero", s)
	}

	want := domain.ReserveState{
		ReserveBalance:  300,
		OperatorBalance: 30,
		TargetRTD:       250_000,
		OperatorPercent: 300_000,
		SinkPercent:     200_000,
		Sink:            "sink",
	}
	if err := db.SaveReserveState(want); err != nil {
		t.Fatalf("SaveReserveState failed: %v", err)
	}
	// Upsert twice to exercise the conflict path.
	want.ReserveBalance = 350
	if err := db.SaveReserveState(want); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadReserveState()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("reserve state = %+v, want %+v", got, want)
	}
}

func TestSavingsStateRoundTrip(t *testing.T) {
	db := openTestDB(t)

	state := domain.SavingsState{
		TotalSavings:   15,
		Demurraged:     5,
		DemurrageIndex: 1,
		WipeEpoch:      0,
		Reimbursements: 2,
	}
	accounts := map[domain.Address]domain.SavingsAccount{
		"ann": {StakedAmount: 4, DemurrageIndex: 1, LostPrincipal: 3},
		"ben": {StakedAmount: 5, DemurrageIndex: 1, PendingReward: 7},
	}
	if err := db.SaveSavingsState(state, accounts); err != nil {
		t.Fatalf("SaveSavingsState failed: %v", err)
	}

	gotState, gotAccounts, err := db.LoadSavingsState()
	if err != nil {
		t.Fatalf("LoadSavingsState failed: %v", err)
	}
	if gotState != state {
		t.Errorf("state = %+v, want %+v", gotState, state)
	}
	for member, want := range accounts {
		if gotAccounts[member] != want {
			t.Errorf("account %s = %+v, want %+v", member, gotAccounts[member], want)
		}
	}
}

func TestTransferJournal(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	recs := []domain.TransferReceipt{
		{ID: "t1", From: "alice", To: "bob", Amount: 50, Minted: 50, Timestamp: base},
		{ID: "t2", From: "bob", To: "cleo", Amount: 20, Burned: 20, FeePaid: 1, Timestamp: base.Add(time.Minute)},
		{ID: "t3", From: "cleo", To: "alice", Amount: 5, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, r := range recs {
		if err := db.RecordTransfer(r); err != nil {
			t.Fatalf("RecordTransfer(%s) failed: %v", r.ID, err)
		}
	}
	// Duplicate ids are ignored, not errors: replays must be harmless.
	if err := db.RecordTransfer(recs[0]); err != nil {
		t.Fatalf("duplicate RecordTransfer failed: %v", err)
	}

	all, err := db.ListTransfers(10)
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("journal has %d entries, want 3", len(all))
	}
	if all[0].ID != "t3" {
		t.Errorf("newest entry = %s, want t3", all[0].ID)
	}
	if all[2] != recs[0] {
		t.Errorf("entry = %+v, want %+v", all[2], recs[0])
	}

	mine, err := db.TransfersFor("alice", 10)
	if err != nil {
		t.Fatalf("TransfersFor failed: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("alice touches %d entries, want 2 (t1, t3)", len(mine))
	}

	limited, _ := db.ListTransfers(1)
	if len(limited) != 1 || limited[0].ID != "t3" {
		t.Errorf("limited list = %+v", limited)
	}
}
