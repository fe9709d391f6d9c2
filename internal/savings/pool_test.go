package savings

import (
	"errors"
	"testing"
	"time"

	"github.com/clearline-network/clearline/internal/access"
	"github.com/clearline-network/clearline/internal/domain"
	"github.com/clearline-network/clearline/internal/ledger"
	"github.com/clearline-network/clearline/internal/token"
)

// testClock is a manually advanced clock shared by ledger and pool.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fixture wires a ledger, token and pool. dora funds ann/ben/cleo against
// her own (large) credit line; eve is a small-limit member whose default
// the demurrage tests socialize.
type fixture struct {
	reg    *access.Registry
	ledger *ledger.Ledger
	token  *token.Token
	pool   *Pool
	clock  *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := access.NewRegistry()
	for _, m := range []domain.Address{"ann", "ben", "cleo", "dora", "eve"} {
		reg.Grant(m, domain.RoleMember)
	}
	reg.Grant(domain.SavingsPoolAccount, domain.RoleOperator)
	reg.Grant(domain.CreditIssuerAccount, domain.RoleIssuer)
	reg.Grant("op", domain.RoleOperator)

	clock := &testClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	l := ledger.New(reg)
	l.WithClock(clock.Now)
	tok := token.New()
	pool := New(reg, l, tok, 10*time.Minute)
	pool.WithClock(clock.Now)

	if err := l.SetLimit(domain.CreditIssuerAccount, "dora", 1_000); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	for _, m := range []domain.Address{"ann", "ben", "cleo"} {
		if _, err := l.Transfer("dora", "dora", m, 100); err != nil {
			t.Fatalf("funding %s failed: %v", m, err)
		}
	}
	if err := l.SetLimit(domain.CreditIssuerAccount, "eve", 20); err != nil {
		t.Fatalf("SetLimit(eve) failed: %v", err)
	}
	if _, err := l.Transfer("eve", "eve", "ann", 20); err != nil {
		t.Fatalf("eve spend failed: %v", err)
	}
	return &fixture{reg: reg, ledger: l, token: tok, pool: pool, clock: clock}
}

// socializeEveDebt writes eve's 20-credit debt off to the network debt
// account, the way the issuer does on default.
func (f *fixture) socializeEveDebt(t *testing.T) {
	t.Helper()
	if _, err := f.ledger.WriteOffDebt(domain.CreditIssuerAccount, "eve"); err != nil {
		t.Fatalf("WriteOffDebt(eve) failed: %v", err)
	}
}

func TestStakeWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t)

	balBefore := f.ledger.BalanceOf("ann")
	if err := f.pool.Stake("ann", 40); err != nil {
		t.Fatalf("Stake failed: %v", err)
	}
	if got := f.pool.BalanceOf("ann"); got != 40 {
		t.Errorf("staked balance = %d, want 40", got)
	}
	if got := f.pool.State().TotalSavings; got != 40 {
		t.Errorf("total savings = %d, want 40", got)
	}

	if err := f.pool.Withdraw("ann", 40); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if got := f.ledger.BalanceOf("ann"); got != balBefore {
		t.Errorf("ledger balance = %d, want %d (exact round trip)", got, balBefore)
	}
	if got := f.pool.State().TotalSavings; got != 0 {
		t.Errorf("total savings = %d, want 0", got)
	}
}

func TestStakeRequiresLiquidBalance(t *testing.T) {
	f := newFixture(t)
	err := f.pool.Stake("ann", f.ledger.BalanceOf("ann")+1)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance (staking never mints debt)", err)
	}
}

func TestStakeDisabledWhileNetworkDebtOutstanding(t *testing.T) {
	f := newFixture(t)
	f.socializeEveDebt(t)

	err := f.pool.Stake("ann", 10)
	if !errors.Is(err, domain.ErrStakingDisabled) {
		t.Fatalf("error = %v, want ErrStakingDisabled", err)
	}
}

// Scenario: three members stake 15 in total; a default demurrages 5.
// Every redeemable balance is floor(stake · 10/15).
func TestDemurrageProportionalHaircut(t *testing.T) {
	f := newFixture(t)
	stakes := map[domain.Address]uint64{"ann": 7, "ben": 5, "cleo": 3}
	for m, amt := range stakes {
		if err := f.pool.Stake(m, amt); err != nil {
			t.Fatalf("Stake(%s) failed: %v", m, err)
		}
	}

	f.socializeEveDebt(t)
	leftover, err := f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 5)
	if err != nil {
		t.Fatalf("Demurrage failed: %v", err)
	}
	if leftover != 0 {
		t.Errorf("leftover = %d, want 0 (pool covers the full loss)", leftover)
	}

	state := f.pool.State()
	if state.TotalSavings != 10 {
		t.Errorf("total savings = %d, want 10", state.TotalSavings)
	}
	if state.DemurrageIndex != 1 {
		t.Errorf("demurrageIndex = %d, want 1", state.DemurrageIndex)
	}

	// floor(stake · 2/3) per member.
	wantBalances := map[domain.Address]uint64{"ann": 4, "ben": 3, "cleo": 2}
	for m, want := range wantBalances {
		if got := f.pool.BalanceOf(m); got != want {
			t.Errorf("%s redeemable = %d, want %d", m, got, want)
		}
	}

	// The absorbed credits were burned against the network debt.
	if got := f.ledger.NetworkDebt(); got != 15 {
		t.Errorf("network debt = %d, want 15 (20 written off − 5 absorbed)", got)
	}
	// Supply stays zero-sum through write-off plus demurrage.
	if s, d := f.ledger.TotalSupply(), f.ledger.TotalDebt(); s != d {
		t.Errorf("supply %d != debt %d", s, d)
	}
}

// An account idle across several haircuts must settle to exactly what it
// would hold had it settled after each one.
func TestLazySettlementMatchesEager(t *testing.T) {
	f := newFixture(t)
	for m, amt := range map[domain.Address]uint64{"ann": 6, "ben": 6, "cleo": 3} {
		if err := f.pool.Stake(m, amt); err != nil {
			t.Fatalf("Stake(%s) failed: %v", m, err)
		}
	}

	f.socializeEveDebt(t)
	if _, err := f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 5); err != nil {
		t.Fatalf("first Demurrage failed: %v", err)
	}
	// ann settles eagerly between the haircuts; ben stays idle.
	_, _ = f.pool.ClaimReward("ann")
	if got := f.pool.BalanceOf("ann"); got != 4 {
		t.Fatalf("ann after first haircut = %d, want 4", got)
	}
	if _, err := f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 4); err != nil {
		t.Fatalf("second Demurrage failed: %v", err)
	}

	if ann, ben := f.pool.BalanceOf("ann"), f.pool.BalanceOf("ben"); ann != ben {
		t.Errorf("eager ann = %d, idle ben = %d, want equal", ann, ben)
	}
	// floor(6·10/15) = 4, then floor(4·6/10) = 2.
	if got := f.pool.BalanceOf("ben"); got != 2 {
		t.Errorf("ben redeemable = %d, want 2", got)
	}
	// floor(3·10/15) = 2, then floor(2·6/10) = 1.
	if got := f.pool.BalanceOf("cleo"); got != 1 {
		t.Errorf("cleo redeemable = %d, want 1", got)
	}
}

func TestDemurrageRestrictedToIssuer(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 10)
	if _, err := f.pool.Demurrage("ann", "eve", 5); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("error = %v, want ErrNotAuthorized", err)
	}
}

func TestDemurrageReturnsLeftoverWhenPoolTooSmall(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 10)
	f.socializeEveDebt(t)

	leftover, err := f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 20)
	if err != nil {
		t.Fatalf("Demurrage failed: %v", err)
	}
	if leftover != 10 {
		t.Errorf("leftover = %d, want 10", leftover)
	}
	// Full wipe: everything staked is gone, fresh epoch for new stakers.
	if got := f.pool.BalanceOf("ann"); got != 0 {
		t.Errorf("ann redeemable = %d, want 0 after full wipe", got)
	}
	state := f.pool.State()
	if state.WipeEpoch != 1 {
		t.Errorf("wipeEpoch = %d, want 1", state.WipeEpoch)
	}
}

func TestStakeAfterFullWipeUnaffectedByOldLosses(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 10)
	f.socializeEveDebt(t)
	f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 20) // absorbs 10, full wipe

	// Clear the remaining 10 of network debt so staking re-opens.
	if err := f.ledger.BurnNetworkDebt("ben", "ben", f.ledger.NetworkDebt()); err != nil {
		t.Fatalf("BurnNetworkDebt failed: %v", err)
	}
	if err := f.pool.Stake("cleo", 50); err != nil {
		t.Fatalf("Stake after wipe failed: %v", err)
	}
	if got := f.pool.BalanceOf("cleo"); got != 50 {
		t.Errorf("cleo redeemable = %d, want 50 (previous wipe must not touch her)", got)
	}
	if got := f.pool.BalanceOf("ann"); got != 0 {
		t.Errorf("ann redeemable = %d, want 0", got)
	}
}

// One account's stake/withdraw must never change another unrelated
// account's settled balance, no matter how it interleaves with demurrage.
func TestSettlementNonInterference(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 30)
	f.pool.Stake("ben", 60)

	f.socializeEveDebt(t)
	f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 9) // rate → 81/90 = 0.9

	annBefore := f.pool.BalanceOf("ann") // floor(30·0.9) = 27

	// ben churns: settle, withdraw, re-stake.
	if err := f.pool.Withdraw("ben", 10); err != nil {
		t.Fatalf("ben withdraw failed: %v", err)
	}
	if err := f.ledger.BurnNetworkDebt("cleo", "cleo", f.ledger.NetworkDebt()); err != nil {
		t.Fatalf("BurnNetworkDebt failed: %v", err)
	}
	if err := f.pool.Stake("ben", 5); err != nil {
		t.Fatalf("ben stake failed: %v", err)
	}

	if got := f.pool.BalanceOf("ann"); got != annBefore {
		t.Errorf("ann settled balance moved %d → %d on ben's activity", annBefore, got)
	}
	if got := f.pool.BalanceOf("ann"); got != 27 {
		t.Errorf("ann settled = %d, want 27", got)
	}
}

// Idempotence: settling an already-settled account changes nothing.
func TestSettlementIdempotent(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 30)
	f.socializeEveDebt(t)
	f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 3)

	first := f.pool.BalanceOf("ann")
	// A reward-less claim settles the account without moving stake.
	_, _ = f.pool.ClaimReward("ann")
	_, _ = f.pool.ClaimReward("ann")
	if got := f.pool.BalanceOf("ann"); got != first {
		t.Errorf("balance = %d after repeated settlement, want %d", got, first)
	}
}

func TestRewardAccrual(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 30)
	f.pool.Stake("ben", 10)

	// Fund the pool's token account and schedule 600 units over 10 minutes.
	f.token.Mint(domain.SavingsPoolAccount, 600)
	if err := f.pool.NotifyRewardAmount("op", 600); err != nil {
		t.Fatalf("NotifyRewardAmount failed: %v", err)
	}

	f.clock.Advance(5 * time.Minute) // half the period: 300 accrued over 40 staked

	if got := f.pool.EarnedReward("ann"); got != 225 {
		t.Errorf("ann earned = %d, want 225 (3/4 of 300)", got)
	}
	if got := f.pool.EarnedReward("ben"); got != 75 {
		t.Errorf("ben earned = %d, want 75 (1/4 of 300)", got)
	}

	paid, err := f.pool.ClaimReward("ann")
	if err != nil {
		t.Fatalf("ClaimReward failed: %v", err)
	}
	if paid != 225 {
		t.Errorf("paid = %d, want 225", paid)
	}
	if got := f.token.BalanceOf("ann"); got != 225 {
		t.Errorf("ann token balance = %d, want 225", got)
	}

	// Accrual stops at the period boundary.
	f.clock.Advance(20 * time.Minute)
	if got := f.pool.EarnedReward("ben"); got != 150 {
		t.Errorf("ben earned = %d, want 150 (full period share)", got)
	}
}

// Notifying mid-period rolls the undelivered tail into the new rate, but
// the payable balance only grows by what was actually delivered.
func TestNotifyRewardRolloverNotDoubleCounted(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 40)

	f.token.Mint(domain.SavingsPoolAccount, 1400)
	if err := f.pool.NotifyRewardAmount("op", 700); err != nil {
		t.Fatalf("first NotifyRewardAmount failed: %v", err)
	}
	f.clock.Advance(5 * time.Minute)
	if err := f.pool.NotifyRewardAmount("op", 700); err != nil {
		t.Fatalf("second NotifyRewardAmount failed: %v", err)
	}

	if got := f.pool.rewardBalance; got != 1400 {
		t.Errorf("rewardBalance = %d, want 1400 (only delivered units are payable)", got)
	}
}

func TestNotifyRewardRestricted(t *testing.T) {
	f := newFixture(t)
	if err := f.pool.NotifyRewardAmount("ann", 100); !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("error = %v, want ErrNotAuthorized", err)
	}
}

func TestClaimReimbursement(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 10)
	f.pool.Stake("ben", 30)

	f.socializeEveDebt(t)
	f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 20) // rate → 0.5

	// Reserve delivers 10 reserve units of reimbursement funding.
	f.token.Mint(domain.SavingsPoolAccount, 10)
	if err := f.pool.NotifyReimbursement("op", 10); err != nil {
		t.Fatalf("NotifyReimbursement failed: %v", err)
	}

	// ann lost 5 of 20 demurraged → floor(5·10/20) = 2 reserve units.
	paid, err := f.pool.ClaimReimbursement("ann")
	if err != nil {
		t.Fatalf("ClaimReimbursement failed: %v", err)
	}
	if paid != 2 {
		t.Errorf("paid = %d, want 2", paid)
	}
	if got := f.token.BalanceOf("ann"); got != 2 {
		t.Errorf("ann token balance = %d, want 2", got)
	}

	// A second claim with no new losses has nothing to pay.
	if _, err := f.pool.ClaimReimbursement("ann"); !errors.Is(err, domain.ErrNothingToClaim) {
		t.Errorf("second claim error = %v, want ErrNothingToClaim", err)
	}
}

// reentrantLedger re-invokes the pool from inside the outbound transfer,
// the way a malicious callee would.
type reentrantLedger struct {
	CreditLedger
	pool   *Pool
	gotErr error
}

func (r *reentrantLedger) Transfer(caller, from, to domain.Address, amount uint64) (domain.TransferReceipt, error) {
	r.gotErr = r.pool.Withdraw("ann", 1)
	return r.CreditLedger.Transfer(caller, from, to, amount)
}

func TestWithdrawReentrancyGuard(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 20)

	evil := &reentrantLedger{CreditLedger: f.ledger, pool: f.pool}
	f.pool.ledger = evil

	if err := f.pool.Withdraw("ann", 5); err != nil {
		t.Fatalf("outer withdraw failed: %v", err)
	}
	if !errors.Is(evil.gotErr, domain.ErrReentrantCall) {
		t.Fatalf("reentrant call error = %v, want ErrReentrantCall", evil.gotErr)
	}
	// Only the outer withdraw applied.
	if got := f.pool.BalanceOf("ann"); got != 15 {
		t.Errorf("ann staked = %d, want 15", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	f.pool.Stake("ann", 30)
	f.socializeEveDebt(t)
	f.pool.Demurrage(domain.CreditIssuerAccount, "eve", 3)

	state, accounts := f.pool.Snapshot()
	restored := New(f.reg, f.ledger, f.token, 10*time.Minute)
	restored.Restore(state, accounts)

	if got, want := restored.BalanceOf("ann"), f.pool.BalanceOf("ann"); got != want {
		t.Errorf("restored balance = %d, want %d", got, want)
	}
	if restored.State() != f.pool.State() {
		t.Errorf("restored state = %+v, want %+v", restored.State(), f.pool.State())
	}
}
