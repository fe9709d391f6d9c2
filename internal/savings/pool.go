// Package savings implements the demurrage-adjusted savings pool. Members
// stake ledger credits; when a credit line defaults, the issuer routes the
// lost debt here and every staked balance is haircut proportionally. Each
// haircut is recorded as the exact totalAfter/totalBefore ratio it applied
// to the pool, and accounts settle lazily against the chain of haircuts
// they missed the next time they are touched (checkpoint pattern). A
// settlement floors once per haircut, exactly matching an account that
// settled eagerly after every default. Demurrage itself is O(1); the chain
// is compacted on snapshot, so its length is bounded by the defaults since
// the last persistence cycle.
//
// Reward accrual uses the accumulator-based staking-rewards pattern: a
// global reward-per-token figure advances on every state-mutating call and
// accounts checkpoint against it.
package savings

import (
	"sync"
	"time"

	"github.com/clearline-network/clearline/internal/domain"
)

// demurrageEvent is one partial haircut, kept as the exact ratio it
// scaled the pool by.
type demurrageEvent struct {
	after  uint64 // totalSavings after the haircut
	before uint64 // totalSavings before the haircut
}

// CreditLedger is the slice of the ledger the pool needs.
type CreditLedger interface {
	BalanceOf(addr domain.Address) uint64
	NetworkDebt() uint64
	Transfer(caller, from, to domain.Address, amount uint64) (domain.TransferReceipt, error)
	BurnNetworkDebt(caller, payer domain.Address, amount uint64) error
}

// Pool is the savings pool engine.
type Pool struct {
	mu     sync.Mutex
	busy   bool // reentrancy guard on value-moving entry points
	auth   domain.Authorizer
	ledger CreditLedger
	token  domain.ValueToken
	clock  func() time.Time

	accounts map[domain.Address]*domain.SavingsAccount

	// Demurrage accounting. Invariant: demurrageIndex == indexBase + len(events);
	// an account settled at index k has events[k-indexBase:] still to apply.
	totalSavings   uint64 // settled staked credits (== pool's ledger balance)
	demurraged     uint64 // cumulative unreimbursed losses
	events         []demurrageEvent
	indexBase      uint64
	demurrageIndex uint64
	wipeEpoch      uint64
	reimbursements uint64 // reserve units claimable against losses

	// Reward accounting (reserve units).
	rewardsDuration      time.Duration
	periodFinish         time.Time
	rewardRate           uint64 // reserve units per second
	lastUpdateTime       time.Time
	rewardPerTokenStored uint64 // 1e18-scaled
	rewardBalance        uint64 // undistributed reserve units held by the pool
}

// New creates an empty pool with the given reward period length.
func New(auth domain.Authorizer, l CreditLedger, tok domain.ValueToken, rewardsDuration time.Duration) *Pool {
	return &Pool{
		auth:            auth,
		ledger:          l,
		token:           tok,
		clock:           time.Now,
		accounts:        make(map[domain.Address]*domain.SavingsAccount),
		rewardsDuration: rewardsDuration,
	}
}

// WithClock overrides the pool clock for deterministic tests.
func (p *Pool) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
}

// ─── Lazy Settlement ────────────────────────────────────────────────────────

// settle brings an account's staked amount up to date with every haircut
// it missed. Idempotent: a second call with no intervening demurrage
// changes nothing. Caller holds p.mu.
func (p *Pool) settle(acc *domain.SavingsAccount) {
	if acc.WipeEpoch < p.wipeEpoch {
		// Everything staked before a full wipe is gone.
		acc.LostPrincipal += acc.StakedAmount
		acc.StakedAmount = 0
	} else if acc.DemurrageIndex < p.demurrageIndex && acc.StakedAmount > 0 {
		settled := p.settledStake(acc)
		acc.LostPrincipal += acc.StakedAmount - settled
		acc.StakedAmount = settled
	}
	acc.DemurrageIndex = p.demurrageIndex
	acc.WipeEpoch = p.wipeEpoch
}

// settledStake replays the haircuts the account missed, flooring once per
// event exactly as an eager settlement would have. Read-only on acc; the
// account must be from the current wipe epoch. Caller holds p.mu.
func (p *Pool) settledStake(acc *domain.SavingsAccount) uint64 {
	stake := acc.StakedAmount
	for _, ev := range p.events[acc.DemurrageIndex-p.indexBase:] {
		v, err := domain.MulDiv(stake, ev.after, ev.before)
		if err != nil {
			return 0
		}
		stake = v
	}
	return stake
}

// lastTimeRewardApplicable is min(now, periodFinish). Caller holds p.mu.
func (p *Pool) lastTimeRewardApplicable() time.Time {
	now := p.clock()
	if now.After(p.periodFinish) {
		return p.periodFinish
	}
	return now
}

// rewardPerToken returns the current 1e18-scaled accumulator value.
// Caller holds p.mu.
func (p *Pool) rewardPerToken() uint64 {
	if p.totalSavings == 0 {
		return p.rewardPerTokenStored
	}
	elapsed := p.lastTimeRewardApplicable().Sub(p.lastUpdateTime)
	if elapsed <= 0 {
		return p.rewardPerTokenStored
	}
	accrued, err := domain.MulDiv(uint64(elapsed/time.Second)*p.rewardRate, domain.RateScale, p.totalSavings)
	if err != nil {
		return p.rewardPerTokenStored
	}
	return p.rewardPerTokenStored + accrued
}

// updateReward advances the accumulator and checkpoints acc against it.
// acc must already be settled. Caller holds p.mu.
func (p *Pool) updateReward(acc *domain.SavingsAccount) {
	p.rewardPerTokenStored = p.rewardPerToken()
	p.lastUpdateTime = p.lastTimeRewardApplicable()
	if acc == nil {
		return
	}
	delta := p.rewardPerTokenStored - acc.RewardPerTokenPaid
	earned, err := domain.MulDiv(acc.StakedAmount, delta, domain.RateScale)
	if err == nil {
		acc.PendingReward += earned
	}
	acc.RewardPerTokenPaid = p.rewardPerTokenStored
}

// touch settles and reward-checkpoints the account. Caller holds p.mu.
func (p *Pool) touch(member domain.Address) *domain.SavingsAccount {
	acc, ok := p.accounts[member]
	if !ok {
		acc = &domain.SavingsAccount{
			DemurrageIndex: p.demurrageIndex,
			WipeEpoch:      p.wipeEpoch,
		}
		p.accounts[member] = acc
	}
	p.settle(acc)
	p.updateReward(acc)
	return acc
}

// enter sets the reentrancy guard; exit clears it. Value-moving entry
// points refuse reentrant invocation outright. The guard spans the
// outbound ledger/token transfer, which runs outside the state mutex with
// internal accounting already updated — a callee that re-invokes the pool
// is rejected here instead of deadlocking or double-spending.
func (p *Pool) enter(op string) error {
	if p.busy {
		return domain.Errf(domain.KindStateError, op, domain.ErrReentrantCall)
	}
	p.busy = true
	return nil
}

func (p *Pool) exit() {
	p.mu.Lock()
	p.busy = false
	p.mu.Unlock()
}

// ─── Views ──────────────────────────────────────────────────────────────────

// BalanceOf returns the member's settled redeemable stake without mutating
// the account.
func (p *Pool) BalanceOf(member domain.Address) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[member]
	if !ok {
		return 0
	}
	if acc.WipeEpoch < p.wipeEpoch {
		return 0
	}
	return p.settledStake(acc)
}

// EarnedReward returns the member's claimable reward as of now.
func (p *Pool) EarnedReward(member domain.Address) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[member]
	if !ok {
		return 0
	}
	cp := *acc
	p.settle(&cp)
	delta := p.rewardPerToken() - cp.RewardPerTokenPaid
	earned, err := domain.MulDiv(cp.StakedAmount, delta, domain.RateScale)
	if err != nil {
		return cp.PendingReward
	}
	return cp.PendingReward + earned
}

// State returns a snapshot of the pool's global accumulators.
func (p *Pool) State() domain.SavingsState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.SavingsState{
		TotalSavings:   p.totalSavings,
		Demurraged:     p.demurraged,
		DemurrageIndex: p.demurrageIndex,
		WipeEpoch:      p.wipeEpoch,
		Reimbursements: p.reimbursements,
	}
}

// ─── Staking ────────────────────────────────────────────────────────────────

// Stake moves amount of the member's liquid ledger balance into the pool.
// Staking is disabled while the network carries unresolved socialized debt.
func (p *Pool) Stake(member domain.Address, amount uint64) error {
	const op = "savings.stake"
	p.mu.Lock()
	if err := p.enter(op); err != nil {
		p.mu.Unlock()
		return err
	}
	defer p.exit()

	fail := func(err error) error {
		p.mu.Unlock()
		return err
	}
	if !p.auth.IsMember(member) {
		return fail(domain.Errf(domain.KindAuthorization, op, domain.ErrNotMember))
	}
	if amount == 0 {
		return fail(domain.Errf(domain.KindStateError, op, domain.ErrZeroAmount))
	}
	if p.ledger.NetworkDebt() > 0 {
		return fail(domain.Errf(domain.KindStateError, op, domain.ErrStakingDisabled))
	}
	// Staking must never mint sender debt: require the liquid balance.
	if p.ledger.BalanceOf(member) < amount {
		return fail(domain.Errf(domain.KindInvariantViolation, op, domain.ErrInsufficientBalance))
	}

	acc := p.touch(member)
	newStake, err := domain.AddChecked(acc.StakedAmount, amount)
	if err != nil {
		return fail(domain.Errf(domain.KindArithmeticBound, op, err))
	}
	newTotal, err := domain.AddChecked(p.totalSavings, amount)
	if err != nil {
		return fail(domain.Errf(domain.KindArithmeticBound, op, err))
	}
	acc.StakedAmount = newStake
	p.totalSavings = newTotal
	p.mu.Unlock()

	if _, err := p.ledger.Transfer(domain.SavingsPoolAccount, member, domain.SavingsPoolAccount, amount); err != nil {
		p.mu.Lock()
		acc.StakedAmount -= amount
		p.totalSavings -= amount
		p.mu.Unlock()
		return err
	}
	return nil
}

// Withdraw returns amount of the member's settled stake to their ledger
// balance. Withdrawing past the settled (post-demurrage) balance fails.
func (p *Pool) Withdraw(member domain.Address, amount uint64) error {
	const op = "savings.withdraw"
	p.mu.Lock()
	if err := p.enter(op); err != nil {
		p.mu.Unlock()
		return err
	}
	defer p.exit()

	if amount == 0 {
		p.mu.Unlock()
		return domain.Errf(domain.KindStateError, op, domain.ErrZeroAmount)
	}
	acc := p.touch(member)
	if acc.StakedAmount < amount {
		p.mu.Unlock()
		return domain.Errf(domain.KindInvariantViolation, op, domain.ErrInsufficientBalance)
	}

	// Internal accounting first, outbound transfer second.
	acc.StakedAmount -= amount
	p.totalSavings -= amount
	p.mu.Unlock()

	if _, err := p.ledger.Transfer(domain.SavingsPoolAccount, domain.SavingsPoolAccount, member, amount); err != nil {
		p.mu.Lock()
		acc.StakedAmount += amount
		p.totalSavings += amount
		p.mu.Unlock()
		return err
	}
	return nil
}

// ─── Rewards ────────────────────────────────────────────────────────────────

// NotifyRewardAmount adds amount of reserve units (already delivered to the
// pool's token account) to the reward schedule. Restricted to operators and
// the automation role.
func (p *Pool) NotifyRewardAmount(caller domain.Address, amount uint64) error {
	const op = "savings.notify_reward"
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.auth.IsOperator(caller) && !p.auth.HasRole(caller, domain.RoleAutomation) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if amount == 0 {
		return domain.Errf(domain.KindStateError, op, domain.ErrZeroAmount)
	}
	if p.rewardsDuration <= 0 {
		return domain.Errf(domain.KindStateError, op, domain.ErrInvalidTerm)
	}
	p.updateReward(nil)

	now := p.clock()
	secs := uint64(p.rewardsDuration / time.Second)
	// The undelivered tail of a running period rolls into the new rate, but
	// only the freshly delivered amount joins the payable balance: the tail
	// was already counted when its own notify ran.
	schedule := amount
	if now.Before(p.periodFinish) {
		remaining := uint64(p.periodFinish.Sub(now) / time.Second)
		schedule += remaining * p.rewardRate
	}
	p.rewardRate = schedule / secs
	p.lastUpdateTime = now
	p.periodFinish = now.Add(p.rewardsDuration)
	p.rewardBalance += amount
	return nil
}

// ClaimReward pays out the member's accrued reward in reserve units.
func (p *Pool) ClaimReward(member domain.Address) (uint64, error) {
	const op = "savings.claim_reward"
	p.mu.Lock()
	if err := p.enter(op); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	defer p.exit()

	acc := p.touch(member)
	reward := acc.PendingReward
	if reward > p.rewardBalance {
		reward = p.rewardBalance
	}
	if reward == 0 {
		p.mu.Unlock()
		return 0, domain.Errf(domain.KindStateError, op, domain.ErrNothingToClaim)
	}

	acc.PendingReward -= reward
	p.rewardBalance -= reward
	p.mu.Unlock()

	if err := p.token.Transfer(domain.SavingsPoolAccount, member, reward); err != nil {
		p.mu.Lock()
		acc.PendingReward += reward
		p.rewardBalance += reward
		p.mu.Unlock()
		return 0, err
	}
	return reward, nil
}

// ─── Demurrage ──────────────────────────────────────────────────────────────

// Demurrage absorbs up to amount of a defaulted member's written-off debt
// into the pool by haircutting all staked balances pro rata, and returns
// the remainder the pool could not absorb. Restricted to the issuer.
//
// The haircut is O(1): it appends one ratio to the event chain and the
// absorbed credits are burned against the network debt just socialized by
// the caller. Staked balances settle against the chain lazily.
func (p *Pool) Demurrage(caller, member domain.Address, amount uint64) (uint64, error) {
	const op = "savings.demurrage"
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.auth.IsIssuer(caller) {
		return 0, domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if amount == 0 {
		return 0, nil
	}
	absorbed := amount
	if absorbed > p.totalSavings {
		absorbed = p.totalSavings
	}
	if absorbed == 0 {
		return amount, nil
	}
	// The caller must have socialized at least this much debt already:
	// checked up front so a failure leaves the pool untouched.
	if p.ledger.NetworkDebt() < absorbed {
		return 0, domain.Errf(domain.KindStateError, op, domain.ErrInvalidTerm)
	}

	p.demurrageIndex++
	if absorbed == p.totalSavings {
		// Full wipe: fresh epoch for future stakers, no events to replay.
		p.wipeEpoch++
		p.events = nil
		p.indexBase = p.demurrageIndex
	} else {
		p.events = append(p.events, demurrageEvent{after: p.totalSavings - absorbed, before: p.totalSavings})
	}
	p.demurraged += absorbed
	p.totalSavings -= absorbed

	// Burn the absorbed credits against the freshly socialized debt.
	if err := p.ledger.BurnNetworkDebt(domain.SavingsPoolAccount, domain.SavingsPoolAccount, absorbed); err != nil {
		return 0, err
	}
	return amount - absorbed, nil
}

// ─── Reimbursement ──────────────────────────────────────────────────────────

// NotifyReimbursement adds amount of reserve units (already delivered to
// the pool's token account) to the reimbursement bucket. Restricted to
// operators and the issuer.
func (p *Pool) NotifyReimbursement(caller domain.Address, amount uint64) error {
	const op = "savings.notify_reimbursement"
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.auth.IsOperator(caller) && !p.auth.IsIssuer(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	p.reimbursements += amount
	return nil
}

// ClaimReimbursement pays the member their share of reimbursed principal,
// proportional to their demurraged losses, in reserve units.
func (p *Pool) ClaimReimbursement(member domain.Address) (uint64, error) {
	const op = "savings.claim_reimbursement"
	p.mu.Lock()
	if err := p.enter(op); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	defer p.exit()

	acc := p.touch(member)
	if acc.LostPrincipal == 0 || p.demurraged == 0 {
		p.mu.Unlock()
		return 0, domain.Errf(domain.KindStateError, op, domain.ErrNothingToClaim)
	}
	share, err := domain.MulDiv(acc.LostPrincipal, p.reimbursements, p.demurraged)
	if err != nil {
		p.mu.Unlock()
		return 0, domain.Errf(domain.KindArithmeticBound, op, err)
	}
	if share > p.reimbursements {
		share = p.reimbursements
	}
	if share == 0 {
		p.mu.Unlock()
		return 0, domain.Errf(domain.KindStateError, op, domain.ErrNothingToClaim)
	}

	lost := acc.LostPrincipal
	prevDemurraged := p.demurraged
	acc.LostPrincipal = 0
	// Settlement floors individual balances, so summed per-account losses
	// can exceed the global counter by a few units.
	if lost >= p.demurraged {
		p.demurraged = 0
	} else {
		p.demurraged -= lost
	}
	p.reimbursements -= share
	p.mu.Unlock()

	if err := p.token.Transfer(domain.SavingsPoolAccount, member, share); err != nil {
		p.mu.Lock()
		acc.LostPrincipal = lost
		p.demurraged = prevDemurraged
		p.reimbursements += share
		p.mu.Unlock()
		return 0, err
	}
	return share, nil
}

// ─── Persistence Hooks ──────────────────────────────────────────────────────

// Snapshot settles every account, compacts the event chain, and returns
// the pool's global state plus a copy of every account. Settling here is
// what lets the persisted form carry no event chain: every restored
// account is current as of the snapshot's demurrage index.
func (p *Pool) Snapshot() (domain.SavingsState, map[domain.Address]domain.SavingsAccount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	accounts := make(map[domain.Address]domain.SavingsAccount, len(p.accounts))
	for addr, acc := range p.accounts {
		p.settle(acc)
		accounts[addr] = *acc
	}
	p.events = nil
	p.indexBase = p.demurrageIndex
	return domain.SavingsState{
		TotalSavings:   p.totalSavings,
		Demurraged:     p.demurraged,
		DemurrageIndex: p.demurrageIndex,
		WipeEpoch:      p.wipeEpoch,
		Reimbursements: p.reimbursements,
	}, accounts
}

// Restore replaces pool state from a snapshot. Snapshot accounts are
// always settled, so the restored pool starts with an empty event chain.
func (p *Pool) Restore(state domain.SavingsState, accounts map[domain.Address]domain.SavingsAccount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalSavings = state.TotalSavings
	p.demurraged = state.Demurraged
	p.demurrageIndex = state.DemurrageIndex
	p.events = nil
	p.indexBase = state.DemurrageIndex
	p.wipeEpoch = state.WipeEpoch
	p.reimbursements = state.Reimbursements
	p.accounts = make(map[domain.Address]*domain.SavingsAccount, len(accounts))
	for addr, acc := range accounts {
		cp := acc
		p.accounts[addr] = &cp
	}
}
