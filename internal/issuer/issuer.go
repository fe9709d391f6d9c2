// Package issuer implements the credit-issuance state machine. Each member
// credit line lives in a time-boxed period: active until expiration, then
// a grace window during which a non-compliant member is frozen, and past
// grace either a renewal (terms reset, limit unchanged) or a terminal
// default that socializes the member's debt.
//
// There are no timers. Transitions are evaluated lazily on every transfer
// touching the member and through SyncCreditPeriod, which is idempotent:
// calling it any number of times with no intervening transfer leaves the
// state unchanged.
package issuer

import (
	"sync"
	"time"

	"github.com/clearline-network/clearline/internal/domain"
)

// CreditLedger is the slice of the ledger the issuer commands. The issuer
// never mutates ledger storage directly.
type CreditLedger interface {
	DebtOf(addr domain.Address) uint64
	LimitOf(addr domain.Address) uint64
	SetLimit(caller, member domain.Address, limit uint64) error
	MintDraw(caller, member domain.Address, amount uint64) error
	WriteOffDebt(caller, member domain.Address) (uint64, error)
}

// DebtAbsorber takes a defaulted member's debt and absorbs what it can,
// returning the remainder. Implemented by the savings pool.
type DebtAbsorber interface {
	Demurrage(caller, member domain.Address, amount uint64) (uint64, error)
}

// Roles extends the authorizer with grant/revoke: the issuer admits members
// when a line is opened and revokes them on default.
type Roles interface {
	domain.Authorizer
	Grant(addr domain.Address, role domain.Role)
	Revoke(addr domain.Address, role domain.Role)
}

// LineParams bundles the terms of a new credit line.
type LineParams struct {
	PeriodLength   time.Duration
	GraceLength    time.Duration
	Limit          uint64
	FeeRate        uint64 // PPM
	MinITD         uint64 // PPM
	InitialBalance uint64
}

// DefaultRecord logs one terminal default.
type DefaultRecord struct {
	Member     domain.Address `json:"member"`
	WrittenOff uint64         `json:"written_off"`
	Absorbed   uint64         `json:"absorbed"` // taken by the savings pool
	At         time.Time      `json:"at"`
}

// Issuer is the credit-issuance engine.
type Issuer struct {
	mu     sync.Mutex
	roles  Roles
	ledger CreditLedger
	pool   DebtAbsorber
	clock  func() time.Time

	periods  map[domain.Address]*domain.CreditPeriod
	terms    map[domain.Address]*domain.CreditTerms
	defaults []DefaultRecord

	// onDefault, when set, observes terminal defaults (metrics).
	onDefault func(rec DefaultRecord)
}

// New creates an issuer commanding the given ledger and absorbing defaults
// through pool.
func New(roles Roles, l CreditLedger, pool DebtAbsorber) *Issuer {
	return &Issuer{
		roles:   roles,
		ledger:  l,
		pool:    pool,
		clock:   time.Now,
		periods: make(map[domain.Address]*domain.CreditPeriod),
		terms:   make(map[domain.Address]*domain.CreditTerms),
	}
}

// WithClock overrides the issuer clock for deterministic tests.
func (i *Issuer) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.clock = clock
}

// OnDefault registers an observer for terminal defaults.
func (i *Issuer) OnDefault(fn func(rec DefaultRecord)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onDefault = fn
}

// ─── Credit Line Lifecycle ──────────────────────────────────────────────────

// InitializeCreditLine opens a credit line for member: grants membership,
// sets the ledger limit, optionally issues an initial balance drawn against
// the line, and starts the first period. Issuer-gated; fails if the member
// already holds a line.
func (i *Issuer) InitializeCreditLine(caller, member domain.Address, periodLength, graceLength time.Duration, limit, feeRate, minITD, initialBalance uint64) error {
	const op = "issuer.initialize_credit_line"
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.roles.IsIssuer(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if _, exists := i.periods[member]; exists {
		return domain.Errf(domain.KindStateError, op, domain.ErrCreditLineExists)
	}
	if periodLength <= 0 || graceLength < 0 || feeRate > domain.PPM || initialBalance > limit {
		return domain.Errf(domain.KindStateError, op, domain.ErrInvalidTerm)
	}

	if err := i.ledger.SetLimit(domain.CreditIssuerAccount, member, limit); err != nil {
		return err
	}
	if initialBalance > 0 {
		if err := i.ledger.MintDraw(domain.CreditIssuerAccount, member, initialBalance); err != nil {
			return err
		}
	}
	i.roles.Grant(member, domain.RoleMember)

	now := i.clock()
	i.periods[member] = &domain.CreditPeriod{
		IssuedAt:         now,
		PeriodExpiration: now.Add(periodLength),
		GraceExpiration:  now.Add(periodLength + graceLength),
		PeriodLength:     periodLength,
		GraceLength:      graceLength,
	}
	i.terms[member] = &domain.CreditTerms{FeeRate: feeRate, MinITD: minITD}
	return nil
}

// PeriodOf returns the member's credit period, if any.
func (i *Issuer) PeriodOf(member domain.Address) (domain.CreditPeriod, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.periods[member]; ok {
		return *p, true
	}
	return domain.CreditPeriod{}, false
}

// TermsOf returns the member's credit terms, if any.
func (i *Issuer) TermsOf(member domain.Address) (domain.CreditTerms, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t, ok := i.terms[member]; ok {
		return *t, true
	}
	return domain.CreditTerms{}, false
}

// Defaults returns the log of terminal defaults.
func (i *Issuer) Defaults() []DefaultRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]DefaultRecord, len(i.defaults))
	copy(out, i.defaults)
	return out
}

// ─── Compliance ─────────────────────────────────────────────────────────────

// InCompliance reports whether the member carries no debt.
func (i *Issuer) InCompliance(member domain.Address) bool {
	return i.ledger.DebtOf(member) == 0
}

// ITD returns the member's income-to-debt ratio in PPM, and whether the
// ratio is determinate. Zero debt makes the ratio indeterminate (treated
// as compliant by InGoodStanding).
func (i *Issuer) ITD(member domain.Address) (uint64, bool) {
	i.mu.Lock()
	t, ok := i.terms[member]
	i.mu.Unlock()
	if !ok {
		return 0, false
	}
	debt := i.ledger.DebtOf(member)
	if debt == 0 {
		return 0, false
	}
	return domain.RatioPPM(t.PeriodIncome, debt), true
}

// InGoodStanding reports whether the member meets the period's compliance
// bar: either the line was fully repaid at some point this period, or the
// income-to-debt ratio clears the configured floor.
func (i *Issuer) InGoodStanding(member domain.Address) bool {
	i.mu.Lock()
	t, ok := i.terms[member]
	i.mu.Unlock()
	if !ok {
		return false
	}
	if t.Rebalanced {
		return true
	}
	debt := i.ledger.DebtOf(member)
	if debt == 0 {
		return true
	}
	return domain.RatioPPM(t.PeriodIncome, debt) >= t.MinITD
}

// IsFrozen reports whether the member's outgoing transfers are currently
// suppressed: in grace, not in good standing, and not operator-paused.
func (i *Issuer) IsFrozen(member domain.Address) bool {
	i.mu.Lock()
	p, okP := i.periods[member]
	t, okT := i.terms[member]
	now := i.clock()
	i.mu.Unlock()
	if !okP || !okT || t.Paused {
		return false
	}
	return p.StateAt(now) == domain.PeriodGrace && !i.InGoodStanding(member)
}

// ─── Lazy Synchronization ───────────────────────────────────────────────────

// SyncCreditPeriod lazily applies any pending state transition for the
// member and reports whether the credit line survived (true) or defaulted
// (false). Idempotent: a second call with no intervening transfer leaves
// identical state.
func (i *Issuer) SyncCreditPeriod(member domain.Address) (bool, error) {
	const op = "issuer.sync_credit_period"
	i.mu.Lock()
	p, ok := i.periods[member]
	if !ok {
		i.mu.Unlock()
		return false, domain.Errf(domain.KindStateError, op, domain.ErrNoCreditLine)
	}
	t := i.terms[member]
	now := i.clock()
	if t.Paused || p.StateAt(now) != domain.PeriodExpired {
		i.mu.Unlock()
		return true, nil
	}
	i.mu.Unlock()

	// Past grace: renew or default. Good standing is evaluated against the
	// ledger outside our lock (the ledger re-validates independently).
	if i.InGoodStanding(member) {
		i.mu.Lock()
		defer i.mu.Unlock()
		if cur, ok := i.periods[member]; !ok || cur != p {
			return true, nil // raced with another sync; nothing left to do
		}
		i.renewLocked(member, p, now)
		return true, nil
	}
	return false, i.defaultMember(member, now)
}

// renewLocked starts a fresh period with unchanged limit and reset term
// counters. Caller holds i.mu.
func (i *Issuer) renewLocked(member domain.Address, prev *domain.CreditPeriod, now time.Time) {
	i.periods[member] = &domain.CreditPeriod{
		IssuedAt:         now,
		PeriodExpiration: now.Add(prev.PeriodLength),
		GraceExpiration:  now.Add(prev.PeriodLength + prev.GraceLength),
		PeriodLength:     prev.PeriodLength,
		GraceLength:      prev.GraceLength,
	}
	t := i.terms[member]
	t.PeriodIncome = 0
	t.Rebalanced = false
}

// defaultMember executes the terminal default: socialize the debt, let the
// savings pool absorb what it can, zero the limit, revoke membership and
// delete the period state.
func (i *Issuer) defaultMember(member domain.Address, now time.Time) error {
	writtenOff, err := i.ledger.WriteOffDebt(domain.CreditIssuerAccount, member)
	if err != nil {
		return err
	}
	absorbed := uint64(0)
	if writtenOff > 0 {
		leftover, err := i.pool.Demurrage(domain.CreditIssuerAccount, member, writtenOff)
		if err != nil {
			return err
		}
		absorbed = writtenOff - leftover
	}
	if err := i.ledger.SetLimit(domain.CreditIssuerAccount, member, 0); err != nil {
		return err
	}
	i.roles.Revoke(member, domain.RoleMember)

	i.mu.Lock()
	delete(i.periods, member)
	delete(i.terms, member)
	rec := DefaultRecord{Member: member, WrittenOff: writtenOff, Absorbed: absorbed, At: now}
	i.defaults = append(i.defaults, rec)
	fn := i.onDefault
	i.mu.Unlock()
	if fn != nil {
		fn(rec)
	}
	return nil
}

// SyncAll synchronizes every member holding a credit line; used by the
// automation cadence. Returns the number of defaults applied.
func (i *Issuer) SyncAll() int {
	i.mu.Lock()
	members := make([]domain.Address, 0, len(i.periods))
	for m := range i.periods {
		members = append(members, m)
	}
	i.mu.Unlock()

	defaulted := 0
	for _, m := range members {
		ok, err := i.SyncCreditPeriod(m)
		if err == nil && !ok {
			defaulted++
		}
	}
	return defaulted
}

// ─── Transfer Validation ────────────────────────────────────────────────────

// ValidateTransaction is invoked by the orchestrator before every transfer.
// It synchronizes both parties' periods and reports whether the transfer
// may proceed. A false return with nil error is the soft-failure path: the
// sender is frozen in grace, and the surrounding call should no-op rather
// than abort.
func (i *Issuer) ValidateTransaction(from, to domain.Address, amount uint64) (bool, error) {
	if _, ok := i.PeriodOf(from); ok {
		survived, err := i.SyncCreditPeriod(from)
		if err != nil {
			return false, err
		}
		if !survived {
			return false, nil
		}
	}
	if _, ok := i.PeriodOf(to); ok {
		survived, err := i.SyncCreditPeriod(to)
		if err != nil {
			return false, err
		}
		if !survived {
			return false, nil
		}
	}
	if i.IsFrozen(from) {
		return false, nil
	}
	return true, nil
}

// RecordIncome credits a transfer receipt to the recipient's period income
// and flags the line rebalanced when the receipt leaves it debt-free.
// Restricted to operators (the orchestrator).
func (i *Issuer) RecordIncome(caller, member domain.Address, amount uint64) error {
	const op = "issuer.record_income"
	if !i.roles.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	debt := i.ledger.DebtOf(member)
	i.mu.Lock()
	defer i.mu.Unlock()
	t, ok := i.terms[member]
	if !ok {
		return nil // no credit line: nothing to track
	}
	income, err := domain.AddChecked(t.PeriodIncome, amount)
	if err != nil {
		return domain.Errf(domain.KindArithmeticBound, op, err)
	}
	t.PeriodIncome = income
	// The ledger burns incoming credits against debt before this runs, so
	// zero remaining debt means the line was fully repaid. Comparing income
	// to the remaining debt would latch on a partial repayment: a receipt
	// covering half the debt also halves the remainder it is compared to.
	if debt == 0 {
		t.Rebalanced = true
	}
	return nil
}

// ─── Term Administration ────────────────────────────────────────────────────

// PauseTermsOf suppresses freeze/default evaluation for the member without
// touching the underlying timers. Operator-gated.
func (i *Issuer) PauseTermsOf(caller, member domain.Address) error {
	return i.setPaused(caller, member, true)
}

// UnpauseTermsOf re-enables freeze/default evaluation. Operator-gated.
func (i *Issuer) UnpauseTermsOf(caller, member domain.Address) error {
	return i.setPaused(caller, member, false)
}

func (i *Issuer) setPaused(caller, member domain.Address, paused bool) error {
	const op = "issuer.set_paused"
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.roles.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	t, ok := i.terms[member]
	if !ok {
		return domain.Errf(domain.KindStateError, op, domain.ErrNoCreditLine)
	}
	t.Paused = paused
	return nil
}

// SetMinITD updates the member's income-to-debt floor. Operator-gated.
func (i *Issuer) SetMinITD(caller, member domain.Address, minITD uint64) error {
	const op = "issuer.set_min_itd"
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.roles.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	t, ok := i.terms[member]
	if !ok {
		return domain.Errf(domain.KindStateError, op, domain.ErrNoCreditLine)
	}
	t.MinITD = minITD
	return nil
}

// SetFeeRate updates the member's transfer fee rate (PPM). Operator-gated.
func (i *Issuer) SetFeeRate(caller, member domain.Address, feeRate uint64) error {
	const op = "issuer.set_fee_rate"
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.roles.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if feeRate > domain.PPM {
		return domain.Errf(domain.KindStateError, op, domain.ErrInvalidTerm)
	}
	t, ok := i.terms[member]
	if !ok {
		return domain.Errf(domain.KindStateError, op, domain.ErrNoCreditLine)
	}
	t.FeeRate = feeRate
	return nil
}

// FeeRateOf returns the member's fee rate, or 0 without a line.
func (i *Issuer) FeeRateOf(member domain.Address) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t, ok := i.terms[member]; ok {
		return t.FeeRate
	}
	return 0
}

// ─── Persistence Hooks ──────────────────────────────────────────────────────

// Snapshot returns copies of all period and term state.
func (i *Issuer) Snapshot() (map[domain.Address]domain.CreditPeriod, map[domain.Address]domain.CreditTerms) {
	i.mu.Lock()
	defer i.mu.Unlock()
	periods := make(map[domain.Address]domain.CreditPeriod, len(i.periods))
	for m, p := range i.periods {
		periods[m] = *p
	}
	terms := make(map[domain.Address]domain.CreditTerms, len(i.terms))
	for m, t := range i.terms {
		terms[m] = *t
	}
	return periods, terms
}

// Restore replaces period and term state from a snapshot.
func (i *Issuer) Restore(periods map[domain.Address]domain.CreditPeriod, terms map[domain.Address]domain.CreditTerms) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.periods = make(map[domain.Address]*domain.CreditPeriod, len(periods))
	for m, p := range periods {
		cp := p
		i.periods[m] = &cp
	}
	i.terms = make(map[domain.Address]*domain.CreditTerms, len(terms))
	for m, t := range terms {
		ct := t
		i.terms[m] = &ct
	}
}
