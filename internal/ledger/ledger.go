// Package ledger implements the mutual-credit ledger: per-member balance,
// debt and limit bookkeeping with elastic supply. A payer short of liquid
// balance mints the shortfall as debt against their credit limit; a payee
// carrying debt has it burned down by incoming credits before any balance
// is applied. The ledger exclusively owns balance/limit state — the issuer
// commands write-offs and limit changes through it but never mutates
// storage directly.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearline-network/clearline/internal/domain"
)

// Ledger is the credit ledger engine. All public operations are serialized
// behind one mutex and are all-or-nothing: every precondition is checked
// before the first mutation.
type Ledger struct {
	mu       sync.Mutex
	auth     domain.Authorizer
	accounts map[domain.Address]*domain.CreditLine
	recorder domain.JournalRecorder

	totalSupply uint64 // sum of positive balances
	totalDebt   uint64 // sum of outstanding debt, incl. network debt

	clock func() time.Time
}

// New creates an empty ledger. The network debt account exists from the
// start with an effectively unlimited line.
func New(auth domain.Authorizer) *Ledger {
	l := &Ledger{
		auth:     auth,
		accounts: make(map[domain.Address]*domain.CreditLine),
		clock:    time.Now,
	}
	l.accounts[domain.NetworkDebtAccount] = &domain.CreditLine{Limit: ^uint64(0)}
	return l
}

// WithClock overrides the ledger clock for deterministic tests.
func (l *Ledger) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
}

// SetRecorder attaches a journal recorder for applied transfers.
func (l *Ledger) SetRecorder(r domain.JournalRecorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorder = r
}

func (l *Ledger) account(addr domain.Address) *domain.CreditLine {
	acc, ok := l.accounts[addr]
	if !ok {
		acc = &domain.CreditLine{}
		l.accounts[addr] = acc
	}
	return acc
}

// ─── Views ──────────────────────────────────────────────────────────────────

// BalanceOf returns the member's liquid balance.
func (l *Ledger) BalanceOf(addr domain.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[addr]; ok {
		return acc.Balance
	}
	return 0
}

// DebtOf returns the member's outstanding debt.
func (l *Ledger) DebtOf(addr domain.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[addr]; ok {
		return acc.Debt
	}
	return 0
}

// LimitOf returns the member's credit limit.
func (l *Ledger) LimitOf(addr domain.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[addr]; ok {
		return acc.Limit
	}
	return 0
}

// LineOf returns the member's full credit line and whether it exists.
func (l *Ledger) LineOf(addr domain.Address) (domain.CreditLine, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[addr]; ok {
		return *acc, true
	}
	return domain.CreditLine{}, false
}

// NetworkDebt returns the socialized debt absorbed from defaulted lines.
func (l *Ledger) NetworkDebt() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[domain.NetworkDebtAccount].Debt
}

// TotalSupply returns the sum of all positive balances.
func (l *Ledger) TotalSupply() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSupply
}

// TotalDebt returns the sum of all outstanding debt.
func (l *Ledger) TotalDebt() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalDebt
}

// ─── Transfers ──────────────────────────────────────────────────────────────

// Transfer moves amount from one account to another. If the sender's
// liquid balance is short, the shortfall is minted as sender debt provided
// the limit allows it; incoming value first burns down any recipient debt.
// The caller must be the sender or hold the operator role.
func (l *Ledger) Transfer(caller, from, to domain.Address, amount uint64) (domain.TransferReceipt, error) {
	const op = "ledger.transfer"
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != from && !l.auth.IsOperator(caller) {
		return domain.TransferReceipt{}, domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if amount == 0 {
		return domain.TransferReceipt{}, domain.Errf(domain.KindStateError, op, domain.ErrZeroAmount)
	}
	if from == to {
		return domain.TransferReceipt{}, domain.Errf(domain.KindStateError, op, domain.ErrInvalidTerm)
	}

	src := l.account(from)
	dst := l.account(to)

	used := src.Balance
	if used > amount {
		used = amount
	}
	shortfall := amount - used

	newDebt, err := domain.AddChecked(src.Debt, shortfall)
	if err != nil {
		return domain.TransferReceipt{}, domain.Errf(domain.KindArithmeticBound, op, err)
	}
	if newDebt > src.Limit {
		return domain.TransferReceipt{}, domain.Errf(domain.KindInvariantViolation, op, domain.ErrInsufficientCredit)
	}

	burned := dst.Debt
	if burned > amount {
		burned = amount
	}
	credited := amount - burned

	newDstBal, err := domain.AddChecked(dst.Balance, credited)
	if err != nil {
		return domain.TransferReceipt{}, domain.Errf(domain.KindArithmeticBound, op, err)
	}
	// Supply delta: minted shortfall enters, burned debt exits.
	newSupply := l.totalSupply - used + amount - burned
	if shortfall > 0 {
		if _, err := domain.AddChecked(l.totalSupply, shortfall); err != nil {
			return domain.TransferReceipt{}, domain.Errf(domain.KindArithmeticBound, op, err)
		}
	}

	// All checks passed; apply atomically.
	src.Balance -= used
	src.Debt = newDebt
	dst.Debt -= burned
	dst.Balance = newDstBal
	l.totalSupply = newSupply
	l.totalDebt = l.totalDebt + shortfall - burned

	receipt := domain.TransferReceipt{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Amount:    amount,
		Minted:    shortfall,
		Burned:    burned,
		Timestamp: l.clock(),
	}
	if l.recorder != nil {
		// Best effort: the transfer is already committed.
		_ = l.recorder.RecordTransfer(receipt)
	}
	return receipt, nil
}

// ─── Issuer Commands ────────────────────────────────────────────────────────

// SetLimit sets a member's credit limit. Issuer-gated. Lowering the limit
// below outstanding debt is rejected: debt ≤ limit must hold at all times.
func (l *Ledger) SetLimit(caller, member domain.Address, limit uint64) error {
	const op = "ledger.set_limit"
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.auth.IsIssuer(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	acc := l.account(member)
	if acc.Debt > limit {
		return domain.Errf(domain.KindInvariantViolation, op, domain.ErrInsufficientCredit)
	}
	acc.Limit = limit
	return nil
}

// MintDraw issues amount of liquid balance to a member as a draw against
// their own credit line, used for a new line's initial balance. Issuer-gated.
func (l *Ledger) MintDraw(caller, member domain.Address, amount uint64) error {
	const op = "ledger.mint_draw"
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.auth.IsIssuer(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if amount == 0 {
		return nil
	}
	acc := l.account(member)
	newDebt, err := domain.AddChecked(acc.Debt, amount)
	if err != nil {
		return domain.Errf(domain.KindArithmeticBound, op, err)
	}
	if newDebt > acc.Limit {
		return domain.Errf(domain.KindInvariantViolation, op, domain.ErrInsufficientCredit)
	}
	newBal, err := domain.AddChecked(acc.Balance, amount)
	if err != nil {
		return domain.Errf(domain.KindArithmeticBound, op, err)
	}
	acc.Debt = newDebt
	acc.Balance = newBal
	l.totalSupply += amount
	l.totalDebt += amount
	return nil
}

// WriteOffDebt moves a member's entire outstanding debt onto the network
// debt account, leaving circulating supply untouched. Issuer-gated; invoked
// on default. Returns the amount written off.
func (l *Ledger) WriteOffDebt(caller, member domain.Address) (uint64, error) {
	const op = "ledger.write_off_debt"
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.auth.IsIssuer(caller) {
		return 0, domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	acc, ok := l.accounts[member]
	if !ok {
		return 0, domain.Errf(domain.KindStateError, op, domain.ErrUnknownAccount)
	}
	amount := acc.Debt
	if amount == 0 {
		return 0, nil
	}
	network := l.accounts[domain.NetworkDebtAccount]
	newNet, err := domain.AddChecked(network.Debt, amount)
	if err != nil {
		return 0, domain.Errf(domain.KindArithmeticBound, op, err)
	}
	acc.Debt = 0
	network.Debt = newNet
	return amount, nil
}

// BurnNetworkDebt retires socialized network debt by burning an equal
// amount of the payer's liquid balance. The caller must be the payer or an
// operator.
func (l *Ledger) BurnNetworkDebt(caller, payer domain.Address, amount uint64) error {
	const op = "ledger.burn_network_debt"
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != payer && !l.auth.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if amount == 0 {
		return domain.Errf(domain.KindStateError, op, domain.ErrZeroAmount)
	}
	network := l.accounts[domain.NetworkDebtAccount]
	acc, ok := l.accounts[payer]
	if !ok || acc.Balance < amount {
		return domain.Errf(domain.KindInvariantViolation, op, domain.ErrInsufficientBalance)
	}
	if network.Debt < amount {
		return domain.Errf(domain.KindStateError, op, domain.ErrInvalidTerm)
	}
	acc.Balance -= amount
	network.Debt -= amount
	l.totalSupply -= amount
	l.totalDebt -= amount
	return nil
}

// ─── Persistence Hooks ──────────────────────────────────────────────────────

// Snapshot returns a copy of every account for persistence.
func (l *Ledger) Snapshot() map[domain.Address]domain.CreditLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.Address]domain.CreditLine, len(l.accounts))
	for addr, acc := range l.accounts {
		out[addr] = *acc
	}
	return out
}

// Restore replaces ledger state from a snapshot, recomputing totals.
func (l *Ledger) Restore(accounts map[domain.Address]domain.CreditLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[domain.Address]*domain.CreditLine, len(accounts))
	l.totalSupply, l.totalDebt = 0, 0
	for addr, acc := range accounts {
		cp := acc
		l.accounts[addr] = &cp
		l.totalSupply += cp.Balance
		l.totalDebt += cp.Debt
	}
	if _, ok := l.accounts[domain.NetworkDebtAccount]; !ok {
		l.accounts[domain.NetworkDebtAccount] = &domain.CreditLine{Limit: ^uint64(0)}
	}
}
