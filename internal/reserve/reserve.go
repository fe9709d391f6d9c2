// Package reserve manages the network's reserve buffer: reserve units held
// against the outstanding credit debt, measured by the reserve-to-debt
// ratio (RTD). Fee deposits fill the buffer up to a target RTD before any
// surplus is shared with the operator and the configured sink.
package reserve

import (
	"sync"

	"github.com/clearline-network/clearline/internal/domain"
)

// DebtSource reports the outstanding debt the buffer covers.
type DebtSource interface {
	TotalDebt() uint64
}

// Pool tracks the primary reserve and the operator's withdrawable share.
// All reserve units live in the pool's value-token account; the split
// below is internal accounting over that balance.
type Pool struct {
	mu     sync.Mutex
	auth   domain.Authorizer
	oracle domain.PriceOracle
	debt   DebtSource
	token  domain.ValueToken

	reserveBalance  uint64 // primary buffer
	operatorBalance uint64
	targetRTD       uint64 // PPM
	operatorPercent uint64 // PPM share of surplus deposits
	sinkPercent     uint64 // PPM share of surplus deposits
	sink            domain.Address
}

// New creates a reserve pool with the given target ratio (PPM).
func New(auth domain.Authorizer, oracle domain.PriceOracle, debt DebtSource, tok domain.ValueToken, targetRTD uint64) *Pool {
	return &Pool{
		auth:      auth,
		oracle:    oracle,
		debt:      debt,
		token:     tok,
		targetRTD: targetRTD,
	}
}

// ─── Ratio Views ────────────────────────────────────────────────────────────

// debtValue converts the ledger's outstanding debt to reserve units.
func (p *Pool) debtValue() uint64 {
	return p.oracle.CreditsToReserve(p.debt.TotalDebt())
}

// RTD returns the reserve-to-debt ratio in PPM. Zero debt reports 0.
func (p *Pool) RTD() uint64 {
	dv := p.debtValue()
	if dv == 0 {
		return 0
	}
	p.mu.Lock()
	reserve := p.reserveBalance
	p.mu.Unlock()
	return domain.RatioPPM(reserve, dv)
}

// NeededReserves returns how many reserve units the primary buffer is short
// of the target ratio; 0 when at or above target, or when no debt exists.
func (p *Pool) NeededReserves() uint64 {
	dv := p.debtValue()
	if dv == 0 {
		return 0
	}
	p.mu.Lock()
	reserve := p.reserveBalance
	target := p.targetRTD
	p.mu.Unlock()

	want := domain.ApplyPPM(dv, target)
	if reserve >= want {
		return 0
	}
	return want - reserve
}

// State returns a snapshot of the pool's accounting.
func (p *Pool) State() domain.ReserveState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.ReserveState{
		ReserveBalance:  p.reserveBalance,
		OperatorBalance: p.operatorBalance,
		TargetRTD:       p.targetRTD,
		OperatorPercent: p.operatorPercent,
		SinkPercent:     p.sinkPercent,
		Sink:            p.sink,
	}
}

// ─── Deposits ───────────────────────────────────────────────────────────────

// DepositFees allocates reserve units already delivered to the pool's token
// account. The buffer shortfall is filled first; any surplus is split by
// the operator and sink percentages, with the unallocated rest also landing
// in the primary buffer. The sink leg leaves the pool immediately.
func (p *Pool) DepositFees(caller domain.Address, amount uint64) error {
	const op = "reserve.deposit_fees"
	if !p.auth.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if amount == 0 {
		return domain.Errf(domain.KindStateError, op, domain.ErrZeroAmount)
	}
	needed := p.NeededReserves()

	p.mu.Lock()
	toPrimary := amount
	if toPrimary > needed {
		toPrimary = needed
	}
	surplus := amount - toPrimary
	toOperator := domain.ApplyPPM(surplus, p.operatorPercent)
	toSink := domain.ApplyPPM(surplus, p.sinkPercent)

	p.reserveBalance += toPrimary + (surplus - toOperator - toSink)
	p.operatorBalance += toOperator
	sink := p.sink
	p.mu.Unlock()

	if toSink > 0 && sink != "" {
		if err := p.token.Transfer(domain.ReservePoolAccount, sink, toSink); err != nil {
			p.mu.Lock()
			p.reserveBalance += toSink // keep the leg in the buffer instead
			p.mu.Unlock()
			return err
		}
	} else if toSink > 0 {
		// No sink configured: the leg stays in the primary buffer.
		p.mu.Lock()
		p.reserveBalance += toSink
		p.mu.Unlock()
	}
	return nil
}

// ─── Payouts ────────────────────────────────────────────────────────────────

// Reimburse pays up to amount from the primary buffer to recipient and
// returns what was actually paid. A short buffer pays what it has; an empty
// buffer pays nothing. Shortfall is never an error.
func (p *Pool) Reimburse(caller, recipient domain.Address, amount uint64) (uint64, error) {
	const op = "reserve.reimburse"
	if !p.auth.IsOperator(caller) && !p.auth.IsIssuer(caller) {
		return 0, domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	p.mu.Lock()
	paid := amount
	if paid > p.reserveBalance {
		paid = p.reserveBalance
	}
	p.reserveBalance -= paid
	p.mu.Unlock()
	if paid == 0 {
		return 0, nil
	}
	if err := p.token.Transfer(domain.ReservePoolAccount, recipient, paid); err != nil {
		p.mu.Lock()
		p.reserveBalance += paid
		p.mu.Unlock()
		return 0, err
	}
	return paid, nil
}

// WithdrawOperatorBalance pays the operator's accumulated share out to
// recipient. Operator-gated.
func (p *Pool) WithdrawOperatorBalance(caller, recipient domain.Address) (uint64, error) {
	const op = "reserve.withdraw_operator_balance"
	if !p.auth.IsOperator(caller) {
		return 0, domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	p.mu.Lock()
	amount := p.operatorBalance
	p.operatorBalance = 0
	p.mu.Unlock()
	if amount == 0 {
		return 0, nil
	}
	if err := p.token.Transfer(domain.ReservePoolAccount, recipient, amount); err != nil {
		p.mu.Lock()
		p.operatorBalance += amount
		p.mu.Unlock()
		return 0, err
	}
	return amount, nil
}

// ─── Configuration ──────────────────────────────────────────────────────────

// SetTargetRTD updates the target reserve-to-debt ratio (PPM).
func (p *Pool) SetTargetRTD(caller domain.Address, target uint64) error {
	const op = "reserve.set_target_rtd"
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.auth.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	p.targetRTD = target
	return nil
}

// SetOperatorPercent updates the operator's surplus share; the combined
// operator and sink shares may not exceed 100%.
func (p *Pool) SetOperatorPercent(caller domain.Address, pct uint64) error {
	const op = "reserve.set_operator_percent"
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.auth.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if pct > domain.PPM || pct+p.sinkPercent > domain.PPM {
		return domain.Errf(domain.KindStateError, op, domain.ErrPercentOverflow)
	}
	p.operatorPercent = pct
	return nil
}

// SetSinkPercent updates the sink's surplus share under the same cap.
func (p *Pool) SetSinkPercent(caller domain.Address, pct uint64) error {
	const op = "reserve.set_sink_percent"
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.auth.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	if pct > domain.PPM || pct+p.operatorPercent > domain.PPM {
		return domain.Errf(domain.KindStateError, op, domain.ErrPercentOverflow)
	}
	p.sinkPercent = pct
	return nil
}

// SetSink updates the address receiving the sink leg of surplus deposits.
func (p *Pool) SetSink(caller, sink domain.Address) error {
	const op = "reserve.set_sink"
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.auth.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	p.sink = sink
	return nil
}

// ─── Persistence Hooks ──────────────────────────────────────────────────────

// Snapshot returns the pool's accounting state.
func (p *Pool) Snapshot() domain.ReserveState {
	return p.State()
}

// Restore replaces the pool's accounting state from a snapshot.
func (p *Pool) Restore(s domain.ReserveState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserveBalance = s.ReserveBalance
	p.operatorBalance = s.OperatorBalance
	p.targetRTD = s.TargetRTD
	p.operatorPercent = s.OperatorPercent
	p.sinkPercent = s.SinkPercent
	p.sink = s.Sink
}
