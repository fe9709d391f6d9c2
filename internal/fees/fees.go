// Package fees collects per-transfer network fees in reserve units and
// periodically hands them to the reserve pool. Fees are quoted in credits
// (a PPM rate over the transfer amount) but settled through the value
// token at the oracle price, so the credit ledger itself stays fee-free.
package fees

import (
	"sync"

	"github.com/clearline-network/clearline/internal/domain"
)

// ReserveDepositor is the reserve pool's intake.
type ReserveDepositor interface {
	DepositFees(caller domain.Address, amount uint64) error
}

// Collector accumulates collected fees until the next distribution.
type Collector struct {
	mu      sync.Mutex
	auth    domain.Authorizer
	oracle  domain.PriceOracle
	token   domain.ValueToken
	reserve ReserveDepositor

	collected uint64 // reserve units held on the collector account
}

// New creates a fee collector feeding the given reserve pool.
func New(auth domain.Authorizer, oracle domain.PriceOracle, tok domain.ValueToken, reserve ReserveDepositor) *Collector {
	return &Collector{auth: auth, oracle: oracle, token: tok, reserve: reserve}
}

// Quote returns the fee in reserve units for a transfer of amount credits
// at the given PPM rate.
func (c *Collector) Quote(amount, feeRate uint64) uint64 {
	return c.oracle.CreditsToReserve(domain.ApplyPPM(amount, feeRate))
}

// Collect charges payer the fee for a transfer of amount credits at
// feeRate, moving reserve units from the payer's token balance to the
// collector account. Returns the fee taken. Operator-gated (the
// orchestrator is the only caller).
func (c *Collector) Collect(caller, payer domain.Address, amount, feeRate uint64) (uint64, error) {
	const op = "fees.collect"
	if !c.auth.IsOperator(caller) {
		return 0, domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	fee := c.Quote(amount, feeRate)
	if fee == 0 {
		return 0, nil
	}
	if err := c.token.Transfer(payer, domain.FeeCollectorAccount, fee); err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.collected += fee
	c.mu.Unlock()
	return fee, nil
}

// Pending returns the undistributed fee balance in reserve units.
func (c *Collector) Pending() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collected
}

// Distribute moves the accumulated fees to the reserve pool and runs its
// deposit waterfall. Returns the amount distributed; a zero balance is a
// no-op. Operator-gated.
func (c *Collector) Distribute(caller domain.Address) (uint64, error) {
	const op = "fees.distribute"
	if !c.auth.IsOperator(caller) {
		return 0, domain.Errf(domain.KindAuthorization, op, domain.ErrNotAuthorized)
	}
	c.mu.Lock()
	amount := c.collected
	c.collected = 0
	c.mu.Unlock()
	if amount == 0 {
		return 0, nil
	}

	rollback := func() {
		c.mu.Lock()
		c.collected += amount
		c.mu.Unlock()
	}
	if err := c.token.Transfer(domain.FeeCollectorAccount, domain.ReservePoolAccount, amount); err != nil {
		rollback()
		return 0, err
	}
	if err := c.reserve.DepositFees(caller, amount); err != nil {
		// The units moved; undo the transfer before restoring the counter.
		if rerr := c.token.Transfer(domain.ReservePoolAccount, domain.FeeCollectorAccount, amount); rerr == nil {
			rollback()
		}
		return 0, err
	}
	return amount, nil
}

// Restore seeds the collected balance from a snapshot.
func (c *Collector) Restore(collected uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collected = collected
}
