// Package automation runs the periodic network upkeep the engines never
// schedule for themselves: credit-period synchronization, fee
// distribution into the reserve, and reimbursement top-ups from the
// reserve to the savings pool.
package automation

import (
	"context"
	"log"
	"time"

	"github.com/clearline-network/clearline/internal/domain"
)

// Syncer drives lazy credit-period transitions.
type Syncer interface {
	SyncAll() int
}

// FeeDistributor flushes collected fees to the reserve.
type FeeDistributor interface {
	Distribute(caller domain.Address) (uint64, error)
}

// Reimburser pays reserve units out of the buffer.
type Reimburser interface {
	Reimburse(caller, recipient domain.Address, amount uint64) (uint64, error)
}

// SavingsPool exposes what the top-up pass needs from the savings pool.
type SavingsPool interface {
	State() domain.SavingsState
	NotifyReimbursement(caller domain.Address, amount uint64) error
}

// Runner executes the upkeep passes on a fixed cadence.
type Runner struct {
	interval time.Duration
	syncer   Syncer
	fees     FeeDistributor
	reserve  Reimburser
	savings  SavingsPool
	oracle   domain.PriceOracle
	logger   *log.Logger
}

// New creates a runner. fees, reserve and savings may each be nil to skip
// the corresponding pass; the top-up pass additionally needs the oracle
// to price demurraged credits in reserve units.
func New(interval time.Duration, syncer Syncer, fees FeeDistributor, reserve Reimburser, savings SavingsPool, oracle domain.PriceOracle, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(log.Writer(), "[automation] ", log.LstdFlags)
	}
	return &Runner{
		interval: interval,
		syncer:   syncer,
		fees:     fees,
		reserve:  reserve,
		savings:  savings,
		oracle:   oracle,
		logger:   logger,
	}
}

// Run ticks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// TickStats reports what one upkeep pass did.
type TickStats struct {
	Defaulted       int
	FeesDistributed uint64
	Reimbursed      uint64
}

// Tick runs one upkeep pass: sync every credit line, distribute pending
// fees, then top the savings pool's reimbursement bucket up toward its
// demurraged principal. Each pass is independent; a failure in one is
// logged and does not stop the others.
func (r *Runner) Tick() TickStats {
	var stats TickStats

	if stats.Defaulted = r.syncer.SyncAll(); stats.Defaulted > 0 {
		r.logger.Printf("sync pass defaulted %d credit lines", stats.Defaulted)
	}

	if r.fees != nil {
		if amount, err := r.fees.Distribute(domain.NetworkOperatorAccount); err != nil {
			r.logger.Printf("fee distribution failed: %v", err)
		} else if amount > 0 {
			stats.FeesDistributed = amount
			r.logger.Printf("distributed %d reserve units of fees", amount)
		}
	}

	if r.reserve != nil && r.savings != nil && r.oracle != nil {
		stats.Reimbursed = r.topUpReimbursements()
	}
	return stats
}

// topUpReimbursements draws from the reserve toward covering the savings
// pool's demurraged principal. The reserve pays what it can; partial
// top-ups are fine and retried next tick.
func (r *Runner) topUpReimbursements() uint64 {
	s := r.savings.State()
	// Demurraged is in credits, the reimbursement bucket in reserve units;
	// price the target through the oracle before comparing.
	target := r.oracle.CreditsToReserve(s.Demurraged)
	if target <= s.Reimbursements {
		return 0
	}
	need := target - s.Reimbursements

	paid, err := r.reserve.Reimburse(domain.NetworkOperatorAccount, domain.SavingsPoolAccount, need)
	if err != nil {
		r.logger.Printf("reserve reimbursement failed: %v", err)
		return 0
	}
	if paid == 0 {
		return 0
	}
	if err := r.savings.NotifyReimbursement(domain.NetworkOperatorAccount, paid); err != nil {
		r.logger.Printf("reimbursement notify failed: %v", err)
		return 0
	}
	r.logger.Printf("topped savings reimbursements up by %d reserve units", paid)
	return paid
}
