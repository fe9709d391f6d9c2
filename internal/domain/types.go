// Package domain holds the pure types and rules of the mutual-credit
// network. It has no infrastructure dependencies: the ledger, issuer,
// reserve and savings engines all build on the types defined here, and
// infrastructure (sqlite, HTTP, CLI) only ever talks to those engines.
package domain

import "time"

// Address identifies a member account or a network service account.
type Address string

// Reserved service accounts. These are not members: they hold network-level
// balances and are granted roles at wiring time.
const (
	NetworkDebtAccount     Address = "network:debt"
	SavingsPoolAccount     Address = "network:savings"
	FeeCollectorAccount    Address = "network:fees"
	CreditIssuerAccount    Address = "network:issuer"
	ReservePoolAccount     Address = "network:reserve"
	NetworkOperatorAccount Address = "network:operator"
)

// PPM is the fixed-point scale for ratios and rates: 1,000,000 = 100%.
// Fee rates, the reserve target (RTD) and the income-to-debt floor (ITD)
// are all expressed in parts-per-million.
const PPM uint64 = 1_000_000

// RateScale is the 1e18 fixed-point scale used by the savings pool's
// reward-per-token accumulator.
const RateScale uint64 = 1_000_000_000_000_000_000

// ─── Credit Line ────────────────────────────────────────────────────────────

// CreditLine is a member's ledger position: liquid balance, outstanding
// debt minted by spending past the balance, and the limit that debt may
// never exceed.
type CreditLine struct {
	Balance uint64 `json:"balance"`
	Debt    uint64 `json:"debt"`
	Limit   uint64 `json:"limit"`
}

// PeriodState is the lifecycle state of a member's credit period.
type PeriodState int

const (
	PeriodNone PeriodState = iota // no credit line
	PeriodActive
	PeriodGrace
	PeriodExpired // past grace, not yet synced
)

// String returns a human-readable period state.
func (s PeriodState) String() string {
	switch s {
	case PeriodNone:
		return "none"
	case PeriodActive:
		return "active"
	case PeriodGrace:
		return "grace"
	case PeriodExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// CreditPeriod is the time box a credit line operates in. Only the issuer
// creates or deletes periods; everything else reads them. The lengths are
// carried so a lazy renewal can mint the next period without re-supplying
// parameters.
type CreditPeriod struct {
	IssuedAt         time.Time     `json:"issued_at"`
	PeriodExpiration time.Time     `json:"period_expiration"`
	GraceExpiration  time.Time     `json:"grace_expiration"`
	PeriodLength     time.Duration `json:"period_length"`
	GraceLength      time.Duration `json:"grace_length"`
}

// StateAt classifies the period relative to t.
func (p CreditPeriod) StateAt(t time.Time) PeriodState {
	switch {
	case t.Before(p.PeriodExpiration):
		return PeriodActive
	case t.Before(p.GraceExpiration):
		return PeriodGrace
	default:
		return PeriodExpired
	}
}

// CreditTerms are the issuer's per-member compliance knobs, reset on every
// period renewal.
type CreditTerms struct {
	Rebalanced   bool   `json:"rebalanced"`    // full repayment seen this period
	PeriodIncome uint64 `json:"period_income"` // receipts accumulated this period
	FeeRate      uint64 `json:"fee_rate"`      // PPM of each outgoing transfer
	MinITD       uint64 `json:"min_itd"`       // income-to-debt floor, PPM
	Paused       bool   `json:"paused"`        // operator override: no freeze/default
}

// ─── Transfers ──────────────────────────────────────────────────────────────

// TransferReceipt records what a single applied transfer did to the ledger.
type TransferReceipt struct {
	ID        string    `json:"id"`
	From      Address   `json:"from"`
	To        Address   `json:"to"`
	Amount    uint64    `json:"amount"`
	Minted    uint64    `json:"minted"`             // debt created on the sender
	Burned    uint64    `json:"burned"`             // debt retired on the recipient
	FeePaid   uint64    `json:"fee_paid,omitempty"` // reserve units
	Timestamp time.Time `json:"timestamp"`
}

// ─── Reserve ────────────────────────────────────────────────────────────────

// ReserveState is a snapshot of the reserve-ratio buffer.
type ReserveState struct {
	ReserveBalance  uint64  `json:"reserve_balance"`  // reserve units
	OperatorBalance uint64  `json:"operator_balance"` // reserve units
	TargetRTD       uint64  `json:"target_rtd"`       // PPM
	OperatorPercent uint64  `json:"operator_percent"` // PPM
	SinkPercent     uint64  `json:"sink_percent"`     // PPM
	Sink            Address `json:"sink,omitempty"`
}

// ─── Savings ────────────────────────────────────────────────────────────────

// SavingsAccount is a staker's position in the savings pool. StakedAmount
// is the settled value as of the checkpoint fields below; it is only
// rewritten when the account is touched while stale.
type SavingsAccount struct {
	StakedAmount       uint64 `json:"staked_amount"`
	DemurrageIndex     uint64 `json:"demurrage_index"`       // global index at last sync
	WipeEpoch          uint64 `json:"wipe_epoch"`            // full-wipe epoch at last sync
	RewardPerTokenPaid uint64 `json:"reward_per_token_paid"` // 1e18-scaled
	PendingReward      uint64 `json:"pending_reward"`        // reserve units
	LostPrincipal      uint64 `json:"lost_principal"`        // credits demurraged away
}

// SavingsState is a snapshot of the pool's global accumulators.
type SavingsState struct {
	TotalSavings   uint64 `json:"total_savings"`   // settled staked credits
	Demurraged     uint64 `json:"demurraged"`      // cumulative credits lost
	DemurrageIndex uint64 `json:"demurrage_index"` // epoch counter
	WipeEpoch      uint64 `json:"wipe_epoch"`      // increments on a full wipe
	Reimbursements uint64 `json:"reimbursements"`  // reserve units available
}
