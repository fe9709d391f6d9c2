// Package network is the orchestration layer: it runs the full transfer
// pipeline across the engines (membership, period sync, fee collection,
// ledger movement, income recording) and exposes the administrative
// operations the API and CLI surface.
package network

import (
	"log"

	"github.com/clearline-network/clearline/internal/access"
	"github.com/clearline-network/clearline/internal/domain"
	"github.com/clearline-network/clearline/internal/fees"
	"github.com/clearline-network/clearline/internal/issuer"
	"github.com/clearline-network/clearline/internal/ledger"
)

// Observer receives pipeline events for metrics. All methods must be
// non-blocking.
type Observer interface {
	TransferApplied(rec domain.TransferReceipt)
	TransferRejected(reason string)
	TransferFrozen()
}

// nopObserver is the default when no metrics are wired.
type nopObserver struct{}

func (nopObserver) TransferApplied(domain.TransferReceipt) {}
func (nopObserver) TransferRejected(string)                {}
func (nopObserver) TransferFrozen()                        {}

// Orchestrator coordinates the engines for every member-facing operation.
type Orchestrator struct {
	roles    *access.Registry
	ledger   *ledger.Ledger
	issuer   *issuer.Issuer
	fees     *fees.Collector
	observer Observer
	logger   *log.Logger
}

// New wires an orchestrator over the given engines. The fee collector may
// be nil for fee-free networks.
func New(roles *access.Registry, l *ledger.Ledger, iss *issuer.Issuer, fc *fees.Collector, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[network] ", log.LstdFlags)
	}
	return &Orchestrator{
		roles:    roles,
		ledger:   l,
		issuer:   iss,
		fees:     fc,
		observer: nopObserver{},
		logger:   logger,
	}
}

// SetObserver installs a metrics observer.
func (o *Orchestrator) SetObserver(obs Observer) {
	if obs != nil {
		o.observer = obs
	}
}

// ─── Transfer Pipeline ──────────────────────────────────────────────────────

// Transfer runs the full pipeline for a member transfer. The applied flag
// distinguishes the frozen-sender soft path (false, zero receipt, nil
// error) from an applied transfer; hard failures return an error.
//
// The fee is charged before the ledger moves: a member unable to cover the
// fee cannot transfer at all.
func (o *Orchestrator) Transfer(caller, from, to domain.Address, amount uint64) (bool, domain.TransferReceipt, error) {
	const op = "network.transfer"
	if !o.roles.IsMember(from) || !o.roles.IsMember(to) {
		o.observer.TransferRejected("not_member")
		return false, domain.TransferReceipt{}, domain.Errf(domain.KindAuthorization, op, domain.ErrNotMember)
	}

	ok, err := o.issuer.ValidateTransaction(from, to, amount)
	if err != nil {
		o.observer.TransferRejected("validation")
		return false, domain.TransferReceipt{}, err
	}
	if !ok {
		// Sender frozen in grace: suppress, do not fail.
		o.logger.Printf("transfer %s -> %s suppressed: sender frozen", from, to)
		o.observer.TransferFrozen()
		return false, domain.TransferReceipt{}, nil
	}

	var feePaid uint64
	if o.fees != nil {
		rate := o.issuer.FeeRateOf(from)
		feePaid, err = o.fees.Collect(domain.NetworkOperatorAccount, from, amount, rate)
		if err != nil {
			o.observer.TransferRejected("fee")
			return false, domain.TransferReceipt{}, err
		}
	}

	rec, err := o.ledger.Transfer(caller, from, to, amount)
	if err != nil {
		o.observer.TransferRejected("ledger")
		return false, domain.TransferReceipt{}, err
	}
	rec.FeePaid = feePaid

	// Receipts count toward the recipient's period income.
	if err := o.issuer.RecordIncome(domain.NetworkOperatorAccount, to, amount); err != nil {
		o.logger.Printf("record income for %s failed: %v", to, err)
	}
	o.observer.TransferApplied(rec)
	return true, rec, nil
}

// ─── Administration ─────────────────────────────────────────────────────────

// InitializeMember opens a credit line for a new member.
func (o *Orchestrator) InitializeMember(caller, member domain.Address, p issuer.LineParams) error {
	return o.issuer.InitializeCreditLine(caller, member, p.PeriodLength, p.GraceLength, p.Limit, p.FeeRate, p.MinITD, p.InitialBalance)
}

// SyncMember applies any pending credit-period transition for member.
func (o *Orchestrator) SyncMember(member domain.Address) (bool, error) {
	return o.issuer.SyncCreditPeriod(member)
}

// SyncAll synchronizes every credit line and returns the default count.
func (o *Orchestrator) SyncAll() int {
	return o.issuer.SyncAll()
}

// BurnNetworkDebt burns payer's balance against the socialized network
// debt. Operator-gated by the ledger.
func (o *Orchestrator) BurnNetworkDebt(caller, payer domain.Address, amount uint64) error {
	return o.ledger.BurnNetworkDebt(caller, payer, amount)
}

// ─── Views ──────────────────────────────────────────────────────────────────

// MemberStatus is the aggregate view the API serves per member.
type MemberStatus struct {
	Address        domain.Address       `json:"address"`
	Line           domain.CreditLine    `json:"line"`
	Period         *domain.CreditPeriod `json:"period,omitempty"`
	Terms          *domain.CreditTerms  `json:"terms,omitempty"`
	InCompliance   bool                 `json:"in_compliance"`
	InGoodStanding bool                 `json:"in_good_standing"`
	Frozen         bool                 `json:"frozen"`
}

// StatusOf assembles the member view, or ErrUnknownAccount for an address
// with no ledger line.
func (o *Orchestrator) StatusOf(member domain.Address) (MemberStatus, error) {
	const op = "network.status_of"
	line, ok := o.ledger.LineOf(member)
	if !ok {
		return MemberStatus{}, domain.Errf(domain.KindStateError, op, domain.ErrUnknownAccount)
	}
	st := MemberStatus{
		Address:        member,
		Line:           line,
		InCompliance:   o.issuer.InCompliance(member),
		InGoodStanding: o.issuer.InGoodStanding(member),
		Frozen:         o.issuer.IsFrozen(member),
	}
	if p, ok := o.issuer.PeriodOf(member); ok {
		st.Period = &p
	}
	if t, ok := o.issuer.TermsOf(member); ok {
		st.Terms = &t
	}
	return st, nil
}

// NetworkStatus is the aggregate network view.
type NetworkStatus struct {
	TotalSupply uint64 `json:"total_supply"`
	TotalDebt   uint64 `json:"total_debt"`
	NetworkDebt uint64 `json:"network_debt"`
	Members     int    `json:"members"`
	Defaults    int    `json:"defaults"`
}

// Status returns the network-wide aggregate view.
func (o *Orchestrator) Status() NetworkStatus {
	return NetworkStatus{
		TotalSupply: o.ledger.TotalSupply(),
		TotalDebt:   o.ledger.TotalDebt(),
		NetworkDebt: o.ledger.NetworkDebt(),
		Members:     len(o.roles.Members()),
		Defaults:    len(o.issuer.Defaults()),
	}
}
