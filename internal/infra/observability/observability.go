// Package observability defines the Prometheus metric set for the network
// engine and the observer glue that feeds it from the transfer pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clearline-network/clearline/internal/domain"
)

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// TransfersTotal counts transfer pipeline outcomes.
var TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clearline",
	Subsystem: "ledger",
	Name:      "transfers_total",
	Help:      "Total transfer attempts by outcome.",
}, []string{"result"})

// CreditsMinted counts credits minted as sender debt.
var CreditsMinted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clearline",
	Subsystem: "ledger",
	Name:      "credits_minted_total",
	Help:      "Total credits minted by transfers spending past balance.",
})

// CreditsBurned counts credits burned against recipient debt.
var CreditsBurned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clearline",
	Subsystem: "ledger",
	Name:      "credits_burned_total",
	Help:      "Total credits burned retiring recipient debt.",
})

// TotalSupply tracks the current circulating credit supply.
var TotalSupply = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "clearline",
	Subsystem: "ledger",
	Name:      "total_supply",
	Help:      "Current circulating credit supply.",
})

// NetworkDebt tracks the socialized network debt.
var NetworkDebt = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "clearline",
	Subsystem: "ledger",
	Name:      "network_debt",
	Help:      "Socialized debt held by the network debt account.",
})

// ─── Credit Issuance Metrics ────────────────────────────────────────────────

// DefaultsTotal counts terminal credit-line defaults.
var DefaultsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clearline",
	Subsystem: "issuer",
	Name:      "defaults_total",
	Help:      "Total terminal credit-line defaults.",
})

// DefaultedDebt counts the debt written off by defaults.
var DefaultedDebt = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clearline",
	Subsystem: "issuer",
	Name:      "defaulted_debt_total",
	Help:      "Total debt written off to the network by defaults.",
})

// ─── Reserve Metrics ────────────────────────────────────────────────────────

// ReserveRTD tracks the reserve-to-debt ratio in PPM.
var ReserveRTD = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "clearline",
	Subsystem: "reserve",
	Name:      "rtd_ppm",
	Help:      "Reserve-to-debt ratio in parts per million.",
})

// NeededReserves tracks the buffer shortfall against the target ratio.
var NeededReserves = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "clearline",
	Subsystem: "reserve",
	Name:      "needed_reserves",
	Help:      "Reserve units short of the target reserve-to-debt ratio.",
})

// FeesDistributed counts reserve units of fees deposited to the reserve.
var FeesDistributed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clearline",
	Subsystem: "reserve",
	Name:      "fees_distributed_total",
	Help:      "Total reserve units of fees deposited to the reserve pool.",
})

// ─── Savings Metrics ────────────────────────────────────────────────────────

// TotalSavings tracks the staked credit total.
var TotalSavings = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "clearline",
	Subsystem: "savings",
	Name:      "total_savings",
	Help:      "Total credits staked in the savings pool.",
})

// DemurrageAmount counts credits absorbed from stakers by demurrage.
var DemurrageAmount = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clearline",
	Subsystem: "savings",
	Name:      "demurrage_amount_total",
	Help:      "Total credits absorbed from stakers by demurrage events.",
})

// ─── API Metrics ────────────────────────────────────────────────────────────

// APIRequestDuration tracks handler latency by route.
var APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "clearline",
	Subsystem: "api",
	Name:      "request_duration_seconds",
	Help:      "API request duration by route and status.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
}, []string{"route", "status"})

// ─── Pipeline Observer ──────────────────────────────────────────────────────

// PipelineObserver implements the transfer pipeline's metrics hook.
type PipelineObserver struct{}

// TransferApplied records an applied transfer and its mint/burn volumes.
func (PipelineObserver) TransferApplied(rec domain.TransferReceipt) {
	TransfersTotal.WithLabelValues("applied").Inc()
	if rec.Minted > 0 {
		CreditsMinted.Add(float64(rec.Minted))
	}
	if rec.Burned > 0 {
		CreditsBurned.Add(float64(rec.Burned))
	}
}

// TransferRejected records a hard pipeline failure.
func (PipelineObserver) TransferRejected(reason string) {
	TransfersTotal.WithLabelValues("rejected_" + reason).Inc()
}

// TransferFrozen records a frozen-sender suppression.
func (PipelineObserver) TransferFrozen() {
	TransfersTotal.WithLabelValues("frozen").Inc()
}
