// Package oracle converts between ledger credits and reserve token units.
// The core never prices anything itself: the reserve sizes its target
// against debt value in reserve units, and the fee collector converts
// credit-denominated fees before depositing them.
package oracle

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/clearline-network/clearline/internal/domain"
)

// FixedOracle implements domain.PriceOracle with an operator-settable
// price (reserve units per credit). Conversions floor to integer units.
type FixedOracle struct {
	mu    sync.RWMutex
	price decimal.Decimal // reserve units per credit
	auth  domain.Authorizer
}

// NewFixed creates an oracle at the given price. A price of "1" means
// credits and reserve units trade at par.
func NewFixed(price decimal.Decimal, auth domain.Authorizer) *FixedOracle {
	return &FixedOracle{price: price, auth: auth}
}

// Price returns the current reserve-units-per-credit price.
func (o *FixedOracle) Price() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.price
}

// SetPrice updates the price. Operator-gated.
func (o *FixedOracle) SetPrice(caller domain.Address, price decimal.Decimal) error {
	if !o.auth.IsOperator(caller) {
		return domain.Errf(domain.KindAuthorization, "oracle.set_price", domain.ErrNotAuthorized)
	}
	if price.Sign() <= 0 {
		return domain.Errf(domain.KindStateError, "oracle.set_price", domain.ErrInvalidTerm)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = price
	return nil
}

// CreditsToReserve returns floor(credits · price) in reserve units.
func (o *FixedOracle) CreditsToReserve(credits uint64) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v := decimal.NewFromUint64(credits).Mul(o.price).Floor()
	return decimalToUint64(v)
}

// ReserveToCredits returns floor(reserve / price) in credits.
func (o *FixedOracle) ReserveToCredits(reserve uint64) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price.Sign() <= 0 {
		return 0
	}
	v := decimal.NewFromUint64(reserve).Div(o.price).Floor()
	return decimalToUint64(v)
}

func decimalToUint64(d decimal.Decimal) uint64 {
	if d.Sign() <= 0 {
		return 0
	}
	// BigInt() of a floored decimal is exact.
	bi := d.BigInt()
	if !bi.IsUint64() {
		return ^uint64(0)
	}
	return bi.Uint64()
}
