package oracle

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/clearline-network/clearline/internal/access"
	"github.com/clearline-network/clearline/internal/domain"
)

func newTestOracle(t *testing.T, price string) (*FixedOracle, *access.Registry) {
	t.Helper()
	reg := access.NewRegistry()
	reg.Grant("op", domain.RoleOperator)
	p, err := decimal.NewFromString(price)
	if err != nil {
		t.Fatalf("bad price %q: %v", price, err)
	}
	return NewFixed(p, reg), reg
}

func TestConversionAtPar(t *testing.T) {
	o, _ := newTestOracle(t, "1")
	if got := o.CreditsToReserve(123); got != 123 {
		t.Errorf("CreditsToReserve(123) = %d, want 123", got)
	}
	if got := o.ReserveToCredits(123); got != 123 {
		t.Errorf("ReserveToCredits(123) = %d, want 123", got)
	}
}

func TestConversionFloors(t *testing.T) {
	o, _ := newTestOracle(t, "0.75")
	// 10 credits · 0.75 = 7.5 → 7
	if got := o.CreditsToReserve(10); got != 7 {
		t.Errorf("CreditsToReserve(10) = %d, want 7", got)
	}
	// 10 reserve / 0.75 = 13.33 → 13
	if got := o.ReserveToCredits(10); got != 13 {
		t.Errorf("ReserveToCredits(10) = %d, want 13", got)
	}
}

func TestSetPriceAuthorization(t *testing.T) {
	o, _ := newTestOracle(t, "1")

	err := o.SetPrice("stranger", decimal.NewFromInt(2))
	if !errors.Is(err, domain.ErrNotAuthorized) {
		t.Fatalf("SetPrice by stranger = %v, want ErrNotAuthorized", err)
	}

	if err := o.SetPrice("op", decimal.NewFromInt(2)); err != nil {
		t.Fatalf("SetPrice by operator failed: %v", err)
	}
	if got := o.CreditsToReserve(5); got != 10 {
		t.Errorf("after price 2, CreditsToReserve(5) = %d, want 10", got)
	}

	err = o.SetPrice("op", decimal.Zero)
	if domain.KindOf(err) != domain.KindStateError {
		t.Errorf("zero price error kind = %v, want StateError", domain.KindOf(err))
	}
}
