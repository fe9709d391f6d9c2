package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Every hard failure
// in the engines wraps one of these so callers and tests can assert on
// cause with errors.Is rather than on message text.

var (
	// Authorization
	ErrNotAuthorized = errors.New("caller lacks required role")
	ErrNotMember     = errors.New("address is not a registered member")

	// Ledger
	ErrInsufficientCredit  = errors.New("transfer would exceed credit limit")
	ErrInsufficientBalance = errors.New("insufficient liquid balance")
	ErrUnknownAccount      = errors.New("account does not exist")

	// Issuer
	ErrCreditLineExists = errors.New("credit line already initialized")
	ErrNoCreditLine     = errors.New("member has no credit line")
	ErrPeriodNotExpired = errors.New("credit period has not expired")
	ErrInvalidTerm      = errors.New("invalid credit term parameter")

	// Reserve
	ErrPercentOverflow = errors.New("operator and sink percentages exceed 100%")

	// Savings
	ErrStakingDisabled = errors.New("staking disabled while network debt is outstanding")
	ErrNothingToClaim  = errors.New("nothing to claim")
	ErrReentrantCall   = errors.New("reentrant call")
	ErrZeroAmount      = errors.New("amount must be positive")

	// Arithmetic
	ErrOverflow = errors.New("value exceeds balance representation")
)

// ErrorKind classifies a hard failure for the propagation policy: any of
// these aborts the whole enclosing operation with no partial mutation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthorization
	KindInvariantViolation
	KindStateError
	KindArithmeticBound
)

// String returns a human-readable kind.
func (k ErrorKind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindStateError:
		return "state_error"
	case KindArithmeticBound:
		return "arithmetic_bound"
	default:
		return "unknown"
	}
}

// Error is the discriminable failure type returned by all engines.
type Error struct {
	Kind ErrorKind
	Op   string // operation that failed, e.g. "ledger.transfer"
	Err  error  // sentinel cause
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf wraps a sentinel into a kinded Error.
func Errf(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
