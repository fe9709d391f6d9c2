package domain

import "math/big"

// ─── Checked Arithmetic ─────────────────────────────────────────────────────
// Balances are unsigned fixed-point integers. Overflow is an error
// (ArithmeticBound), never a silent wrap.

// AddChecked returns a+b, or ErrOverflow if the sum wraps.
func AddChecked(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubChecked returns a-b, or ErrOverflow if b > a.
func SubChecked(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// MulDiv returns floor(a*b/c) computed without intermediate overflow.
// c must be non-zero. The result is ErrOverflow if it does not fit uint64.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrOverflow
	}
	r := new(big.Int).SetUint64(a)
	r.Mul(r, new(big.Int).SetUint64(b))
	r.Div(r, new(big.Int).SetUint64(c))
	if !r.IsUint64() {
		return 0, ErrOverflow
	}
	return r.Uint64(), nil
}

// ApplyPPM returns floor(amount·rate/PPM). rate is parts-per-million.
func ApplyPPM(amount, rate uint64) uint64 {
	v, err := MulDiv(amount, rate, PPM)
	if err != nil {
		// amount·rate/PPM < amount·PPM/PPM for rate ≤ PPM; only reachable
		// with rate > PPM, which callers validate against.
		return 0
	}
	return v
}

// RatioPPM returns floor(num·PPM/den), or 0 when den is zero.
func RatioPPM(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	v, err := MulDiv(num, PPM, den)
	if err != nil {
		return 0
	}
	return v
}
