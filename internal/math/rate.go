package math

import "fmt"

// Rate is a fixed-point numerator/denominator ratio used for interest rates,
// fees, and multipliers. Rate is a value type: settings copy rates, they are
// never shared by reference.
type Rate struct {
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
}

// NewRate builds a rate without validating it; call IsValid at the settings
// boundary, never at use time.
func NewRate(num, den uint64) Rate {
	return Rate{Numerator: num, Denominator: den}
}

// IsValid reports whether the rate is usable: the denominator must be
// non-zero. The numerator may exceed the denominator (rates above one are
// legal in general; specific uses constrain further).
func (r Rate) IsValid() bool {
	return r.Denominator > 0
}

// IsBelowOne reports numerator <= denominator.
func (r Rate) IsBelowOne() bool {
	return r.Numerator <= r.Denominator
}

// IsAboveOne reports numerator >= denominator.
func (r Rate) IsAboveOne() bool {
	return r.Numerator >= r.Denominator
}

// Calculate returns floor(base * numerator / denominator). Rounding is
// always downward by construction.
func (r Rate) Calculate(base int64) int64 {
	return MulDiv(base, int64(r.Numerator), int64(r.Denominator))
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
}
