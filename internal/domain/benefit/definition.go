package benefit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// Kind distinguishes how a benefit's percentage is obtained.
type Kind string

const (
	// KindFamily percentages come from the tier table by family rank.
	KindFamily Kind = "family"

	// KindFixed benefits carry their own percentage.
	KindFixed Kind = "fixed"

	// KindCustom benefits take an operator-supplied percentage.
	KindCustom Kind = "custom"
)

// Benefit is a tuition discount program.
type Benefit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Percentage is the fixed discount fraction in [0,1], if any.
	Percentage decimal.NullDecimal `json:"percentage"`

	// CreditLimit caps how many credits the discount applies to, if any.
	CreditLimit decimal.NullDecimal `json:"credit_limit"`

	Active bool `json:"active"`
}

// Validate checks the definition invariants.
func (b Benefit) Validate() error {
	if b.ID == "" {
		return shared.NewDomainError("benefit", "Validate", shared.ErrValidation, "benefit id is required")
	}
	if b.Percentage.Valid && !IsFraction(b.Percentage.Decimal) {
		return shared.NewDomainError("benefit", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("benefit %s percentage %s is outside [0,1]", b.ID, b.Percentage.Decimal))
	}
	if b.CreditLimit.Valid && b.CreditLimit.Decimal.IsNegative() {
		return shared.NewDomainError("benefit", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("benefit %s credit limit cannot be negative", b.ID))
	}
	return nil
}

// IsFraction reports whether d lies in [0,1].
func IsFraction(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
