// Package catalog holds the course catalog and tuition rates used to value a
// student's enrolled subjects. Weights are catalog-assigned ("UVE") and may
// differ from the academic credits printed on a kardex.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/textnorm"
)

// CourseKey identifies a catalog course by the triple printed on a kardex.
type CourseKey struct {
	Code     string                  `json:"code"`
	Title    string                  `json:"title"`
	Category benefit.SubjectCategory `json:"category"`
}

// NewCourseKey builds a normalized key.
func NewCourseKey(code, title string, category benefit.SubjectCategory) CourseKey {
	if category == "" {
		category = benefit.CategoryStandard
	}
	return CourseKey{
		Code:     strings.ToUpper(strings.TrimSpace(code)),
		Title:    textnorm.Normalize(title),
		Category: category,
	}
}

// KeyOf returns the catalog key of a kardex subject.
func KeyOf(s benefit.SubjectRecord) CourseKey {
	return NewCourseKey(s.Code, s.Title, s.Category)
}

// String returns a stable representation, used as a cache key suffix.
func (k CourseKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Code, k.Title, k.Category)
}

// Course is one catalog entry.
type Course struct {
	Key          CourseKey       `json:"key"`
	CreditWeight decimal.Decimal `json:"credit_weight"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Validate checks the course invariants.
func (c Course) Validate() error {
	if c.Key.Code == "" {
		return shared.NewDomainError("catalog", "Validate", shared.ErrValidation, "course code is required")
	}
	if c.CreditWeight.IsNegative() {
		return shared.NewDomainError("catalog", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("course %s has negative credit weight %s", c.Key.Code, c.CreditWeight))
	}
	return nil
}

// TuitionRate is the price of one credit for a major.
type TuitionRate struct {
	Major           string          `json:"major"`
	NormalizedMajor string          `json:"normalized_major"`
	Rate            decimal.Decimal `json:"rate"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewTuitionRate builds a rate with its normalized major.
func NewTuitionRate(major string, rate decimal.Decimal) TuitionRate {
	return TuitionRate{
		Major:           strings.TrimSpace(major),
		NormalizedMajor: textnorm.Normalize(major),
		Rate:            rate,
	}
}

// Validate checks the rate invariants.
func (r TuitionRate) Validate() error {
	if r.NormalizedMajor == "" {
		return shared.NewDomainError("catalog", "Validate", shared.ErrValidation, "major is required")
	}
	if r.Rate.IsNegative() {
		return shared.NewDomainError("catalog", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("major %s has negative rate %s", r.Major, r.Rate))
	}
	return nil
}
