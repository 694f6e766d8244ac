package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
)

// Repository is the persistence collaborator for the catalog.
type Repository interface {
	// FindCourses returns the known courses among keys. Unknown keys are
	// absent from the map.
	FindCourses(ctx context.Context, keys []CourseKey) (map[CourseKey]Course, error)

	// GetTuitionRate returns the rate of a normalized major, or an error
	// wrapping shared.ErrNotFound.
	GetTuitionRate(ctx context.Context, normalizedMajor string) (*TuitionRate, error)

	UpsertCourses(ctx context.Context, courses []Course) (int, error)
	UpsertTuitionRates(ctx context.Context, rates []TuitionRate) (int, error)
}

// Valuation is the catalog view of one candidate's subjects.
type Valuation struct {
	// Subjects are copies of the input carrying credit weights. Courses
	// missing from the catalog stay unvaluated.
	Subjects          []benefit.SubjectRecord `json:"subjects"`
	TotalCreditWeight decimal.Decimal         `json:"total_credit_weight"`
	TuitionRate       decimal.Decimal         `json:"tuition_rate"`
	Unvaluated        []CourseKey             `json:"unvaluated,omitempty"`
}

// Valuator maps subjects to credit weights and a major to its tuition rate.
// When the major has no rate, the returned valuation still carries the
// subject weights with a zero rate and the error wraps
// shared.ErrAmbiguousCareer.
type Valuator interface {
	Valuate(ctx context.Context, subjects []benefit.SubjectRecord, normalizedMajor string) (Valuation, error)
}

// Keys returns the distinct catalog keys of subjects, in first-seen order.
func Keys(subjects []benefit.SubjectRecord) []CourseKey {
	seen := make(map[CourseKey]struct{}, len(subjects))
	keys := make([]CourseKey, 0, len(subjects))
	for _, s := range subjects {
		k := KeyOf(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Apply assigns catalog weights to subjects. It does not modify its input.
func Apply(subjects []benefit.SubjectRecord, courses map[CourseKey]Course) Valuation {
	v := Valuation{
		Subjects:          make([]benefit.SubjectRecord, 0, len(subjects)),
		TotalCreditWeight: decimal.Zero,
		TuitionRate:       decimal.Zero,
	}
	missing := make(map[CourseKey]struct{})

	for _, s := range subjects {
		k := KeyOf(s)
		course, ok := courses[k]
		if !ok {
			if _, dup := missing[k]; !dup {
				missing[k] = struct{}{}
				v.Unvaluated = append(v.Unvaluated, k)
			}
			v.Subjects = append(v.Subjects, s)
			continue
		}
		v.Subjects = append(v.Subjects, s.WithCreditWeight(course.CreditWeight))
	}

	v.TotalCreditWeight = benefit.TotalCreditWeight(v.Subjects)
	return v
}
