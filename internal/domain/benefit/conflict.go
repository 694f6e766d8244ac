package benefit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// ExistingRecord is a previously granted benefit. The resolver only reads it
// and flags it for deactivation.
type ExistingRecord struct {
	ID               string          `json:"id"`
	NationalID       string          `json:"national_id"`
	BenefitID        string          `json:"benefit_id"`
	BenefitName      string          `json:"benefit_name"`
	DiscountFraction decimal.Decimal `json:"discount_fraction"`
	PeriodID         string          `json:"period_id"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ConflictRequest is a candidate benefit to be checked.
type ConflictRequest struct {
	NationalID string `json:"national_id"`
	BenefitID  string `json:"benefit_id"`
}

// ConflictKind classifies the overlap with an existing record.
type ConflictKind string

const (
	ConflictNone ConflictKind = "none"

	// ConflictSoft: a different benefit is active; the new one supersedes it.
	ConflictSoft ConflictKind = "soft"

	// ConflictHard: the same benefit is already active; the candidate is rejected.
	ConflictHard ConflictKind = "hard"
)

// ConflictCheck is the classification of one request.
type ConflictCheck struct {
	Request            ConflictRequest `json:"request"`
	Kind               ConflictKind    `json:"kind"`
	Existing           *ExistingRecord `json:"existing,omitempty"`
	SupersedesRecordID string          `json:"supersedes_record_id,omitempty"`
	Message            string          `json:"message,omitempty"`
}

// Committable reports whether the request may be persisted.
func (c ConflictCheck) Committable() bool {
	return c.Kind != ConflictHard
}

// Err returns the conflict as an error value, or nil when there is none.
func (c ConflictCheck) Err() error {
	switch c.Kind {
	case ConflictHard:
		return shared.NewDomainError("benefit", "CheckConflict", shared.ErrHardConflict, c.Message)
	case ConflictSoft:
		return shared.NewDomainError("benefit", "CheckConflict", shared.ErrSoftConflict, c.Message)
	default:
		return nil
	}
}

// ConflictReport holds the classification of a batch, in request order.
type ConflictReport struct {
	PeriodID string          `json:"period_id"`
	Checks   []ConflictCheck `json:"checks"`
}

// Committable returns the checks that may be persisted.
func (r ConflictReport) Committable() []ConflictCheck {
	return r.filter(func(c ConflictCheck) bool { return c.Committable() })
}

// Rejected returns the hard conflicts.
func (r ConflictReport) Rejected() []ConflictCheck {
	return r.filter(func(c ConflictCheck) bool { return c.Kind == ConflictHard })
}

// Superseding returns the soft conflicts.
func (r ConflictReport) Superseding() []ConflictCheck {
	return r.filter(func(c ConflictCheck) bool { return c.Kind == ConflictSoft })
}

// ForNationalID returns the check of a student.
func (r ConflictReport) ForNationalID(nationalID string) (ConflictCheck, bool) {
	for _, c := range r.Checks {
		if c.Request.NationalID == nationalID {
			return c, true
		}
	}
	return ConflictCheck{}, false
}

func (r ConflictReport) filter(keep func(ConflictCheck) bool) []ConflictCheck {
	out := make([]ConflictCheck, 0, len(r.Checks))
	for _, c := range r.Checks {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// Classify compares each request with the existing record of its student.
// It is a pure function of its inputs.
func Classify(requests []ConflictRequest, existing map[string]ExistingRecord, periodID string) ConflictReport {
	report := ConflictReport{
		PeriodID: periodID,
		Checks:   make([]ConflictCheck, 0, len(requests)),
	}

	for _, req := range requests {
		check := ConflictCheck{Request: req, Kind: ConflictNone}

		if rec, ok := existing[req.NationalID]; ok {
			rec := rec
			check.Existing = &rec
			name := rec.BenefitName
			if name == "" {
				name = rec.BenefitID
			}
			pct := rec.DiscountFraction.Mul(decimal.NewFromInt(100)).StringFixed(0)

			if rec.BenefitID == req.BenefitID {
				check.Kind = ConflictHard
				check.Message = fmt.Sprintf("student %s already holds benefit %s (%s%%) for period %s",
					req.NationalID, name, pct, periodID)
			} else {
				check.Kind = ConflictSoft
				check.SupersedesRecordID = rec.ID
				check.Message = fmt.Sprintf("student %s holds benefit %s (%s%%) for period %s; it will be deactivated",
					req.NationalID, name, pct, periodID)
			}
		}

		report.Checks = append(report.Checks, check)
	}

	return report
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICT RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// ConflictResolver checks candidates against active benefit records with a
// single batched lookup.
type ConflictResolver struct {
	finder ExistingRecordFinder
	logger *slog.Logger
}

// NewConflictResolver creates a resolver over the record finder.
func NewConflictResolver(finder ExistingRecordFinder, logger *slog.Logger) *ConflictResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConflictResolver{finder: finder, logger: logger}
}

// CheckBatch returns the active records of the given students for a period,
// keyed by national ID. The returned map is read-only after construction.
func (r *ConflictResolver) CheckBatch(ctx context.Context, nationalIDs []string, periodID string) (map[string]ExistingRecord, error) {
	seen := make(map[string]struct{}, len(nationalIDs))
	ids := make([]string, 0, len(nationalIDs))
	for _, id := range nationalIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	result := make(map[string]ExistingRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	records, err := r.finder.FindActiveByNationalIDs(ctx, ids, periodID)
	if err != nil {
		return nil, fmt.Errorf("find active benefits for period %s: %w", periodID, err)
	}

	for _, rec := range records {
		if !rec.Active || rec.PeriodID != periodID {
			continue
		}
		if prev, ok := result[rec.NationalID]; ok && prev.CreatedAt.After(rec.CreatedAt) {
			continue
		}
		result[rec.NationalID] = rec
	}

	return result, nil
}

// Check classifies every request against the batch lookup.
func (r *ConflictResolver) Check(ctx context.Context, requests []ConflictRequest, periodID string) (ConflictReport, error) {
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.NationalID)
	}

	existing, err := r.CheckBatch(ctx, ids, periodID)
	if err != nil {
		return ConflictReport{}, err
	}

	report := Classify(requests, existing, periodID)

	r.logger.Info("benefit conflicts checked",
		"period", periodID,
		"requests", len(requests),
		"hard", len(report.Rejected()),
		"soft", len(report.Superseding()),
	)

	return report, nil
}
