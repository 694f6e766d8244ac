package benefit

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ExistingRecordFinder looks up active benefit records in one call.
type ExistingRecordFinder interface {
	// FindActiveByNationalIDs returns the active records of the given
	// students for the period.
	FindActiveByNationalIDs(ctx context.Context, nationalIDs []string, periodID string) ([]ExistingRecord, error)
}

// Repository is the persistence collaborator for granted benefits.
type Repository interface {
	ExistingRecordFinder

	// SaveGroup inserts the records of one commit group and deactivates every
	// record they supersede. Either all of it is written or none of it; a
	// failure caused by one record is returned as a *GroupWriteError.
	SaveGroup(ctx context.Context, records []*Record) error
}

// GroupWriteError names the record whose write aborted a group.
type GroupWriteError struct {
	NationalID string
	Err        error
}

func (e *GroupWriteError) Error() string {
	return fmt.Sprintf("record for %s: %v", e.NationalID, e.Err)
}

func (e *GroupWriteError) Unwrap() error {
	return e.Err
}

// DefinitionRepository reads benefit program definitions.
type DefinitionRepository interface {
	// GetBenefit returns a benefit definition by ID.
	GetBenefit(ctx context.Context, id string) (*Benefit, error)

	// ListBenefits returns all active definitions.
	ListBenefits(ctx context.Context) ([]Benefit, error)
}

// Record is a granted benefit as persisted.
type Record struct {
	ID                 string          `json:"id"`
	NationalID         string          `json:"national_id"`
	ExternalPersonID   string          `json:"external_person_id"`
	FullName           string          `json:"full_name"`
	BenefitID          string          `json:"benefit_id"`
	PeriodID           string          `json:"period_id"`
	RequestID          string          `json:"request_id,omitempty"`
	DiscountFraction   decimal.Decimal `json:"discount_fraction"`
	TotalCreditWeight  decimal.Decimal `json:"total_credit_weight"`
	CreditsUnderDisc   decimal.Decimal `json:"credits_under_discount"`
	DiscountedTuition  decimal.Decimal `json:"discounted_tuition"`
	Balance            decimal.Decimal `json:"balance"`
	PlanType           PlanType        `json:"plan_type"`
	PaymentReference   string          `json:"payment_reference"`
	SupersedesRecordID string          `json:"supersedes_record_id,omitempty"`
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"created_at"`
}

// NewRecord hydrates a record from a resolved candidate.
func NewRecord(c *Candidate, periodID, requestID, supersedes string) *Record {
	return &Record{
		NationalID:         c.NationalID,
		ExternalPersonID:   c.ExternalPersonID,
		FullName:           c.FullName,
		BenefitID:          c.BenefitID,
		PeriodID:           periodID,
		RequestID:          requestID,
		DiscountFraction:   c.DiscountFraction,
		TotalCreditWeight:  c.TotalCreditWeight,
		CreditsUnderDisc:   c.Totals.CreditsUnderDiscount,
		DiscountedTuition:  c.Totals.DiscountedTuition,
		Balance:            c.Totals.Balance,
		PlanType:           c.Payment.PlanType,
		PaymentReference:   c.Payment.ReferenceText,
		SupersedesRecordID: supersedes,
		Active:             true,
		CreatedAt:          time.Now().UTC(),
	}
}
