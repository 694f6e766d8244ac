package benefit

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYMENT INFO
// ══════════════════════════════════════════════════════════════════════════════

// PlanType is the tuition plan a student paid for a period.
type PlanType string

const (
	PlanStandard     PlanType = "STANDARD"
	PlanPlus         PlanType = "PLUS"
	PlanNoneOnRecord PlanType = "NONE_ON_RECORD"
)

// IsValid reports whether p is a known plan type.
func (p PlanType) IsValid() bool {
	switch p {
	case PlanStandard, PlanPlus, PlanNoneOnRecord:
		return true
	}
	return false
}

// PaymentInfo summarises what a candidate paid for the target periods.
type PaymentInfo struct {
	PlanType                PlanType        `json:"plan_type"`
	ReferenceText           string          `json:"reference_text"`
	AmountPaid              decimal.Decimal `json:"amount_paid"`
	PeriodPaymentsAggregate decimal.Decimal `json:"period_payments_aggregate"`
	TechCreditPaid          bool            `json:"tech_credit_paid"`

	// ManualEntry is set when an operator supplied the plan instead of the
	// payment history.
	ManualEntry bool `json:"manual_entry"`
}

// HasPlan reports whether a recognised plan was found or entered.
func (p PaymentInfo) HasPlan() bool {
	return p.PlanType == PlanStandard || p.PlanType == PlanPlus
}

// NoPayment returns the PaymentInfo of a candidate without a plan on record.
func NoPayment() PaymentInfo {
	return PaymentInfo{
		PlanType:                PlanNoneOnRecord,
		AmountPaid:              decimal.Zero,
		PeriodPaymentsAggregate: decimal.Zero,
	}
}

// ManualPayment is the data an operator fills in for a candidate whose
// payment history carried no recognised plan.
type ManualPayment struct {
	ReferenceText string          `json:"reference_text"`
	PlanType      PlanType        `json:"plan_type"`
	Amount        decimal.Decimal `json:"amount"`
}

// Validate checks the manual entry contract.
func (m ManualPayment) Validate() error {
	if strings.TrimSpace(m.ReferenceText) == "" {
		return shared.NewDomainError("payment", "ManualEntry", shared.ErrValidation, "reference text is required")
	}
	if m.PlanType != PlanStandard && m.PlanType != PlanPlus {
		return shared.NewDomainError("payment", "ManualEntry", shared.ErrValidation,
			fmt.Sprintf("plan type must be %s or %s", PlanStandard, PlanPlus))
	}
	if m.Amount.IsNegative() {
		return shared.NewDomainError("payment", "ManualEntry", shared.ErrValueOutOfRange, "amount cannot be negative")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CANDIDATE
// ══════════════════════════════════════════════════════════════════════════════

// Candidate is the working record for one student within one resolution run.
// It is owned by exactly one resolution task and mutated in place as each
// stage completes.
type Candidate struct {
	ExternalPersonID string `json:"external_person_id"`
	NationalID       string `json:"national_id"`
	FullName         string `json:"full_name"`

	// DeclaredMajor is the raw major string from the academic service.
	DeclaredMajor string `json:"declared_major"`

	// NormalizedMajor is DeclaredMajor without diacritics, upper-cased.
	NormalizedMajor string `json:"normalized_major"`

	Subjects          []SubjectRecord `json:"subjects"`
	TotalCreditWeight decimal.Decimal `json:"total_credit_weight"`
	TuitionRate       decimal.Decimal `json:"tuition_rate"`

	Payment PaymentInfo `json:"payment"`

	BenefitID        string          `json:"benefit_id,omitempty"`
	DiscountFraction decimal.Decimal `json:"discount_fraction"`
	Totals           Totals          `json:"totals"`
}

// NewCandidate creates a candidate for a person found in the academic service.
func NewCandidate(externalID, nationalID, fullName string) *Candidate {
	return &Candidate{
		ExternalPersonID:  externalID,
		NationalID:        nationalID,
		FullName:          fullName,
		TotalCreditWeight: decimal.Zero,
		TuitionRate:       decimal.Zero,
		Payment:           NoPayment(),
		DiscountFraction:  decimal.Zero,
	}
}

// SetSubjects replaces the subject list and recomputes the total weight.
func (c *Candidate) SetSubjects(subjects []SubjectRecord) {
	c.Subjects = subjects
	c.TotalCreditWeight = TotalCreditWeight(subjects)
}

// ApplyManualPayment fills the payment contract from an operator entry.
func (c *Candidate) ApplyManualPayment(m ManualPayment) error {
	if err := m.Validate(); err != nil {
		return err
	}
	c.Payment.PlanType = m.PlanType
	c.Payment.ReferenceText = strings.TrimSpace(m.ReferenceText)
	c.Payment.AmountPaid = m.Amount
	c.Payment.ManualEntry = true
	return nil
}

// Label returns a short identification for logs and messages.
func (c *Candidate) Label() string {
	if c.FullName == "" {
		return c.NationalID
	}
	return fmt.Sprintf("%s (%s)", c.FullName, c.NationalID)
}
