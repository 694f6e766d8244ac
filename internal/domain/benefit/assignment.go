package benefit

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY RULES
// ══════════════════════════════════════════════════════════════════════════════

// PolicyRules are the configuration-driven special cases of the monetary
// computation.
type PolicyRules struct {
	// TechCreditAmount is the technology credit charged per period.
	TechCreditAmount decimal.Decimal

	// TechCreditExemptMajors lists normalized major names that are never
	// charged the technology credit.
	TechCreditExemptMajors []string

	// EarlyPayment is the early-payment ("pronto pago") rule.
	EarlyPayment EarlyPaymentRule
}

// EarlyPaymentRule grants an extra discount on the discounted credit tuition
// to candidates whose plan is listed.
type EarlyPaymentRule struct {
	Enabled  bool
	Plans    []PlanType
	Fraction decimal.Decimal
}

// appliesTo reports whether the rule covers the plan.
func (r EarlyPaymentRule) appliesTo(plan PlanType) bool {
	if !r.Enabled || !r.Fraction.IsPositive() {
		return false
	}
	for _, p := range r.Plans {
		if p == plan {
			return true
		}
	}
	return false
}

// techCreditFor returns the technology credit applicable to a major.
func (p PolicyRules) techCreditFor(normalizedMajor string) decimal.Decimal {
	for _, m := range p.TechCreditExemptMajors {
		if strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(normalizedMajor)) {
			return decimal.Zero
		}
	}
	return p.TechCreditAmount
}

// ══════════════════════════════════════════════════════════════════════════════
// TOTALS
// ══════════════════════════════════════════════════════════════════════════════

// Totals is the monetary breakdown of one candidate.
type Totals struct {
	CreditsUnderDiscount decimal.Decimal `json:"credits_under_discount"`

	// Tuition is the undiscounted amount: all credits at the rate plus the
	// applicable technology credit.
	Tuition decimal.Decimal `json:"tuition"`

	// DiscountedTuition is the discounted credit tuition plus the technology
	// credit actually charged.
	DiscountedTuition decimal.Decimal `json:"discounted_tuition"`

	// TechCredit is the technology credit actually charged. A full waiver
	// charges none.
	TechCredit decimal.Decimal `json:"tech_credit"`

	EarlyPaymentDiscount decimal.Decimal `json:"early_payment_discount"`

	// Balance may be negative: a credit in the student's favor.
	Balance decimal.Decimal `json:"balance"`
}

// InFavor reports whether the student paid more than owed.
func (t Totals) InFavor() bool {
	return t.Balance.IsNegative()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

var one = decimal.NewFromInt(1)

// Engine assigns discount fractions and computes monetary totals.
type Engine struct {
	tiers  TierTable
	policy PolicyRules
}

// NewEngine creates an engine over the family tier table and policy rules.
func NewEngine(tiers TierTable, policy PolicyRules) *Engine {
	return &Engine{tiers: tiers, policy: policy}
}

// Tiers returns the family tier table.
func (e *Engine) Tiers() TierTable {
	return e.tiers
}

// Rank sorts members by credit weight, highest first.
func (e *Engine) Rank(members []*Candidate) []*Candidate {
	return RankByCreditWeight(members)
}

// DetectTies reports tie groups of an already ranked slice. It is safe to
// call for display at any time.
func (e *Engine) DetectTies(ranked []*Candidate) []TieGroup {
	return DetectTies(ranked)
}

// ApplyManualOrder breaks ties with an operator order.
func (e *Engine) ApplyManualOrder(ranked []*Candidate, order []string) ([]*Candidate, error) {
	return ApplyManualOrder(ranked, order)
}

// AssignFamily ranks members, resolves ties with the manual order and
// assigns tier percentages by rank. When ties remain unresolved the returned
// group lists them, is not finalized, and the error wraps ErrUnresolvedTies.
func (e *Engine) AssignFamily(requestID string, members []*Candidate, b Benefit, manualOrder []string) (*FamilyGroup, error) {
	ranked := RankByCreditWeight(members)
	group := &FamilyGroup{
		RequestID: requestID,
		Members:   ranked,
		Ties:      DetectTies(ranked),
	}

	if len(group.Ties) > 0 {
		resolved, err := ApplyManualOrder(ranked, manualOrder)
		if err != nil {
			return group, err
		}
		group.Members = resolved
		group.ManualOrder = manualOrder
	}

	for rank, c := range group.Members {
		c.BenefitID = b.ID
		c.DiscountFraction = e.tiers.PercentageFor(rank)
		c.Totals = e.ComputeTotals(c, b)
	}
	group.Finalized = true
	return group, nil
}

// AssignSingle assigns a non-family benefit to one candidate. Benefits with a
// fixed percentage ignore custom; otherwise custom must lie in (0,1].
func (e *Engine) AssignSingle(c *Candidate, b Benefit, custom decimal.NullDecimal) error {
	fraction, err := SingleFraction(b, custom)
	if err != nil {
		return err
	}
	c.BenefitID = b.ID
	c.DiscountFraction = fraction
	c.Totals = e.ComputeTotals(c, b)
	return nil
}

// SingleFraction resolves the discount fraction of a non-family benefit.
func SingleFraction(b Benefit, custom decimal.NullDecimal) (decimal.Decimal, error) {
	if b.Percentage.Valid {
		return b.Percentage.Decimal, nil
	}
	if !custom.Valid {
		return decimal.Zero, shared.NewDomainError("benefit", "AssignSingle", shared.ErrValidation,
			fmt.Sprintf("benefit %s has no fixed percentage, a custom percentage is required", b.ID))
	}
	if !custom.Decimal.IsPositive() || custom.Decimal.GreaterThan(one) {
		return decimal.Zero, shared.NewDomainError("benefit", "AssignSingle", shared.ErrValueOutOfRange,
			fmt.Sprintf("custom percentage %s must be in (0,1]", custom.Decimal))
	}
	return custom.Decimal, nil
}

// ComputeTotals applies the candidate's discount fraction under the benefit's
// credit limit and the policy rules.
func (e *Engine) ComputeTotals(c *Candidate, b Benefit) Totals {
	total := c.TotalCreditWeight
	rate := c.TuitionRate
	fraction := c.DiscountFraction

	under := total
	if b.CreditLimit.Valid && b.CreditLimit.Decimal.LessThan(total) {
		under = b.CreditLimit.Decimal
	}

	discountedCredits := under.Mul(rate).Mul(one.Sub(fraction)).
		Add(total.Sub(under).Mul(rate))

	applicableTech := e.policy.techCreditFor(c.NormalizedMajor)
	chargedTech := applicableTech
	if fraction.Equal(one) {
		chargedTech = decimal.Zero
	}

	early := decimal.Zero
	if e.policy.EarlyPayment.appliesTo(c.Payment.PlanType) {
		early = discountedCredits.Mul(e.policy.EarlyPayment.Fraction)
	}

	discounted := discountedCredits.Add(chargedTech)
	balance := discounted.
		Sub(early).
		Sub(c.Payment.AmountPaid).
		Sub(c.Payment.PeriodPaymentsAggregate)
	if c.Payment.TechCreditPaid {
		balance = balance.Sub(chargedTech)
	}

	return Totals{
		CreditsUnderDiscount: under,
		Tuition:              total.Mul(rate).Add(applicableTech).Round(2),
		DiscountedTuition:    discounted.Round(2),
		TechCredit:           chargedTech.Round(2),
		EarlyPaymentDiscount: early.Round(2),
		Balance:              balance.Round(2),
	}
}
