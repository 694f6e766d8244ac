package benefit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testTiers(t *testing.T) TierTable {
	t.Helper()
	tiers, err := NewTierTable([]decimal.Decimal{dec("0.5"), dec("0.25"), dec("0.15")})
	require.NoError(t, err)
	return tiers
}

var familyBenefit = Benefit{ID: "family", Name: "Family support", Kind: KindFamily, Active: true}

func TestAssignFamily_RefusesUnresolvedTies(t *testing.T) {
	engine := NewEngine(testTiers(t), PolicyRules{})
	members := []*Candidate{member("a", 30), member("b", 30), member("c", 25), member("d", 20)}

	group, err := engine.AssignFamily("req-1", members, familyBenefit, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrUnresolvedTies)
	require.NotNil(t, group)
	assert.False(t, group.Committable())
	require.Len(t, group.Ties, 1)
	assert.Equal(t, 2, group.Ties[0].Size())
	for _, m := range members {
		assert.True(t, m.DiscountFraction.IsZero(), "no percentage before the tie is resolved")
	}
}

func TestAssignFamily_WithManualOrder(t *testing.T) {
	engine := NewEngine(testTiers(t), PolicyRules{})
	members := []*Candidate{member("a", 30), member("b", 30), member("c", 25), member("d", 20)}

	group, err := engine.AssignFamily("req-1", members, familyBenefit, []string{"b", "a"})

	require.NoError(t, err)
	assert.True(t, group.Committable())
	assert.Equal(t, []string{"b", "a", "c", "d"}, nationalIDs(group.Members))
	assert.True(t, group.Members[0].DiscountFraction.Equal(dec("0.5")))
	assert.True(t, group.Members[1].DiscountFraction.Equal(dec("0.25")))
	assert.True(t, group.Members[2].DiscountFraction.Equal(dec("0.15")))
	assert.True(t, group.Members[3].DiscountFraction.IsZero(), "beyond the tier table gets zero")
	for _, m := range group.Members {
		assert.Equal(t, "family", m.BenefitID)
	}
	assert.Equal(t, []string{"b", "a"}, group.ManualOrder)
	assert.NoError(t, VerifyRanking(group.Members, group.ManualOrder))
}

func TestAssignSingle(t *testing.T) {
	engine := NewEngine(nil, PolicyRules{})

	t.Run("fixed percentage wins over custom", func(t *testing.T) {
		c := member("a", 20)
		b := Benefit{ID: "merit", Kind: KindFixed, Percentage: decimal.NewNullDecimal(dec("0.3"))}
		require.NoError(t, engine.AssignSingle(c, b, decimal.NewNullDecimal(dec("0.9"))))
		assert.True(t, c.DiscountFraction.Equal(dec("0.3")))
	})

	t.Run("custom required", func(t *testing.T) {
		c := member("a", 20)
		err := engine.AssignSingle(c, Benefit{ID: "grant", Kind: KindCustom}, decimal.NullDecimal{})
		assert.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("custom out of range", func(t *testing.T) {
		for _, v := range []string{"0", "-0.1", "1.01"} {
			c := member("a", 20)
			err := engine.AssignSingle(c, Benefit{ID: "grant", Kind: KindCustom}, decimal.NewNullDecimal(dec(v)))
			assert.ErrorIs(t, err, shared.ErrValueOutOfRange, v)
		}
	})

	t.Run("custom full waiver accepted", func(t *testing.T) {
		c := member("a", 20)
		require.NoError(t, engine.AssignSingle(c, Benefit{ID: "grant", Kind: KindCustom}, decimal.NewNullDecimal(dec("1"))))
		assert.True(t, c.DiscountFraction.Equal(dec("1")))
	})
}

func TestComputeTotals_Formula(t *testing.T) {
	engine := NewEngine(nil, PolicyRules{TechCreditAmount: dec("50")})
	c := member("a", 30)
	c.DiscountFraction = dec("0.5")
	c.Payment = PaymentInfo{PlanType: PlanStandard, AmountPaid: dec("400"), PeriodPaymentsAggregate: dec("100")}
	b := Benefit{ID: "x", CreditLimit: decimal.NewNullDecimal(dec("20"))}

	totals := engine.ComputeTotals(c, b)

	// 20*100*0.5 + 10*100 = 2000, plus tech credit 50
	assert.True(t, totals.CreditsUnderDiscount.Equal(dec("20")))
	assert.True(t, totals.Tuition.Equal(dec("3050")), totals.Tuition.String())
	assert.True(t, totals.DiscountedTuition.Equal(dec("2050")), totals.DiscountedTuition.String())
	assert.True(t, totals.TechCredit.Equal(dec("50")))
	assert.True(t, totals.Balance.Equal(dec("1550")), totals.Balance.String())
}

func TestComputeTotals_MonetaryInvariants(t *testing.T) {
	engine := NewEngine(nil, PolicyRules{TechCreditAmount: dec("75")})
	limits := []decimal.NullDecimal{{}, decimal.NewNullDecimal(dec("12")), decimal.NewNullDecimal(dec("0"))}
	fractions := []string{"0", "0.1", "0.25", "0.5", "0.99", "1"}

	for _, limit := range limits {
		for _, f := range fractions {
			c := member("a", 24)
			c.DiscountFraction = dec(f)
			totals := engine.ComputeTotals(c, Benefit{ID: "x", CreditLimit: limit})

			if c.DiscountFraction.IsZero() {
				assert.True(t, totals.DiscountedTuition.Equal(totals.Tuition), "fraction 0 must not discount")
			} else {
				assert.True(t, totals.DiscountedTuition.LessThanOrEqual(totals.Tuition), "fraction %s", f)
			}
		}
	}
}

func TestComputeTotals_FullWaiverDropsTechCredit(t *testing.T) {
	engine := NewEngine(nil, PolicyRules{TechCreditAmount: dec("75")})
	c := member("a", 24)
	c.DiscountFraction = dec("1")

	totals := engine.ComputeTotals(c, Benefit{ID: "x"})

	assert.True(t, totals.TechCredit.IsZero())
	assert.True(t, totals.DiscountedTuition.IsZero())
}

func TestComputeTotals_NegativeBalanceIsCreditInFavor(t *testing.T) {
	engine := NewEngine(nil, PolicyRules{TechCreditAmount: dec("50")})
	c := member("a", 10)
	c.DiscountFraction = dec("0.5")
	c.Payment = PaymentInfo{PlanType: PlanPlus, AmountPaid: dec("1000"), TechCreditPaid: true}

	totals := engine.ComputeTotals(c, Benefit{ID: "x"})

	// 10*100*0.5 + 50 - 1000 - 50
	assert.True(t, totals.Balance.Equal(dec("-500")), totals.Balance.String())
	assert.True(t, totals.InFavor())
}

func TestComputeTotals_PolicyRules(t *testing.T) {
	engine := NewEngine(nil, PolicyRules{
		TechCreditAmount:       dec("50"),
		TechCreditExemptMajors: []string{"MEDICINA"},
		EarlyPayment: EarlyPaymentRule{
			Enabled:  true,
			Plans:    []PlanType{PlanPlus},
			Fraction: dec("0.1"),
		},
	})

	exempt := member("a", 10)
	exempt.NormalizedMajor = "MEDICINA"
	totals := engine.ComputeTotals(exempt, Benefit{ID: "x"})
	assert.True(t, totals.TechCredit.IsZero())
	assert.True(t, totals.Tuition.Equal(dec("1000")))

	early := member("b", 10)
	early.Payment.PlanType = PlanPlus
	totals = engine.ComputeTotals(early, Benefit{ID: "x"})
	assert.True(t, totals.EarlyPaymentDiscount.Equal(dec("100")), totals.EarlyPaymentDiscount.String())
	assert.True(t, totals.Balance.Equal(dec("950")), totals.Balance.String())
}

func TestNewTierTable_RejectsOutOfRange(t *testing.T) {
	_, err := NewTierTable([]decimal.Decimal{dec("0.5"), dec("1.5")})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}
