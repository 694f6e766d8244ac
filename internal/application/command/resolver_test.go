package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

func TestResolve_Found(t *testing.T) {
	f := newFixture(t)
	f.gateway.add("p1", "1001", "Ana Pérez", "Ingeniería Civil", "Plan Estándar 1/2024", "MAT101", "FIS101")

	outcome, err := f.resolver.Resolve(context.Background(), byID("1001"), []benefit.Period{p2024a}, true)

	require.NoError(t, err)
	found, ok := outcome.(benefit.Found)
	require.True(t, ok, "got %T", outcome)
	c := found.Candidate
	assert.Equal(t, "p1", c.ExternalPersonID)
	assert.Equal(t, "INGENIERIA CIVIL", c.NormalizedMajor)
	assert.True(t, c.TotalCreditWeight.Equal(dec("9")))
	assert.True(t, c.TuitionRate.Equal(dec("100")))
	assert.Equal(t, benefit.PlanStandard, c.Payment.PlanType)
	assert.False(t, c.Payment.ManualEntry)
}

func TestResolve_PersonNotFound(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.resolver.Resolve(context.Background(), byID("404"), []benefit.Period{p2024a}, true)

	require.NoError(t, err)
	assert.Equal(t, benefit.OutcomePersonNotFound, outcome.Kind())
	assert.Contains(t, outcome.Reason(), "404")
}

func TestResolve_FallsBackToName(t *testing.T) {
	f := newFixture(t)
	f.gateway.add("p1", "1001", "Ana Pérez", "Ingeniería Civil", "Plan Estándar 1/2024", "MAT101")

	req := StudentRequest{StudentCriteria: StudentCriteria{NationalID: "9999", FullName: "Ana Pérez"}}
	outcome, err := f.resolver.Resolve(context.Background(), req, []benefit.Period{p2024a}, true)

	require.NoError(t, err)
	require.Equal(t, benefit.OutcomeFound, outcome.Kind())
	assert.Equal(t, []string{"9999", "Ana Pérez"}, f.gateway.searches)
	c, _ := benefit.CandidateOf(outcome)
	assert.Equal(t, "1001", c.NationalID, "the service's national id wins over the typed one")
}

func TestResolve_NoMatchingPeriod(t *testing.T) {
	f := newFixture(t)
	f.gateway.add("p1", "1001", "Ana Pérez", "Ingeniería Civil", "Plan Estándar 1/2024", "MAT101")
	other := []benefit.Period{{ID: "p-2025-1", Name: "1/2025"}}

	t.Run("strict is an error", func(t *testing.T) {
		_, err := f.resolver.Resolve(context.Background(), byID("1001"), other, true)
		assert.ErrorIs(t, err, shared.ErrNoMatchingPeriod)
	})

	t.Run("lenient is an outcome", func(t *testing.T) {
		outcome, err := f.resolver.Resolve(context.Background(), byID("1001"), other, false)
		require.NoError(t, err)
		assert.Equal(t, benefit.OutcomeMissingKardex, outcome.Kind())
		assert.Zero(t, f.gateway.payments("p1"), "payments are not fetched without a kardex")
	})
}

func TestResolve_MissingPayment(t *testing.T) {
	f := newFixture(t)
	f.gateway.add("p1", "1001", "Ana Pérez", "Ingeniería Civil", "", "MAT101")

	outcome, err := f.resolver.Resolve(context.Background(), byID("1001"), []benefit.Period{p2024a}, true)

	require.NoError(t, err)
	assert.Equal(t, benefit.OutcomeMissingPayment, outcome.Kind())
	assert.True(t, benefit.Rankable(outcome))
}

func TestResolve_MissingCareerOutranksMissingPayment(t *testing.T) {
	f := newFixture(t)
	f.gateway.add("p1", "1001", "Ana Pérez", "Arquitectura", "", "MAT101")

	outcome, err := f.resolver.Resolve(context.Background(), byID("1001"), []benefit.Period{p2024a}, true)

	require.NoError(t, err)
	career, ok := outcome.(benefit.MissingCareer)
	require.True(t, ok, "got %T", outcome)
	assert.Equal(t, "Arquitectura", career.Major)
	assert.True(t, career.PaymentMissing)
	assert.True(t, career.Candidate.TotalCreditWeight.Equal(dec("5")), "weights survive an unknown major")
	assert.True(t, career.Candidate.TuitionRate.IsZero())
}

func TestResolve_ManualPayment(t *testing.T) {
	f := newFixture(t)
	f.gateway.add("p1", "1001", "Ana Pérez", "Ingeniería Civil", "", "MAT101")

	req := byID("1001")
	req.ManualPayment = &benefit.ManualPayment{ReferenceText: "recibo 77", PlanType: benefit.PlanPlus, Amount: dec("800")}
	outcome, err := f.resolver.Resolve(context.Background(), req, []benefit.Period{p2024a}, true)

	require.NoError(t, err)
	require.Equal(t, benefit.OutcomeFound, outcome.Kind())
	c, _ := benefit.CandidateOf(outcome)
	assert.Equal(t, benefit.PlanPlus, c.Payment.PlanType)
	assert.True(t, c.Payment.ManualEntry)
	assert.Equal(t, "recibo 77", c.Payment.ReferenceText)
}

func TestResolve_InvalidManualPayment(t *testing.T) {
	f := newFixture(t)
	f.gateway.add("p1", "1001", "Ana Pérez", "Ingeniería Civil", "", "MAT101")

	req := byID("1001")
	req.ManualPayment = &benefit.ManualPayment{PlanType: benefit.PlanPlus, Amount: dec("800")}
	_, err := f.resolver.Resolve(context.Background(), req, []benefit.Period{p2024a}, true)

	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestResolve_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), StudentRequest{}, []benefit.Period{p2024a}, true)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.resolver.Resolve(context.Background(), byID("1001"), nil, true)
	assert.ErrorIs(t, err, shared.ErrValidation)
}
