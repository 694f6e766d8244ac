package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/circuitbreaker"
)

var (
	errConnectionLost = &pgconn.PgError{Code: "08006", Message: "connection failure"}
	errDuplicate      = &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
)

func failing(err error) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return 0, err }
}

func TestGuarded_UnguardedRunsCall(t *testing.T) {
	got, err := guarded(context.Background(), storeGuard{}, "Op", func(context.Context) (int, error) { return 7, nil })

	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestGuarded_OpensOnConnectionFailures(t *testing.T) {
	var opened []string
	g := storeGuard{breaker: NewStoreBreaker(func(name string, _, to circuitbreaker.State) {
		opened = append(opened, name+":"+to.String())
	})}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := guarded(ctx, g, "FindActiveByNationalIDs", failing(errConnectionLost))
		assert.ErrorIs(t, err, errConnectionLost)
	}
	assert.Equal(t, []string{"database:open"}, opened)

	called := false
	_, err := guarded(ctx, g, "ListBenefits", func(context.Context) (int, error) {
		called = true
		return 1, nil
	})

	assert.False(t, called)
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestGuarded_AnswersKeepBreakerClosed(t *testing.T) {
	breaker := NewStoreBreaker(nil)
	g := storeGuard{breaker: breaker}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = guarded(ctx, g, "Create", failing(errDuplicate))
		_, _ = guarded(ctx, g, "GetBenefit", failing(pgx.ErrNoRows))
		_, _ = guarded(ctx, g, "SaveGroup", failing(context.Canceled))
	}

	assert.Equal(t, circuitbreaker.Closed, breaker.State())
}

func TestRepositories_FailFastWhileStoreIsDown(t *testing.T) {
	breaker := NewStoreBreaker(nil)
	for i := 0; i < 3; i++ {
		_ = breaker.Execute(context.Background(), func(context.Context) error { return errConnectionLost })
	}
	require.Equal(t, circuitbreaker.Open, breaker.State())

	// a nil connection proves no query is attempted
	benefits := NewBenefitRepository(nil, breaker)
	catalogRepo := NewCatalogRepository(nil, breaker)
	ctx := context.Background()

	_, err := benefits.ListBenefits(ctx)
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)

	err = benefits.SaveGroup(ctx, []*benefit.Record{{NationalID: "1001", SupersedesRecordID: "rec-1"}})
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.False(t, errors.Is(err, shared.ErrSupersedeFailed))

	_, err = catalogRepo.GetTuitionRate(ctx, "INGENIERIA CIVIL")
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
}
