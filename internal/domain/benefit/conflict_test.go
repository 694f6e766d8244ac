package benefit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

type fakeFinder struct {
	records []ExistingRecord
	err     error
	calls   int
	lastIDs []string
}

func (f *fakeFinder) FindActiveByNationalIDs(_ context.Context, ids []string, _ string) ([]ExistingRecord, error) {
	f.calls++
	f.lastIDs = ids
	return f.records, f.err
}

func TestClassify(t *testing.T) {
	existing := map[string]ExistingRecord{
		"111": {ID: "rec-1", NationalID: "111", BenefitID: "X", BenefitName: "Merit", DiscountFraction: dec("0.3"), PeriodID: "p1", Active: true},
		"222": {ID: "rec-2", NationalID: "222", BenefitID: "Y", BenefitName: "Sports", DiscountFraction: dec("0.5"), PeriodID: "p1", Active: true},
	}
	requests := []ConflictRequest{
		{NationalID: "111", BenefitID: "X"},
		{NationalID: "222", BenefitID: "X"},
		{NationalID: "333", BenefitID: "X"},
	}

	report := Classify(requests, existing, "p1")

	require.Len(t, report.Checks, 3)

	hard := report.Checks[0]
	assert.Equal(t, ConflictHard, hard.Kind)
	assert.False(t, hard.Committable())
	assert.Contains(t, hard.Message, "Merit")
	assert.Contains(t, hard.Message, "30%")
	assert.ErrorIs(t, hard.Err(), shared.ErrHardConflict)

	soft := report.Checks[1]
	assert.Equal(t, ConflictSoft, soft.Kind)
	assert.True(t, soft.Committable())
	assert.Equal(t, "rec-2", soft.SupersedesRecordID)
	assert.ErrorIs(t, soft.Err(), shared.ErrSoftConflict)

	none := report.Checks[2]
	assert.Equal(t, ConflictNone, none.Kind)
	assert.Nil(t, none.Existing)
	assert.NoError(t, none.Err())

	committable := report.Committable()
	require.Len(t, committable, 2)
	for _, c := range committable {
		assert.NotEqual(t, "111", c.Request.NationalID)
	}
	assert.Len(t, report.Rejected(), 1)
	assert.Len(t, report.Superseding(), 1)
}

func TestConflictResolver_CheckBatchSingleLookup(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	finder := &fakeFinder{records: []ExistingRecord{
		{ID: "old", NationalID: "111", BenefitID: "X", PeriodID: "p1", Active: true, CreatedAt: older},
		{ID: "new", NationalID: "111", BenefitID: "Y", PeriodID: "p1", Active: true, CreatedAt: older.Add(time.Hour)},
		{ID: "other-period", NationalID: "222", BenefitID: "X", PeriodID: "p0", Active: true},
	}}
	resolver := NewConflictResolver(finder, nil)

	existing, err := resolver.CheckBatch(context.Background(), []string{"111", "222", "111", ""}, "p1")

	require.NoError(t, err)
	assert.Equal(t, 1, finder.calls)
	assert.Equal(t, []string{"111", "222"}, finder.lastIDs)
	require.Contains(t, existing, "111")
	assert.Equal(t, "new", existing["111"].ID)
	assert.NotContains(t, existing, "222")
}

func TestConflictResolver_CheckPropagatesLookupError(t *testing.T) {
	boom := errors.New("connection refused")
	resolver := NewConflictResolver(&fakeFinder{err: boom}, nil)

	_, err := resolver.Check(context.Background(), []ConflictRequest{{NationalID: "111", BenefitID: "X"}}, "p1")

	assert.ErrorIs(t, err, boom)
}

func TestConflictResolver_EmptyInputSkipsLookup(t *testing.T) {
	finder := &fakeFinder{}
	resolver := NewConflictResolver(finder, nil)

	existing, err := resolver.CheckBatch(context.Background(), nil, "p1")

	require.NoError(t, err)
	assert.Empty(t, existing)
	assert.Zero(t, finder.calls)
}
