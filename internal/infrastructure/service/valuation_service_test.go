package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/catalog"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/persistence/redis"
)

type fakeCatalogRepo struct {
	courses     map[catalog.CourseKey]catalog.Course
	rates       map[string]catalog.TuitionRate
	courseCalls int
	rateCalls   int
}

func (f *fakeCatalogRepo) FindCourses(_ context.Context, keys []catalog.CourseKey) (map[catalog.CourseKey]catalog.Course, error) {
	f.courseCalls++
	out := make(map[catalog.CourseKey]catalog.Course)
	for _, k := range keys {
		if c, ok := f.courses[k]; ok {
			out[k] = c
		}
	}
	return out, nil
}

func (f *fakeCatalogRepo) GetTuitionRate(_ context.Context, major string) (*catalog.TuitionRate, error) {
	f.rateCalls++
	r, ok := f.rates[major]
	if !ok {
		return nil, shared.NewDomainError("catalog", "GetTuitionRate", shared.ErrNotFound, "missing")
	}
	return &r, nil
}

func (f *fakeCatalogRepo) UpsertCourses(context.Context, []catalog.Course) (int, error) { return 0, nil }

func (f *fakeCatalogRepo) UpsertTuitionRates(context.Context, []catalog.TuitionRate) (int, error) {
	return 0, nil
}

type fakeCache struct {
	courses map[catalog.CourseKey]catalog.Course
	rates   map[string]catalog.TuitionRate
	readErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		courses: make(map[catalog.CourseKey]catalog.Course),
		rates:   make(map[string]catalog.TuitionRate),
	}
}

func (f *fakeCache) GetCourses(_ context.Context, keys []catalog.CourseKey) (map[catalog.CourseKey]catalog.Course, []catalog.CourseKey, error) {
	if f.readErr != nil {
		return nil, keys, f.readErr
	}
	found := make(map[catalog.CourseKey]catalog.Course)
	var missed []catalog.CourseKey
	for _, k := range keys {
		if c, ok := f.courses[k]; ok {
			found[k] = c
		} else {
			missed = append(missed, k)
		}
	}
	return found, missed, nil
}

func (f *fakeCache) SetCourses(_ context.Context, courses map[catalog.CourseKey]catalog.Course) error {
	for k, c := range courses {
		f.courses[k] = c
	}
	return nil
}

func (f *fakeCache) GetTuitionRate(_ context.Context, major string) (*catalog.TuitionRate, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	r, ok := f.rates[major]
	if !ok {
		return nil, redis.ErrCacheMiss
	}
	return &r, nil
}

func (f *fakeCache) SetTuitionRate(_ context.Context, rate *catalog.TuitionRate) error {
	f.rates[rate.NormalizedMajor] = *rate
	return nil
}

func (f *fakeCache) InvalidateAll(context.Context) error {
	f.courses = make(map[catalog.CourseKey]catalog.Course)
	f.rates = make(map[string]catalog.TuitionRate)
	return nil
}

func testRepo() *fakeCatalogRepo {
	calc := catalog.NewCourseKey("MAT-101", "Calculo I", benefit.CategoryStandard)
	phys := catalog.NewCourseKey("FIS-100", "Fisica", benefit.CategoryStandard)
	return &fakeCatalogRepo{
		courses: map[catalog.CourseKey]catalog.Course{
			calc: {Key: calc, CreditWeight: decimal.NewFromInt(6)},
			phys: {Key: phys, CreditWeight: decimal.NewFromInt(4)},
		},
		rates: map[string]catalog.TuitionRate{
			"INGENIERIA CIVIL": catalog.NewTuitionRate("Ingeniería Civil", decimal.NewFromInt(150)),
		},
	}
}

func testSubjects() []benefit.SubjectRecord {
	return []benefit.SubjectRecord{
		{Code: "MAT-101", Title: "Cálculo I", Category: benefit.CategoryStandard},
		{Code: "FIS-100", Title: "Física", Category: benefit.CategoryStandard},
	}
}

func TestValuationService_ReadThrough(t *testing.T) {
	repo := testRepo()
	cache := newFakeCache()
	svc := NewValuationService(repo, cache, nil)

	v, err := svc.Valuate(context.Background(), testSubjects(), "INGENIERIA CIVIL")
	require.NoError(t, err)
	assert.True(t, v.TotalCreditWeight.Equal(decimal.NewFromInt(10)))
	assert.True(t, v.TuitionRate.Equal(decimal.NewFromInt(150)))

	_, err = svc.Valuate(context.Background(), testSubjects(), "INGENIERIA CIVIL")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.courseCalls, "second lookup must be served from cache")
	assert.Equal(t, 1, repo.rateCalls)

	require.NoError(t, svc.Invalidate(context.Background()))
	_, err = svc.Valuate(context.Background(), testSubjects(), "INGENIERIA CIVIL")
	require.NoError(t, err)
	assert.Equal(t, 2, repo.courseCalls)
}

func TestValuationService_CacheFailureFallsThrough(t *testing.T) {
	repo := testRepo()
	cache := newFakeCache()
	cache.readErr = errors.New("connection refused")
	svc := NewValuationService(repo, cache, nil)

	v, err := svc.Valuate(context.Background(), testSubjects(), "INGENIERIA CIVIL")
	require.NoError(t, err)
	assert.True(t, v.TotalCreditWeight.Equal(decimal.NewFromInt(10)))
}

func TestValuationService_UnknownMajor(t *testing.T) {
	svc := NewValuationService(testRepo(), nil, nil)

	v, err := svc.Valuate(context.Background(), testSubjects(), "ASTROLOGIA")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrAmbiguousCareer)
	assert.True(t, v.TotalCreditWeight.Equal(decimal.NewFromInt(10)), "weights survive a missing rate")
	assert.True(t, v.TuitionRate.IsZero())

	_, err = svc.Valuate(context.Background(), testSubjects(), "")
	assert.ErrorIs(t, err, shared.ErrAmbiguousCareer)
}
