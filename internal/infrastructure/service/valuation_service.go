package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/catalog"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/persistence/redis"
)

// CatalogCache is the read-through cache in front of the catalog repository.
// Implemented by redis.CatalogCache.
type CatalogCache interface {
	GetCourses(ctx context.Context, keys []catalog.CourseKey) (map[catalog.CourseKey]catalog.Course, []catalog.CourseKey, error)
	SetCourses(ctx context.Context, courses map[catalog.CourseKey]catalog.Course) error
	GetTuitionRate(ctx context.Context, normalizedMajor string) (*catalog.TuitionRate, error)
	SetTuitionRate(ctx context.Context, rate *catalog.TuitionRate) error
	InvalidateAll(ctx context.Context) error
}

// ValuationService implements catalog.Valuator over the catalog repository.
// Cache failures are logged and fall through to the repository.
type ValuationService struct {
	repo   catalog.Repository
	cache  CatalogCache
	logger *slog.Logger
}

// NewValuationService creates a new ValuationService. cache may be nil.
func NewValuationService(repo catalog.Repository, cache CatalogCache, logger *slog.Logger) *ValuationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValuationService{
		repo:   repo,
		cache:  cache,
		logger: logger.With("component", "valuation"),
	}
}

// Valuate assigns catalog weights and the major's tuition rate.
func (s *ValuationService) Valuate(ctx context.Context, subjects []benefit.SubjectRecord, normalizedMajor string) (catalog.Valuation, error) {
	courses, err := s.courses(ctx, catalog.Keys(subjects))
	if err != nil {
		return catalog.Valuation{}, err
	}

	v := catalog.Apply(subjects, courses)
	if len(v.Unvaluated) > 0 {
		s.logger.Warn("courses missing from catalog", "count", len(v.Unvaluated), "first", v.Unvaluated[0].String())
	}

	rate, err := s.rate(ctx, normalizedMajor)
	if err != nil {
		if shared.IsNotFound(err) {
			return v, shared.WrapError("catalog", "Valuate", shared.ErrAmbiguousCareer,
				fmt.Sprintf("major %q has no tuition rate", normalizedMajor), err)
		}
		return catalog.Valuation{}, err
	}
	v.TuitionRate = rate.Rate
	return v, nil
}

// Invalidate drops cached catalog entries after a sync.
func (s *ValuationService) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateAll(ctx)
}

func (s *ValuationService) courses(ctx context.Context, keys []catalog.CourseKey) (map[catalog.CourseKey]catalog.Course, error) {
	if s.cache == nil {
		return s.repo.FindCourses(ctx, keys)
	}

	found, missed, err := s.cache.GetCourses(ctx, keys)
	if err != nil {
		s.logger.Warn("catalog cache read failed", "error", err)
		found, missed = make(map[catalog.CourseKey]catalog.Course), keys
	}
	if len(missed) == 0 {
		return found, nil
	}

	loaded, err := s.repo.FindCourses(ctx, missed)
	if err != nil {
		return nil, fmt.Errorf("find courses: %w", err)
	}
	if len(loaded) > 0 {
		if err := s.cache.SetCourses(ctx, loaded); err != nil {
			s.logger.Warn("catalog cache write failed", "error", err)
		}
	}
	for k, c := range loaded {
		found[k] = c
	}
	return found, nil
}

func (s *ValuationService) rate(ctx context.Context, normalizedMajor string) (*catalog.TuitionRate, error) {
	if normalizedMajor == "" {
		return nil, shared.NewDomainError("catalog", "GetTuitionRate", shared.ErrNotFound, "no major declared")
	}

	if s.cache != nil {
		rate, err := s.cache.GetTuitionRate(ctx, normalizedMajor)
		if err == nil {
			return rate, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("tuition rate cache read failed", "error", err)
		}
	}

	rate, err := s.repo.GetTuitionRate(ctx, normalizedMajor)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetTuitionRate(ctx, rate); err != nil {
			s.logger.Warn("tuition rate cache write failed", "error", err)
		}
	}
	return rate, nil
}

var _ catalog.Valuator = (*ValuationService)(nil)
