package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tuition-hub/benefit-resolver/internal/application/extraction"
	"github.com/tuition-hub/benefit-resolver/internal/domain/catalog"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/external/academic"
	"github.com/tuition-hub/benefit-resolver/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Column layout of the catalog listings.
const (
	courseColCode = iota
	courseColTitle
	courseColCategory
	courseColWeight
)

const (
	rateColMajor = iota
	rateColRate
)

const syncLockResource = "catalog-sync"

// CatalogInvalidator drops cached catalog entries after a sync.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Locker guards a sync across replicas. Implemented by redis.Cache.
type Locker interface {
	TryLock(ctx context.Context, resource, token string, ttl time.Duration) (bool, func(context.Context) error, error)
}

// SyncCatalogCommand refreshes courses and tuition rates from the academic
// service.
type SyncCatalogCommand struct {
	SkipCourses bool `json:"skip_courses,omitempty"`
	SkipRates   bool `json:"skip_rates,omitempty"`
}

// SyncCatalogResult counts what was stored and what was skipped.
type SyncCatalogResult struct {
	Courses     int      `json:"courses"`
	Rates       int      `json:"rates"`
	SkippedRows []string `json:"skipped_rows,omitempty"`
	Locked      bool     `json:"locked"`
	Duration    string   `json:"duration"`
}

// SyncCatalogHandler handles SyncCatalogCommand.
type SyncCatalogHandler struct {
	gateway     AcademicGateway
	repo        catalog.Repository
	invalidator CatalogInvalidator
	locker      Locker
	lockTTL     time.Duration
	retrier     *retry.Retrier
	logger      *slog.Logger
}

// NewSyncCatalogHandler creates a new SyncCatalogHandler. invalidator and
// locker may be nil.
func NewSyncCatalogHandler(
	gateway AcademicGateway,
	repo catalog.Repository,
	invalidator CatalogInvalidator,
	locker Locker,
	lockTTL time.Duration,
	retrier *retry.Retrier,
	logger *slog.Logger,
) *SyncCatalogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if retrier == nil {
		retrier = retry.New(retry.WithMaxAttempts(1))
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &SyncCatalogHandler{
		gateway:     gateway,
		repo:        repo,
		invalidator: invalidator,
		locker:      locker,
		lockTTL:     lockTTL,
		retrier:     retrier,
		logger:      logger.With("component", "catalog-sync"),
	}
}

// Handle fetches both listings, upserts them and drops the cache. Malformed
// rows are skipped and reported. When another replica holds the sync lock the
// run is skipped and Locked is set.
func (h *SyncCatalogHandler) Handle(ctx context.Context, cmd SyncCatalogCommand) (*SyncCatalogResult, error) {
	start := time.Now()
	result := &SyncCatalogResult{}

	if h.locker != nil {
		acquired, release, err := h.locker.TryLock(ctx, syncLockResource, uuid.NewString(), h.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire catalog sync lock: %w", err)
		}
		if !acquired {
			h.logger.Info("catalog sync already running elsewhere")
			result.Locked = true
			return result, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				h.logger.Warn("failed to release catalog sync lock", "error", err)
			}
		}()
	}

	if !cmd.SkipCourses {
		blocks, err := h.fetch(ctx, academic.CatalogCourses)
		if err != nil {
			return nil, err
		}
		courses, skipped := ParseCourses(blocks)
		result.SkippedRows = append(result.SkippedRows, skipped...)
		if result.Courses, err = h.repo.UpsertCourses(ctx, courses); err != nil {
			return nil, fmt.Errorf("store courses: %w", err)
		}
	}

	if !cmd.SkipRates {
		blocks, err := h.fetch(ctx, academic.CatalogTuitionRates)
		if err != nil {
			return nil, err
		}
		rates, skipped := ParseTuitionRates(blocks)
		result.SkippedRows = append(result.SkippedRows, skipped...)
		if result.Rates, err = h.repo.UpsertTuitionRates(ctx, rates); err != nil {
			return nil, fmt.Errorf("store tuition rates: %w", err)
		}
	}

	if h.invalidator != nil {
		if err := h.invalidator.Invalidate(ctx); err != nil {
			// stale entries expire on their own
			h.logger.Warn("failed to invalidate catalog cache", "error", err)
		}
	}

	result.Duration = time.Since(start).String()
	h.logger.Info("catalog synced",
		"courses", result.Courses,
		"rates", result.Rates,
		"skipped", len(result.SkippedRows),
		"duration", result.Duration,
	)
	return result, nil
}

func (h *SyncCatalogHandler) fetch(ctx context.Context, name string) ([]academic.Block, error) {
	var blocks []academic.Block
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		blocks, err = h.gateway.GetCatalog(ctx, name)
		return err
	})
	if err != nil {
		return nil, shared.WrapError("catalog", "Sync", shared.ErrUpstreamUnavailable,
			fmt.Sprintf("fetch catalog %s", name), err)
	}
	return blocks, nil
}

// ParseCourses reads the course listing. Rows that cannot be parsed are
// returned as messages; duplicate keys keep the last row.
func ParseCourses(blocks []academic.Block) ([]catalog.Course, []string) {
	var (
		courses []catalog.Course
		skipped []string
		index   = make(map[catalog.CourseKey]int)
	)
	for b, block := range blocks {
		for i := range block.Rows {
			row := block.Row(b, i)
			if row.IsBlank(courseColCode) {
				continue
			}
			course, err := parseCourse(row)
			if err != nil {
				skipped = append(skipped, err.Error())
				continue
			}
			if at, ok := index[course.Key]; ok {
				courses[at] = course
				continue
			}
			index[course.Key] = len(courses)
			courses = append(courses, course)
		}
	}
	return courses, skipped
}

func parseCourse(row academic.Row) (catalog.Course, error) {
	code, err := row.Text(courseColCode)
	if err != nil {
		return catalog.Course{}, err
	}
	title, err := row.Text(courseColTitle)
	if err != nil {
		return catalog.Course{}, err
	}
	weight, err := row.Decimal(courseColWeight)
	if err != nil {
		return catalog.Course{}, err
	}
	category := extraction.ParseCategory(row.TextOr(courseColCategory, ""))

	course := catalog.Course{
		Key:          catalog.NewCourseKey(code, title, category),
		CreditWeight: weight,
	}
	if err := course.Validate(); err != nil {
		return catalog.Course{}, err
	}
	return course, nil
}

// ParseTuitionRates reads the tuition rate listing.
func ParseTuitionRates(blocks []academic.Block) ([]catalog.TuitionRate, []string) {
	var (
		rates   []catalog.TuitionRate
		skipped []string
		index   = make(map[string]int)
	)
	for b, block := range blocks {
		for i := range block.Rows {
			row := block.Row(b, i)
			if row.IsBlank(rateColMajor) {
				continue
			}
			major, _ := row.Text(rateColMajor)
			amount, err := row.Decimal(rateColRate)
			if err != nil {
				skipped = append(skipped, err.Error())
				continue
			}
			rate := catalog.NewTuitionRate(major, amount)
			if err := rate.Validate(); err != nil {
				skipped = append(skipped, err.Error())
				continue
			}
			if at, ok := index[rate.NormalizedMajor]; ok {
				rates[at] = rate
				continue
			}
			index[rate.NormalizedMajor] = len(rates)
			rates = append(rates, rate)
		}
	}
	return rates, skipped
}
