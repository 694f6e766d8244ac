package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/catalog"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/circuitbreaker"
)

// CatalogRepository implements catalog.Repository. Keys are stored in their
// normalized form so lookups compare exactly.
type CatalogRepository struct {
	conn  *Connection
	guard storeGuard
}

// NewCatalogRepository creates a new CatalogRepository. breaker may be nil.
func NewCatalogRepository(conn *Connection, breaker *circuitbreaker.Breaker) *CatalogRepository {
	return &CatalogRepository{conn: conn, guard: storeGuard{breaker: breaker}}
}

// FindCourses looks up all keys in one query.
func (r *CatalogRepository) FindCourses(ctx context.Context, keys []catalog.CourseKey) (map[catalog.CourseKey]catalog.Course, error) {
	result := make(map[catalog.CourseKey]catalog.Course, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	codes := make([]string, len(keys))
	titles := make([]string, len(keys))
	categories := make([]string, len(keys))
	for i, k := range keys {
		codes[i], titles[i], categories[i] = k.Code, k.Title, string(k.Category)
	}

	return guarded(ctx, r.guard, "FindCourses", func(ctx context.Context) (map[catalog.CourseKey]catalog.Course, error) {
		rows, err := r.conn.Query(ctx, `
			SELECT c.code, c.title, c.category, c.credit_weight, c.updated_at
			FROM course_catalog c
			JOIN unnest($1::text[], $2::text[], $3::text[]) AS k(code, title, category)
			  ON c.code = k.code AND c.title = k.title AND c.category = k.category
		`, codes, titles, categories)
		if err != nil {
			return nil, fmt.Errorf("query course catalog: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				c        catalog.Course
				category string
			)
			if err := rows.Scan(&c.Key.Code, &c.Key.Title, &category, &c.CreditWeight, &c.UpdatedAt); err != nil {
				return nil, fmt.Errorf("scan course: %w", err)
			}
			c.Key.Category = benefit.SubjectCategory(category)
			result[c.Key] = c
		}
		return result, rows.Err()
	})
}

// GetTuitionRate returns the rate of a normalized major.
func (r *CatalogRepository) GetTuitionRate(ctx context.Context, normalizedMajor string) (*catalog.TuitionRate, error) {
	rate, err := guarded(ctx, r.guard, "GetTuitionRate", func(ctx context.Context) (catalog.TuitionRate, error) {
		var rate catalog.TuitionRate
		err := r.conn.QueryRow(ctx, `
			SELECT major, normalized_major, rate, updated_at
			FROM tuition_rates
			WHERE normalized_major = $1
		`, normalizedMajor).Scan(&rate.Major, &rate.NormalizedMajor, &rate.Rate, &rate.UpdatedAt)
		return rate, err
	})
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("catalog", "GetTuitionRate", shared.ErrNotFound,
				fmt.Sprintf("no tuition rate for major %q", normalizedMajor))
		}
		return nil, fmt.Errorf("get tuition rate: %w", err)
	}
	return &rate, nil
}

// UpsertCourses writes courses in one transaction and returns how many were
// written.
func (r *CatalogRepository) UpsertCourses(ctx context.Context, courses []catalog.Course) (int, error) {
	if len(courses) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, c := range courses {
		batch.Queue(`
			INSERT INTO course_catalog (code, title, category, credit_weight, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (code, title, category) DO UPDATE SET
				credit_weight = EXCLUDED.credit_weight,
				updated_at = NOW()
		`, c.Key.Code, c.Key.Title, string(c.Key.Category), c.CreditWeight)
	}

	if err := r.sendBatch(ctx, "UpsertCourses", batch); err != nil {
		return 0, fmt.Errorf("upsert courses: %w", err)
	}
	return len(courses), nil
}

// UpsertTuitionRates writes rates in one transaction.
func (r *CatalogRepository) UpsertTuitionRates(ctx context.Context, rates []catalog.TuitionRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, rate := range rates {
		batch.Queue(`
			INSERT INTO tuition_rates (normalized_major, major, rate, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (normalized_major) DO UPDATE SET
				major = EXCLUDED.major,
				rate = EXCLUDED.rate,
				updated_at = NOW()
		`, rate.NormalizedMajor, rate.Major, rate.Rate)
	}

	if err := r.sendBatch(ctx, "UpsertTuitionRates", batch); err != nil {
		return 0, fmt.Errorf("upsert tuition rates: %w", err)
	}
	return len(rates), nil
}

// sendBatch runs the queued statements in one transaction.
func (r *CatalogRepository) sendBatch(ctx context.Context, op string, batch *pgx.Batch) error {
	_, err := guarded(ctx, r.guard, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.conn.WithTx(ctx, func(tx pgx.Tx) error {
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	return err
}
