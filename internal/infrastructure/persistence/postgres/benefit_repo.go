package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// BENEFIT RECORD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// BenefitRepository implements benefit.Repository and
// benefit.DefinitionRepository.
type BenefitRepository struct {
	conn  *Connection
	guard storeGuard
}

// NewBenefitRepository creates a new BenefitRepository. breaker may be nil.
func NewBenefitRepository(conn *Connection, breaker *circuitbreaker.Breaker) *BenefitRepository {
	return &BenefitRepository{conn: conn, guard: storeGuard{breaker: breaker}}
}

// FindActiveByNationalIDs returns the active records of the students for a
// period in one query.
func (r *BenefitRepository) FindActiveByNationalIDs(ctx context.Context, nationalIDs []string, periodID string) ([]benefit.ExistingRecord, error) {
	if len(nationalIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT r.id, r.national_id, r.benefit_id, COALESCE(b.name, ''),
		       r.discount_fraction, r.period_id, r.active, r.created_at
		FROM benefit_records r
		LEFT JOIN benefits b ON b.id = r.benefit_id
		WHERE r.national_id = ANY($1) AND r.period_id = $2 AND r.active
		ORDER BY r.created_at DESC
	`

	return guarded(ctx, r.guard, "FindActiveByNationalIDs", func(ctx context.Context) ([]benefit.ExistingRecord, error) {
		rows, err := r.conn.Query(ctx, query, nationalIDs, periodID)
		if err != nil {
			return nil, fmt.Errorf("query active benefit records: %w", err)
		}
		defer rows.Close()

		var records []benefit.ExistingRecord
		for rows.Next() {
			var rec benefit.ExistingRecord
			if err := rows.Scan(
				&rec.ID,
				&rec.NationalID,
				&rec.BenefitID,
				&rec.BenefitName,
				&rec.DiscountFraction,
				&rec.PeriodID,
				&rec.Active,
				&rec.CreatedAt,
			); err != nil {
				return nil, fmt.Errorf("scan benefit record: %w", err)
			}
			records = append(records, rec)
		}
		return records, rows.Err()
	})
}

// SaveGroup writes a commit group in one transaction. Each superseded record
// is deactivated before its replacement is inserted, so the partial unique
// index on active records never sees two rows for one student.
func (r *BenefitRepository) SaveGroup(ctx context.Context, records []*benefit.Record) error {
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
	}

	_, err := guarded(ctx, r.guard, "SaveGroup", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.conn.WithTx(ctx, func(tx pgx.Tx) error {
			for _, rec := range records {
				if rec.SupersedesRecordID != "" {
					if err := deactivateRecord(ctx, tx, rec.SupersedesRecordID); err != nil {
						return &benefit.GroupWriteError{
							NationalID: rec.NationalID,
							Err: shared.WrapError("benefit", "SaveGroup", shared.ErrSupersedeFailed,
								fmt.Sprintf("could not deactivate record %s", rec.SupersedesRecordID), err),
						}
					}
				}
				if err := insertRecord(ctx, tx, rec); err != nil {
					return &benefit.GroupWriteError{NationalID: rec.NationalID, Err: err}
				}
			}
			return nil
		})
	})
	return err
}

// execer is satisfied by *Connection and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertRecord inserts a record. A second active record for the same student
// and period violates the partial unique index and returns
// shared.ErrAlreadyExists.
func insertRecord(ctx context.Context, db execer, rec *benefit.Record) error {
	query := `
		INSERT INTO benefit_records (
			id, national_id, external_person_id, full_name, benefit_id, period_id,
			request_id, discount_fraction, total_credit_weight, credits_under_discount,
			discounted_tuition, balance, plan_type, payment_reference,
			supersedes_record_id, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	var supersedes *string
	if rec.SupersedesRecordID != "" {
		supersedes = &rec.SupersedesRecordID
	}

	_, err := db.Exec(ctx, query,
		rec.ID,
		rec.NationalID,
		rec.ExternalPersonID,
		rec.FullName,
		rec.BenefitID,
		rec.PeriodID,
		rec.RequestID,
		rec.DiscountFraction,
		rec.TotalCreditWeight,
		rec.CreditsUnderDisc,
		rec.DiscountedTuition,
		rec.Balance,
		string(rec.PlanType),
		rec.PaymentReference,
		supersedes,
		rec.Active,
		rec.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("benefit", "Create", shared.ErrAlreadyExists,
				fmt.Sprintf("student %s already has an active benefit for period %s", rec.NationalID, rec.PeriodID), err)
		}
		return fmt.Errorf("create benefit record: %w", err)
	}
	return nil
}

// deactivateRecord flips a record's active flag. Deactivating an inactive
// record is a no-op.
func deactivateRecord(ctx context.Context, db execer, recordID string) error {
	tag, err := db.Exec(ctx, `
		UPDATE benefit_records
		SET active = FALSE, deactivated_at = COALESCE(deactivated_at, NOW())
		WHERE id = $1
	`, recordID)
	if err != nil {
		return fmt.Errorf("deactivate benefit record %s: %w", recordID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("benefit", "Deactivate", shared.ErrNotFound,
			fmt.Sprintf("benefit record %s not found", recordID))
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Definitions
// ─────────────────────────────────────────────────────────────────────────────

const benefitColumns = `id, name, kind, percentage, credit_limit, active`

// GetBenefit returns a benefit definition by ID.
func (r *BenefitRepository) GetBenefit(ctx context.Context, id string) (*benefit.Benefit, error) {
	b, err := guarded(ctx, r.guard, "GetBenefit", func(ctx context.Context) (*benefit.Benefit, error) {
		return scanBenefit(r.conn.QueryRow(ctx, `SELECT `+benefitColumns+` FROM benefits WHERE id = $1`, id))
	})
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("benefit", "GetBenefit", shared.ErrNotFound,
				fmt.Sprintf("benefit %s not found", id))
		}
		return nil, fmt.Errorf("get benefit %s: %w", id, err)
	}
	return b, nil
}

// ListBenefits returns all active definitions ordered by name.
func (r *BenefitRepository) ListBenefits(ctx context.Context) ([]benefit.Benefit, error) {
	return guarded(ctx, r.guard, "ListBenefits", func(ctx context.Context) ([]benefit.Benefit, error) {
		rows, err := r.conn.Query(ctx, `SELECT `+benefitColumns+` FROM benefits WHERE active ORDER BY name`)
		if err != nil {
			return nil, fmt.Errorf("list benefits: %w", err)
		}
		defer rows.Close()

		var out []benefit.Benefit
		for rows.Next() {
			b, err := scanBenefit(rows)
			if err != nil {
				return nil, fmt.Errorf("scan benefit: %w", err)
			}
			out = append(out, *b)
		}
		return out, rows.Err()
	})
}

// UpsertBenefit creates or replaces a definition.
func (r *BenefitRepository) UpsertBenefit(ctx context.Context, b benefit.Benefit) error {
	if err := b.Validate(); err != nil {
		return err
	}
	_, err := guarded(ctx, r.guard, "UpsertBenefit", func(ctx context.Context) (pgconn.CommandTag, error) {
		return r.conn.Exec(ctx, `
			INSERT INTO benefits (id, name, kind, percentage, credit_limit, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				kind = EXCLUDED.kind,
				percentage = EXCLUDED.percentage,
				credit_limit = EXCLUDED.credit_limit,
				active = EXCLUDED.active,
				updated_at = NOW()
		`, b.ID, b.Name, string(b.Kind), b.Percentage, b.CreditLimit, b.Active)
	})
	if err != nil {
		return fmt.Errorf("upsert benefit %s: %w", b.ID, err)
	}
	return nil
}

func scanBenefit(row pgx.Row) (*benefit.Benefit, error) {
	var (
		b    benefit.Benefit
		kind string
		pct  decimal.NullDecimal
		lim  decimal.NullDecimal
	)
	if err := row.Scan(&b.ID, &b.Name, &kind, &pct, &lim, &b.Active); err != nil {
		return nil, err
	}
	b.Kind = benefit.Kind(kind)
	b.Percentage = pct
	b.CreditLimit = lim
	return &b, nil
}
