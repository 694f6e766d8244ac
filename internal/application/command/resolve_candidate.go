package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE CANDIDATE
// ══════════════════════════════════════════════════════════════════════════════

// ResolveCandidateCommand resolves one student for a non-family benefit.
type ResolveCandidateCommand struct {
	Student StudentRequest   `json:"student"`
	Periods []benefit.Period `json:"periods"`

	// BenefitID is optional; without it the candidate is resolved but no
	// discount is assigned.
	BenefitID string `json:"benefit_id,omitempty"`

	// CustomPercentage is required for benefits without a fixed percentage.
	CustomPercentage decimal.NullDecimal `json:"custom_percentage"`
}

// ResolveCandidateHandler handles ResolveCandidateCommand.
type ResolveCandidateHandler struct {
	resolver    *Resolver
	engine      *benefit.Engine
	definitions benefit.DefinitionRepository
	logger      *slog.Logger
}

// NewResolveCandidateHandler creates a new ResolveCandidateHandler.
func NewResolveCandidateHandler(resolver *Resolver, engine *benefit.Engine, definitions benefit.DefinitionRepository, logger *slog.Logger) *ResolveCandidateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResolveCandidateHandler{
		resolver:    resolver,
		engine:      engine,
		definitions: definitions,
		logger:      logger,
	}
}

// Handle runs the strict pipeline: a kardex without the requested periods is
// an error here, not an outcome.
func (h *ResolveCandidateHandler) Handle(ctx context.Context, cmd ResolveCandidateCommand) (CandidateRow, error) {
	var def *benefit.Benefit
	if cmd.BenefitID != "" {
		var err error
		if def, err = loadSingleBenefit(ctx, h.definitions, cmd.BenefitID); err != nil {
			return CandidateRow{}, err
		}
	}

	outcome, err := h.resolver.Resolve(ctx, cmd.Student, cmd.Periods, true)
	if err != nil {
		return CandidateRow{}, fmt.Errorf("resolve candidate %s: %w", cmd.Student, err)
	}

	if def != nil {
		if err := assignSingle(h.engine, outcome, *def, cmd.CustomPercentage); err != nil {
			return CandidateRow{}, err
		}
	}

	row := NewCandidateRow(0, cmd.Student.StudentCriteria, outcome, nil)
	h.logger.Info("candidate resolved", "criteria", cmd.Student.String(), "outcome", row.Kind)
	return row, nil
}

// loadSingleBenefit loads a definition usable outside a family group.
func loadSingleBenefit(ctx context.Context, definitions benefit.DefinitionRepository, id string) (*benefit.Benefit, error) {
	def, err := definitions.GetBenefit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load benefit %s: %w", id, err)
	}
	if def.Kind == benefit.KindFamily {
		return nil, shared.NewDomainError("resolve", "AssignSingle", shared.ErrValidation,
			fmt.Sprintf("benefit %s is a family benefit and needs a family group", id))
	}
	return def, nil
}

// assignSingle assigns the discount to any outcome that carries a weighed
// candidate, so operators see totals before completing missing data.
func assignSingle(engine *benefit.Engine, outcome benefit.Outcome, def benefit.Benefit, custom decimal.NullDecimal) error {
	if !benefit.Rankable(outcome) {
		return nil
	}
	c, ok := benefit.CandidateOf(outcome)
	if !ok {
		return nil
	}
	return engine.AssignSingle(c, def, custom)
}
