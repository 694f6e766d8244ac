package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/application/batch"
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE BATCH
// ══════════════════════════════════════════════════════════════════════════════

// ResolveBatchCommand resolves many students independently.
type ResolveBatchCommand struct {
	Students []StudentRequest `json:"students"`
	Periods  []benefit.Period `json:"periods"`

	BenefitID        string              `json:"benefit_id,omitempty"`
	CustomPercentage decimal.NullDecimal `json:"custom_percentage"`
}

// BatchResult holds one row per student, in input order.
type BatchResult struct {
	Rows    []CandidateRow `json:"rows"`
	Summary Summary        `json:"summary"`
	Report  batch.Report   `json:"report"`
}

// ResolveBatchHandler handles ResolveBatchCommand.
type ResolveBatchHandler struct {
	resolver     *Resolver
	engine       *benefit.Engine
	definitions  benefit.DefinitionRepository
	orchestrator *batch.Orchestrator
	pingRetrier  *retry.Retrier
	logger       *slog.Logger
}

// NewResolveBatchHandler creates a new ResolveBatchHandler. pingRetrier may be
// nil for a single reachability check.
func NewResolveBatchHandler(
	resolver *Resolver,
	engine *benefit.Engine,
	definitions benefit.DefinitionRepository,
	orchestrator *batch.Orchestrator,
	pingRetrier *retry.Retrier,
	logger *slog.Logger,
) *ResolveBatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if pingRetrier == nil {
		pingRetrier = retry.New(retry.WithMaxAttempts(1))
	}
	return &ResolveBatchHandler{
		resolver:     resolver,
		engine:       engine,
		definitions:  definitions,
		orchestrator: orchestrator,
		pingRetrier:  pingRetrier,
		logger:       logger,
	}
}

// Handle resolves every student. The only fatal failure is an academic
// service that cannot be reached before the first student; afterwards every
// failure becomes an error row.
func (h *ResolveBatchHandler) Handle(ctx context.Context, cmd ResolveBatchCommand) (*BatchResult, error) {
	if len(cmd.Students) == 0 {
		return nil, shared.NewDomainError("resolve", "Batch", shared.ErrValidation, "no students to resolve")
	}

	var def *benefit.Benefit
	if cmd.BenefitID != "" {
		var err error
		if def, err = loadSingleBenefit(ctx, h.definitions, cmd.BenefitID); err != nil {
			return nil, err
		}
	}

	if err := ensureReachable(ctx, h.resolver.Gateway(), h.pingRetrier); err != nil {
		return nil, err
	}

	results, report := batch.Run(ctx, h.orchestrator, "resolve-batch", cmd.Students,
		func(ctx context.Context, req StudentRequest) (benefit.Outcome, error) {
			outcome, err := h.resolver.Resolve(ctx, req, cmd.Periods, false)
			if err != nil {
				return nil, err
			}
			if def != nil {
				if err := assignSingle(h.engine, outcome, *def, cmd.CustomPercentage); err != nil {
					return nil, err
				}
			}
			return outcome, nil
		})

	rows := make([]CandidateRow, len(results))
	for i, res := range results {
		rows[i] = NewCandidateRow(i, cmd.Students[i].StudentCriteria, res.Value, res.Err)
	}

	return &BatchResult{Rows: rows, Summary: Summarize(rows), Report: report}, nil
}

// ensureReachable pings the academic service before a multi-student run.
func ensureReachable(ctx context.Context, gateway AcademicGateway, retrier *retry.Retrier) error {
	err := retrier.Do(ctx, func(ctx context.Context) error {
		return gateway.Ping(ctx)
	})
	if err != nil {
		return shared.WrapError("academic", "Ping", shared.ErrUpstreamUnavailable,
			fmt.Sprintf("academic service unreachable: %v", err), err)
	}
	return nil
}
