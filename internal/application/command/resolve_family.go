package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tuition-hub/benefit-resolver/internal/application/batch"
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE FAMILY GROUP
// ══════════════════════════════════════════════════════════════════════════════

// ResolveFamilyCommand resolves the members of one family-support request.
type ResolveFamilyCommand struct {
	RequestID string           `json:"request_id,omitempty"`
	Members   []StudentRequest `json:"members"`
	Periods   []benefit.Period `json:"periods"`
	BenefitID string           `json:"benefit_id"`

	// ManualOrder lists national IDs in the order tied members should take.
	ManualOrder []string `json:"manual_order,omitempty"`
}

// FamilyResult is a resolved family group, or the reasons it cannot be
// finalized yet.
type FamilyResult struct {
	RequestID string               `json:"request_id"`
	Rows      []CandidateRow       `json:"rows"`
	Group     *benefit.FamilyGroup `json:"group,omitempty"`
	Ties      []benefit.TieGroup   `json:"ties,omitempty"`

	// Blocking lists what keeps the group from being committed.
	Blocking    []string     `json:"blocking,omitempty"`
	Committable bool         `json:"committable"`

	// Commit is the group ready for CommitBenefitsCommand once committable.
	Commit *CommitGroup `json:"commit,omitempty"`
	Report batch.Report `json:"report"`
}

// ResolveFamilyHandler handles ResolveFamilyCommand.
type ResolveFamilyHandler struct {
	resolver     *Resolver
	engine       *benefit.Engine
	definitions  benefit.DefinitionRepository
	orchestrator *batch.Orchestrator
	pingRetrier  *retry.Retrier
	logger       *slog.Logger
}

// NewResolveFamilyHandler creates a new ResolveFamilyHandler.
func NewResolveFamilyHandler(
	resolver *Resolver,
	engine *benefit.Engine,
	definitions benefit.DefinitionRepository,
	orchestrator *batch.Orchestrator,
	pingRetrier *retry.Retrier,
	logger *slog.Logger,
) *ResolveFamilyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if pingRetrier == nil {
		pingRetrier = retry.New(retry.WithMaxAttempts(1))
	}
	return &ResolveFamilyHandler{
		resolver:     resolver,
		engine:       engine,
		definitions:  definitions,
		orchestrator: orchestrator,
		pingRetrier:  pingRetrier,
		logger:       logger,
	}
}

// Handle resolves every member, then ranks the group and assigns tier
// percentages. Unresolved ties and incomplete members are reported in the
// result, not as errors.
func (h *ResolveFamilyHandler) Handle(ctx context.Context, cmd ResolveFamilyCommand) (*FamilyResult, error) {
	if len(cmd.Members) < 2 {
		return nil, shared.NewDomainError("family", "Resolve", shared.ErrValidation,
			"a family group needs at least two members")
	}

	def, err := h.definitions.GetBenefit(ctx, cmd.BenefitID)
	if err != nil {
		return nil, fmt.Errorf("load benefit %s: %w", cmd.BenefitID, err)
	}
	if def.Kind != benefit.KindFamily {
		return nil, shared.NewDomainError("family", "Resolve", shared.ErrValidation,
			fmt.Sprintf("benefit %s is not a family benefit", def.ID))
	}

	if err := ensureReachable(ctx, h.resolver.Gateway(), h.pingRetrier); err != nil {
		return nil, err
	}

	requestID := cmd.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := h.logger.With("request_id", requestID)

	results, report := batch.Run(ctx, h.orchestrator, "resolve-family", cmd.Members,
		func(ctx context.Context, req StudentRequest) (benefit.Outcome, error) {
			return h.resolver.Resolve(ctx, req, cmd.Periods, false)
		})

	result := &FamilyResult{RequestID: requestID, Report: report, Rows: make([]CandidateRow, len(results))}
	members := make([]*benefit.Candidate, 0, len(results))

	for i, res := range results {
		row := NewCandidateRow(i, cmd.Members[i].StudentCriteria, res.Value, res.Err)
		result.Rows[i] = row

		switch {
		case row.IsError():
			result.Blocking = append(result.Blocking, fmt.Sprintf("%s: %s", row.Criteria, row.Error))
		case !benefit.Rankable(row.Outcome()):
			result.Blocking = append(result.Blocking, fmt.Sprintf("%s: %s", row.Criteria, row.Reason))
		default:
			members = append(members, row.Candidate)
			if !row.Committable {
				result.Blocking = append(result.Blocking, fmt.Sprintf("%s: %s", row.Criteria, row.Reason))
			}
		}
	}

	// every member must be weighed before ranks mean anything
	if len(members) < len(results) {
		log.Info("family group incomplete", "blocking", len(result.Blocking))
		return result, nil
	}

	group, err := h.engine.AssignFamily(requestID, members, *def, cmd.ManualOrder)
	switch {
	case errors.Is(err, shared.ErrUnresolvedTies):
		result.Group = group
		result.Ties = group.Ties
		result.Blocking = append(result.Blocking, err.Error())
		log.Info("family group has unresolved ties", "ties", len(group.Ties))
		return result, nil
	case err != nil:
		return nil, err
	}

	result.Group = group
	result.Ties = group.Ties
	result.Committable = group.Committable() && len(result.Blocking) == 0
	if result.Committable {
		commit, err := FamilyCommitGroup(group)
		if err != nil {
			return nil, err
		}
		result.Commit = &commit
	}

	log.Info("family group resolved",
		"members", len(group.Members),
		"ties", len(group.Ties),
		"committable", result.Committable,
	)
	return result, nil
}
