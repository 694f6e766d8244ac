package command

import (
	"context"
	"fmt"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// CheckConflictsCommand classifies candidate benefits against active records.
type CheckConflictsCommand struct {
	PeriodID string                    `json:"period_id"`
	Requests []benefit.ConflictRequest `json:"requests"`
}

// Validate checks the command.
func (c CheckConflictsCommand) Validate() error {
	if c.PeriodID == "" {
		return shared.NewDomainError("conflicts", "Validate", shared.ErrValidation, "period id is required")
	}
	for i, r := range c.Requests {
		if r.NationalID == "" || r.BenefitID == "" {
			return shared.NewDomainError("conflicts", "Validate", shared.ErrValidation,
				fmt.Sprintf("request %d needs a national id and a benefit id", i))
		}
	}
	return nil
}

// CheckConflictsHandler handles CheckConflictsCommand.
type CheckConflictsHandler struct {
	conflicts *benefit.ConflictResolver
}

// NewCheckConflictsHandler creates a new CheckConflictsHandler.
func NewCheckConflictsHandler(conflicts *benefit.ConflictResolver) *CheckConflictsHandler {
	return &CheckConflictsHandler{conflicts: conflicts}
}

// Handle returns one classification per request, in request order. Conflicts
// are data in the report, never errors.
func (h *CheckConflictsHandler) Handle(ctx context.Context, cmd CheckConflictsCommand) (benefit.ConflictReport, error) {
	if err := cmd.Validate(); err != nil {
		return benefit.ConflictReport{}, err
	}
	return h.conflicts.Check(ctx, cmd.Requests, cmd.PeriodID)
}
