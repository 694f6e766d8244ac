package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuition-hub/benefit-resolver/internal/application/batch"
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMMIT BENEFITS
// ══════════════════════════════════════════════════════════════════════════════

// CommitGroup is a set of candidates saved together, written whole or not at
// all. A group of several candidates is a family group: its candidates are
// listed in final rank order and ManualOrder breaks every credit-weight tie.
type CommitGroup struct {
	RequestID   string               `json:"request_id,omitempty"`
	Candidates  []*benefit.Candidate `json:"candidates"`
	ManualOrder []string             `json:"manual_order,omitempty"`
}

// FamilyCommitGroup turns a finalized family group into a commit group.
func FamilyCommitGroup(g *benefit.FamilyGroup) (CommitGroup, error) {
	if !g.Committable() {
		return CommitGroup{}, shared.NewDomainError("commit", "FamilyCommitGroup", shared.ErrUnresolvedTies,
			"family group percentages are not finalized")
	}
	return CommitGroup{RequestID: g.RequestID, Candidates: g.Members, ManualOrder: g.ManualOrder}, nil
}

// checkFamily proves a multi-candidate group was finalized: one benefit for
// every member and a ranking without open ties.
func (g CommitGroup) checkFamily() error {
	first := g.Candidates[0].BenefitID
	for _, c := range g.Candidates[1:] {
		if c.BenefitID != first {
			return shared.NewDomainError("commit", "Validate", shared.ErrValidation,
				fmt.Sprintf("family group mixes benefits %s and %s", first, c.BenefitID))
		}
	}
	return benefit.VerifyRanking(g.Candidates, g.ManualOrder)
}

// CommitBenefitsCommand persists resolved candidates for a period.
type CommitBenefitsCommand struct {
	PeriodID string        `json:"period_id"`
	Groups   []CommitGroup `json:"groups"`
}

// Validate checks that every candidate carries an assigned benefit.
func (c CommitBenefitsCommand) Validate() error {
	if c.PeriodID == "" {
		return shared.NewDomainError("commit", "Validate", shared.ErrValidation, "period id is required")
	}
	if len(c.Groups) == 0 {
		return shared.NewDomainError("commit", "Validate", shared.ErrValidation, "nothing to commit")
	}
	for g, group := range c.Groups {
		if len(group.Candidates) == 0 {
			return shared.NewDomainError("commit", "Validate", shared.ErrValidation,
				fmt.Sprintf("group %d has no candidates", g))
		}
		for _, cand := range group.Candidates {
			if cand == nil || cand.NationalID == "" || cand.BenefitID == "" {
				return shared.NewDomainError("commit", "Validate", shared.ErrValidation,
					fmt.Sprintf("group %d has a candidate without national id or benefit", g))
			}
			if !benefit.IsFraction(cand.DiscountFraction) {
				return shared.NewDomainError("commit", "Validate", shared.ErrValueOutOfRange,
					fmt.Sprintf("candidate %s discount %s is outside [0,1]", cand.NationalID, cand.DiscountFraction))
			}
		}
		if len(group.Candidates) > 1 {
			if err := group.checkFamily(); err != nil {
				return shared.WrapError("commit", "Validate", shared.ErrValidation,
					fmt.Sprintf("group %d is not a finalized family group", g), err)
			}
		}
	}
	return nil
}

// CommitStatus is the fate of one candidate.
type CommitStatus string

const (
	CommitCommitted CommitStatus = "committed"
	CommitRejected  CommitStatus = "rejected"
	CommitFailed    CommitStatus = "failed"
)

// CommitRow reports one candidate.
type CommitRow struct {
	GroupIndex         int          `json:"group_index"`
	RequestID          string       `json:"request_id,omitempty"`
	NationalID         string       `json:"national_id"`
	BenefitID          string       `json:"benefit_id"`
	Status             CommitStatus `json:"status"`
	RecordID           string       `json:"record_id,omitempty"`
	SupersededRecordID string       `json:"superseded_record_id,omitempty"`
	Error              string       `json:"error,omitempty"`

	err error
}

// Err returns the failure of a rejected or failed row.
func (r CommitRow) Err() error {
	return r.err
}

// CommitResult lists every candidate in input order.
type CommitResult struct {
	PeriodID  string                 `json:"period_id"`
	Rows      []CommitRow            `json:"rows"`
	Conflicts benefit.ConflictReport `json:"conflicts"`
	Report    batch.Report           `json:"report"`
}

// Counts returns committed, rejected and failed totals.
func (r CommitResult) Counts() (committed, rejected, failed int) {
	for _, row := range r.Rows {
		switch row.Status {
		case CommitCommitted:
			committed++
		case CommitRejected:
			rejected++
		default:
			failed++
		}
	}
	return committed, rejected, failed
}

// CommitBenefitsHandler handles CommitBenefitsCommand.
type CommitBenefitsHandler struct {
	records      benefit.Repository
	conflicts    *benefit.ConflictResolver
	orchestrator *batch.Orchestrator
	dbRetrier    *retry.Retrier
	logger       *slog.Logger
}

// NewCommitBenefitsHandler creates a new CommitBenefitsHandler.
func NewCommitBenefitsHandler(
	records benefit.Repository,
	conflicts *benefit.ConflictResolver,
	orchestrator *batch.Orchestrator,
	dbRetrier *retry.Retrier,
	logger *slog.Logger,
) *CommitBenefitsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if dbRetrier == nil {
		dbRetrier = retry.New(retry.WithMaxAttempts(1))
	}
	return &CommitBenefitsHandler{
		records:      records,
		conflicts:    conflicts,
		orchestrator: orchestrator,
		dbRetrier:    dbRetrier,
		logger:       logger,
	}
}

// Handle checks every candidate with one batched lookup, then saves groups
// through the orchestrator. A hard conflict rejects the candidate's whole
// group. A soft conflict deactivates the superseded record in the same write
// as the insert. Any failed write leaves the whole group unwritten, and a
// failed deactivation is reported on the candidate that needed it.
func (h *CommitBenefitsHandler) Handle(ctx context.Context, cmd CommitBenefitsCommand) (*CommitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var requests []benefit.ConflictRequest
	for _, g := range cmd.Groups {
		for _, c := range g.Candidates {
			requests = append(requests, benefit.ConflictRequest{NationalID: c.NationalID, BenefitID: c.BenefitID})
		}
	}

	report, err := h.conflicts.Check(ctx, requests, cmd.PeriodID)
	if err != nil {
		return nil, err
	}

	type indexedGroup struct {
		index int
		group CommitGroup
	}
	items := make([]indexedGroup, len(cmd.Groups))
	for i, g := range cmd.Groups {
		items[i] = indexedGroup{index: i, group: g}
	}

	results, runReport := batch.Run(ctx, h.orchestrator, "commit-benefits", items,
		func(ctx context.Context, it indexedGroup) ([]CommitRow, error) {
			return h.commitGroup(ctx, cmd.PeriodID, it.index, it.group, report), nil
		})

	result := &CommitResult{PeriodID: cmd.PeriodID, Conflicts: report, Report: runReport}
	for i, res := range results {
		if res.Err != nil {
			// the group task itself failed (panic); report every member
			result.Rows = append(result.Rows, failGroup(i, cmd.Groups[i], res.Err)...)
			continue
		}
		result.Rows = append(result.Rows, res.Value...)
	}

	committed, rejected, failed := result.Counts()
	h.logger.Info("benefits committed",
		"period", cmd.PeriodID,
		"committed", committed,
		"rejected", rejected,
		"failed", failed,
	)
	return result, nil
}

func (h *CommitBenefitsHandler) commitGroup(ctx context.Context, periodID string, index int, group CommitGroup, report benefit.ConflictReport) []CommitRow {
	rows := make([]CommitRow, len(group.Candidates))
	for i, c := range group.Candidates {
		rows[i] = CommitRow{GroupIndex: index, RequestID: group.RequestID, NationalID: c.NationalID, BenefitID: c.BenefitID}
	}

	// a family's tier percentages only hold for the full group
	for _, c := range group.Candidates {
		check, ok := report.ForNationalID(c.NationalID)
		if ok && check.Kind == benefit.ConflictHard {
			cause := check.Err()
			for i := range rows {
				rows[i].Status = CommitRejected
				rows[i].err = cause
				rows[i].Error = cause.Error()
			}
			return rows
		}
	}

	records := make([]*benefit.Record, len(group.Candidates))
	for i, c := range group.Candidates {
		supersedes := ""
		if check, ok := report.ForNationalID(c.NationalID); ok && check.Kind == benefit.ConflictSoft {
			supersedes = check.SupersedesRecordID
			rows[i].SupersededRecordID = supersedes
		}
		records[i] = benefit.NewRecord(c, periodID, group.RequestID, supersedes)
	}

	err := h.dbRetrier.Do(ctx, func(ctx context.Context) error {
		return h.records.SaveGroup(ctx, records)
	})
	if err != nil {
		h.logger.Error("benefit group not written", "period", periodID, "request_id", group.RequestID, "error", err)
		abortGroup(rows, err)
		return rows
	}

	for i, rec := range records {
		rows[i].Status = CommitCommitted
		rows[i].RecordID = rec.ID
	}
	return rows
}

// abortGroup marks the rows of an unwritten group. The member that aborted
// the write carries the cause; its siblings were rolled back with it. A
// duplicate active record rejects the group, anything else fails it.
func abortGroup(rows []CommitRow, err error) {
	status := CommitFailed
	if errors.Is(err, shared.ErrAlreadyExists) {
		status = CommitRejected
	}

	var culprit *benefit.GroupWriteError
	errors.As(err, &culprit)
	for i := range rows {
		cause := err
		if culprit != nil && rows[i].NationalID != culprit.NationalID {
			cause = shared.NewDomainError("commit", "SaveGroup", shared.ErrGroupRolledBack,
				fmt.Sprintf("not written because the record for %s failed", culprit.NationalID))
		}
		rows[i].Status = status
		rows[i].err = cause
		rows[i].Error = cause.Error()
	}
}

func failGroup(index int, group CommitGroup, err error) []CommitRow {
	rows := make([]CommitRow, len(group.Candidates))
	for i, c := range group.Candidates {
		rows[i] = CommitRow{
			GroupIndex: index,
			RequestID:  group.RequestID,
			NationalID: c.NationalID,
			BenefitID:  c.BenefitID,
			Status:     CommitFailed,
			Error:      err.Error(),
			err:        err,
		}
	}
	return rows
}
