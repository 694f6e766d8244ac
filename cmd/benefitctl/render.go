package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/application/batch"
	"github.com/tuition-hub/benefit-resolver/internal/application/command"
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/persistence/postgres"
)

var (
	okText   = color.New(color.FgGreen).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	errText  = color.New(color.FgRed).SprintFunc()
	title    = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func percent(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(0) + "%"
}

// ══════════════════════════════════════════════════════════════════════════════
// CANDIDATES
// ══════════════════════════════════════════════════════════════════════════════

func outcomeLabel(row command.CandidateRow) string {
	switch {
	case row.IsError() || row.Error != "":
		return errText("error")
	case row.Kind == benefit.OutcomeFound:
		return okText(string(row.Kind))
	default:
		return warnText(string(row.Kind))
	}
}

func studentLabel(row command.CandidateRow) (nationalID, name string) {
	nationalID, name = row.Criteria.NationalID, row.Criteria.FullName
	if c := row.Candidate; c != nil {
		if c.NationalID != "" {
			nationalID = c.NationalID
		}
		if c.FullName != "" {
			name = c.FullName
		}
	}
	return nationalID, name
}

// renderRows prints one line per student in input order.
func renderRows(w io.Writer, rows []command.CandidateRow) {
	table := newTable(w, "#", "National ID", "Name", "Outcome", "Major", "Credits", "Plan", "Discount", "Tuition", "Due", "Note")

	for _, row := range rows {
		nationalID, name := studentLabel(row)
		line := []string{strconv.Itoa(row.Index + 1), nationalID, name, outcomeLabel(row), "", "", "", "", "", "", row.Reason}
		if row.Error != "" {
			line[10] = row.Error
		}
		if c := row.Candidate; c != nil {
			line[4] = c.DeclaredMajor
			line[5] = c.TotalCreditWeight.String()
			line[6] = string(c.Payment.PlanType)
			if c.BenefitID != "" {
				line[7] = percent(c.DiscountFraction)
				line[8] = money(c.Totals.Tuition)
				line[9] = money(c.Totals.Balance)
				if c.Totals.InFavor() {
					line[9] = okText(line[9])
				}
			}
			if c.Payment.ManualEntry && line[10] == "" {
				line[10] = "manual payment"
			}
		}
		table.Append(line)
	}
	table.Render()
}

func renderSummary(w io.Writer, s command.Summary, report batch.Report) {
	parts := make([]string, 0, len(s.ByOutcome))
	for _, kind := range []benefit.OutcomeKind{
		benefit.OutcomeFound,
		benefit.OutcomeMissingKardex,
		benefit.OutcomeMissingPayment,
		benefit.OutcomeMissingCareer,
		benefit.OutcomePersonNotFound,
	} {
		if n := s.ByOutcome[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", kind, n))
		}
	}
	if s.Errors > 0 {
		parts = append(parts, errText(fmt.Sprintf("errors %d", s.Errors)))
	}
	fmt.Fprintf(w, "%s %d students: %s (run %s, %s)\n",
		title("Summary:"), s.Total, strings.Join(parts, ", "), report.RunID, report.Duration)
}

func renderBatch(w io.Writer, result *command.BatchResult) {
	renderRows(w, result.Rows)
	renderSummary(w, result.Summary, result.Report)
}

// renderFamily prints the ranked members and whatever blocks the commit.
func renderFamily(w io.Writer, result *command.FamilyResult) {
	fmt.Fprintf(w, "%s %s\n", title("Family request:"), result.RequestID)

	if result.Group != nil {
		table := newTable(w, "Rank", "National ID", "Name", "Credits", "Discount", "Due")
		for i, m := range result.Group.Members {
			table.Append([]string{
				strconv.Itoa(i + 1),
				m.NationalID,
				m.FullName,
				m.TotalCreditWeight.String(),
				percent(m.DiscountFraction),
				money(m.Totals.Balance),
			})
		}
		table.Render()
	} else {
		renderRows(w, result.Rows)
	}

	for _, tie := range result.Ties {
		fmt.Fprintln(w, warnText("tie:"), tie.String())
	}
	for _, reason := range result.Blocking {
		fmt.Fprintln(w, errText("blocked:"), reason)
	}
	if result.Committable {
		fmt.Fprintln(w, okText("ready to commit"))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICTS & COMMIT
// ══════════════════════════════════════════════════════════════════════════════

func conflictLabel(kind benefit.ConflictKind) string {
	switch kind {
	case benefit.ConflictHard:
		return errText(string(kind))
	case benefit.ConflictSoft:
		return warnText(string(kind))
	default:
		return okText(string(kind))
	}
}

func renderConflicts(w io.Writer, report benefit.ConflictReport) {
	fmt.Fprintf(w, "%s %s\n", title("Period:"), report.PeriodID)
	table := newTable(w, "National ID", "Benefit", "Conflict", "Supersedes", "Message")
	for _, c := range report.Checks {
		table.Append([]string{
			c.Request.NationalID,
			c.Request.BenefitID,
			conflictLabel(c.Kind),
			c.SupersedesRecordID,
			c.Message,
		})
	}
	table.Render()
	fmt.Fprintf(w, "%d committable, %d rejected\n", len(report.Committable()), len(report.Rejected()))
}

func commitLabel(status command.CommitStatus) string {
	switch status {
	case command.CommitCommitted:
		return okText(string(status))
	case command.CommitRejected:
		return warnText(string(status))
	default:
		return errText(string(status))
	}
}

func renderCommit(w io.Writer, result *command.CommitResult) {
	fmt.Fprintf(w, "%s %s\n", title("Period:"), result.PeriodID)
	table := newTable(w, "Group", "National ID", "Benefit", "Status", "Record", "Superseded", "Error")
	for _, row := range result.Rows {
		group := strconv.Itoa(row.GroupIndex + 1)
		if row.RequestID != "" {
			group = row.RequestID
		}
		table.Append([]string{
			group,
			row.NationalID,
			row.BenefitID,
			commitLabel(row.Status),
			row.RecordID,
			row.SupersededRecordID,
			row.Error,
		})
	}
	table.Render()

	committed, rejected, failed := result.Counts()
	fmt.Fprintf(w, "%d committed, %d rejected, %d failed\n", committed, rejected, failed)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG & DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

func renderBenefits(w io.Writer, benefits []benefit.Benefit) {
	table := newTable(w, "ID", "Name", "Kind", "Percentage", "Credit limit")
	for _, b := range benefits {
		pct, limit := "custom", "none"
		if b.Percentage.Valid {
			pct = percent(b.Percentage.Decimal)
		}
		if b.CreditLimit.Valid {
			limit = b.CreditLimit.Decimal.String()
		}
		table.Append([]string{b.ID, b.Name, string(b.Kind), pct, limit})
	}
	table.Render()
}

func renderSync(w io.Writer, result *command.SyncCatalogResult) {
	if result.Locked {
		fmt.Fprintln(w, warnText("another catalog sync is running, nothing done"))
		return
	}
	fmt.Fprintf(w, "%s %d courses, %d tuition rates in %s\n", okText("synced"), result.Courses, result.Rates, result.Duration)
	for _, skipped := range result.SkippedRows {
		fmt.Fprintln(w, warnText("skipped:"), skipped)
	}
}

func renderMigrations(w io.Writer, migrations []postgres.Migration) {
	table := newTable(w, "Version", "Name", "State", "Applied at")
	pending := 0
	for _, m := range migrations {
		state, at := warnText("pending"), ""
		if m.Applied {
			state = okText("applied")
			if m.AppliedAt != nil {
				at = m.AppliedAt.UTC().Format(time.RFC3339)
			}
		} else {
			pending++
		}
		table.Append([]string{strconv.Itoa(m.Version), m.Name, state, at})
	}
	table.Render()
	if pending > 0 {
		fmt.Fprintf(w, "%s %d pending, run benefitctl migrate up\n", warnText("schema behind:"), pending)
	}
}
