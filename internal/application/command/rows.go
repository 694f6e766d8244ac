package command

import (
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
)

// CandidateRow is the settled result of one student: either an outcome or a
// technical error. Exactly one of Kind and Error is set.
type CandidateRow struct {
	Index     int                 `json:"index"`
	Criteria  StudentCriteria     `json:"criteria"`
	Kind      benefit.OutcomeKind `json:"kind,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Candidate *benefit.Candidate  `json:"candidate,omitempty"`
	Error     string              `json:"error,omitempty"`

	// Committable is true when the candidate may be persisted as is.
	Committable bool `json:"committable"`

	outcome benefit.Outcome
	err     error
}

// Outcome returns the outcome, or nil for an error row.
func (r CandidateRow) Outcome() benefit.Outcome {
	return r.outcome
}

// Err returns the technical error of an error row.
func (r CandidateRow) Err() error {
	return r.err
}

// IsError reports whether the row carries an error instead of an outcome.
func (r CandidateRow) IsError() bool {
	return r.err != nil
}

// NewCandidateRow builds the row of a settled resolution.
func NewCandidateRow(index int, criteria StudentCriteria, outcome benefit.Outcome, err error) CandidateRow {
	row := CandidateRow{Index: index, Criteria: criteria}
	if err != nil {
		row.err = err
		row.Error = err.Error()
		return row
	}

	row.outcome = outcome
	row.Kind = outcome.Kind()
	row.Reason = outcome.Reason()
	row.Candidate, _ = benefit.CandidateOf(outcome)
	row.Committable = committable(outcome)
	return row
}

// committable: only a fully resolved candidate may be persisted.
func committable(o benefit.Outcome) bool {
	return benefit.Switch(o, benefit.OutcomeCases[bool]{
		Found:          func(benefit.Found) bool { return true },
		MissingKardex:  func(benefit.MissingKardex) bool { return false },
		MissingPayment: func(benefit.MissingPayment) bool { return false },
		MissingCareer:  func(benefit.MissingCareer) bool { return false },
		PersonNotFound: func(benefit.PersonNotFound) bool { return false },
	})
}

// Summary counts rows by outcome.
type Summary struct {
	Total     int                         `json:"total"`
	Errors    int                         `json:"errors"`
	ByOutcome map[benefit.OutcomeKind]int `json:"by_outcome"`
}

// Summarize counts rows.
func Summarize(rows []CandidateRow) Summary {
	s := Summary{Total: len(rows), ByOutcome: make(map[benefit.OutcomeKind]int)}
	for _, r := range rows {
		if r.IsError() {
			s.Errors++
			continue
		}
		s.ByOutcome[r.Kind]++
	}
	return s
}
