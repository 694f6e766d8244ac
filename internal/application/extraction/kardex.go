package extraction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/external/academic"
	"github.com/tuition-hub/benefit-resolver/pkg/textnorm"
)

// KardexLayout locates fields inside a kardex block.
type KardexLayout struct {
	// MajorLabels prefix the header line carrying the major, e.g.
	// "Carrera: Ingeniería Civil".
	MajorLabels []string

	CodeColumn           int
	TitleColumn          int
	CategoryColumn       int
	ContinuousEvalColumn int
	FinalScoreColumn     int
}

// DefaultKardexLayout returns the layout the service prints today.
func DefaultKardexLayout() KardexLayout {
	return KardexLayout{
		MajorLabels:          []string{"CARRERA", "PROGRAMA", "MAJOR"},
		CodeColumn:           0,
		TitleColumn:          1,
		CategoryColumn:       2,
		ContinuousEvalColumn: 3,
		FinalScoreColumn:     4,
	}
}

// KardexResult is what a kardex yields for the requested periods.
type KardexResult struct {
	Subjects []benefit.SubjectRecord `json:"subjects"`

	// Major is taken from the most recent matching block, as printed.
	Major string `json:"major"`

	// NormalizedMajor has diacritics removed and is upper-cased.
	NormalizedMajor string `json:"normalized_major"`

	MatchedPeriods []string `json:"matched_periods"`
}

// KardexExtractor parses enrollment history.
type KardexExtractor struct {
	layout  KardexLayout
	matcher PeriodMatcher
}

// NewKardexExtractor creates an extractor.
func NewKardexExtractor(layout KardexLayout, matcher PeriodMatcher) *KardexExtractor {
	return &KardexExtractor{layout: layout, matcher: matcher}
}

// Extract returns the subjects of every block that names one of the periods.
// It fails with shared.ErrNoMatchingPeriod when no block matches.
func (e *KardexExtractor) Extract(blocks []academic.Block, periods []benefit.Period) (KardexResult, error) {
	result, found, err := e.scan(blocks, periods)
	if err != nil {
		return KardexResult{}, err
	}
	if !found {
		return KardexResult{}, shared.NewDomainError("kardex", "Extract", shared.ErrNoMatchingPeriod,
			fmt.Sprintf("no kardex block for periods %s", benefit.JoinPeriodNames(periods)))
	}
	return result, nil
}

// ExtractLenient is Extract for batch flows: a kardex without matching blocks
// yields found=false instead of an error. Malformed rows are still errors.
func (e *KardexExtractor) ExtractLenient(blocks []academic.Block, periods []benefit.Period) (KardexResult, bool, error) {
	return e.scan(blocks, periods)
}

// scan walks blocks from the most recent (last) to the oldest.
func (e *KardexExtractor) scan(blocks []academic.Block, periods []benefit.Period) (KardexResult, bool, error) {
	var result KardexResult
	found := false

	for b := len(blocks) - 1; b >= 0; b-- {
		block := blocks[b]
		period, ok := e.matcher.MatchAny(block.HeaderText(), periods)
		if !ok {
			continue
		}

		if !found {
			result.Major = e.majorOf(block)
			result.NormalizedMajor = textnorm.Normalize(result.Major)
		}
		found = true
		result.MatchedPeriods = append(result.MatchedPeriods, period.Name)

		for i := range block.Rows {
			row := block.Row(b, i)
			if row.IsBlank(e.layout.CodeColumn) {
				continue
			}
			subject, err := e.subject(row, period)
			if err != nil {
				return KardexResult{}, false, err
			}
			result.Subjects = append(result.Subjects, subject)
		}
	}

	return result, found, nil
}

func (e *KardexExtractor) majorOf(block academic.Block) string {
	for _, line := range block.Header {
		normalized := textnorm.Normalize(line)
		for _, label := range e.layout.MajorLabels {
			label = textnorm.Normalize(label)
			if !strings.HasPrefix(normalized, label) {
				continue
			}
			if idx := strings.Index(line, ":"); idx >= 0 {
				return strings.TrimSpace(line[idx+1:])
			}
			// no colon: drop the label word
			if fields := strings.Fields(line); len(fields) > 1 {
				return strings.Join(fields[1:], " ")
			}
		}
	}
	return ""
}

func (e *KardexExtractor) subject(row academic.Row, period benefit.Period) (benefit.SubjectRecord, error) {
	code, err := row.Text(e.layout.CodeColumn)
	if err != nil {
		return benefit.SubjectRecord{}, err
	}
	title, err := row.Text(e.layout.TitleColumn)
	if err != nil {
		return benefit.SubjectRecord{}, err
	}

	rawCategory := row.TextOr(e.layout.CategoryColumn, "")
	return benefit.SubjectRecord{
		Code:                code,
		Title:               title,
		Category:            ParseCategory(rawCategory),
		RawCategory:         rawCategory,
		Period:              period.Name,
		ContinuousEvalScore: score(row, e.layout.ContinuousEvalColumn),
		FinalScore:          score(row, e.layout.FinalScoreColumn),
	}, nil
}

// score reads a grade. Marks such as "NSP" or "AP" carry no number and are
// kept as null.
func score(row academic.Row, col int) decimal.NullDecimal {
	v, err := row.NullDecimal(col)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return v
}

// categoryKeywords map normalized label fragments to categories, checked in
// order.
var categoryKeywords = []struct {
	category benefit.SubjectCategory
	keywords []string
}{
	{benefit.CategoryThesisWorkshop, []string{"TALLER DE GRADO", "TESIS", "THESIS"}},
	{benefit.CategoryProficiencyExam, []string{"SUFICIENCIA", "PROFICIENCY"}},
	{benefit.CategoryIntersession, []string{"INTERSEMESTRAL", "INTERSESSION", "VERANO", "INVIERNO"}},
	{benefit.CategoryContinuingEd, []string{"EDUCACION CONTINUA", "CONTINUING"}},
	{benefit.CategoryLanguageCourse, []string{"IDIOMA", "LANGUAGE"}},
	{benefit.CategoryStandard, []string{"REGULAR", "NORMAL", "STANDARD"}},
}

// ParseCategory maps a raw category label to a SubjectCategory. A blank
// label is a standard subject; unknown labels are CategoryOther.
func ParseCategory(raw string) benefit.SubjectCategory {
	normalized := textnorm.Normalize(raw)
	if normalized == "" {
		return benefit.CategoryStandard
	}
	for _, c := range categoryKeywords {
		if containsAny(normalized, c.keywords) {
			return c.category
		}
	}
	return benefit.CategoryOther
}
