package benefit

import "github.com/shopspring/decimal"

// SubjectCategory classifies a kardex row. Catalog weights differ per category.
type SubjectCategory string

const (
	CategoryStandard        SubjectCategory = "STANDARD"
	CategoryIntersession    SubjectCategory = "INTERSESSION"
	CategoryProficiencyExam SubjectCategory = "PROFICIENCY_EXAM"
	CategoryContinuingEd    SubjectCategory = "CONTINUING_ED"
	CategoryLanguageCourse  SubjectCategory = "LANGUAGE_COURSE"
	CategoryThesisWorkshop  SubjectCategory = "THESIS_WORKSHOP"
	CategoryOther           SubjectCategory = "OTHER"
)

// String returns the category label.
func (c SubjectCategory) String() string {
	return string(c)
}

// SubjectRecord is one subject row taken from a matched kardex period.
// Records are values; valuation returns a copy carrying the credit weight.
type SubjectRecord struct {
	Code                string              `json:"code"`
	Title               string              `json:"title"`
	Category            SubjectCategory     `json:"category"`
	RawCategory         string              `json:"raw_category,omitempty"`
	Period              string              `json:"period"`
	ContinuousEvalScore decimal.NullDecimal `json:"continuous_eval_score"`
	FinalScore          decimal.NullDecimal `json:"final_score"`
	CreditWeight        decimal.NullDecimal `json:"credit_weight"`
}

// IsValuated reports whether a credit weight has been assigned.
func (s SubjectRecord) IsValuated() bool {
	return s.CreditWeight.Valid
}

// WithCreditWeight returns a copy of the record carrying the given weight.
func (s SubjectRecord) WithCreditWeight(weight decimal.Decimal) SubjectRecord {
	s.CreditWeight = decimal.NewNullDecimal(weight)
	return s
}

// TotalCreditWeight sums the weights of valuated subjects.
func TotalCreditWeight(subjects []SubjectRecord) decimal.Decimal {
	total := decimal.Zero
	for _, s := range subjects {
		if s.CreditWeight.Valid {
			total = total.Add(s.CreditWeight.Decimal)
		}
	}
	return total
}
