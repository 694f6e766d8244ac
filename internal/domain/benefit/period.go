// Package benefit contains the domain model for discretionary tuition
// discounts: candidates, family groups, tier tables, discount assignment and
// conflict classification against previously granted benefits.
package benefit

import "strings"

// Period is one academic term as the academic service prints it.
type Period struct {
	// ID is the internal period identifier used by benefit records.
	ID string `json:"id"`

	// Name is the display name printed in kardex headers and invoice
	// references (e.g. "1/2024", "II-2023").
	Name string `json:"name"`
}

// String returns the display name.
func (p Period) String() string {
	return p.Name
}

// PeriodNames returns the display names of the given periods.
func PeriodNames(periods []Period) []string {
	names := make([]string, 0, len(periods))
	for _, p := range periods {
		names = append(names, p.Name)
	}
	return names
}

// JoinPeriodNames formats periods for error messages.
func JoinPeriodNames(periods []Period) string {
	return strings.Join(PeriodNames(periods), ", ")
}
