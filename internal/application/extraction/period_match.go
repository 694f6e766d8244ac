package extraction

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/pkg/textnorm"
)

// MatchMode selects how a period display name is found in free text.
type MatchMode string

const (
	// MatchContains matches on substring containment. "1/2024" also matches
	// inside "11/2024"; kept as the default for compatibility with existing
	// records.
	MatchContains MatchMode = "contains"

	// MatchToken requires the name to appear as a whole run of tokens.
	MatchToken MatchMode = "token"
)

// ParseMatchMode parses a configuration value.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchContains:
		return MatchContains, nil
	case MatchToken:
		return MatchToken, nil
	default:
		return "", fmt.Errorf("unknown period match mode %q", s)
	}
}

// PeriodMatcher decides whether a header or reference text names a period.
type PeriodMatcher struct {
	mode MatchMode
}

// NewPeriodMatcher creates a matcher. An empty mode means MatchContains.
func NewPeriodMatcher(mode MatchMode) PeriodMatcher {
	if mode == "" {
		mode = MatchContains
	}
	return PeriodMatcher{mode: mode}
}

// Mode returns the matching mode.
func (m PeriodMatcher) Mode() MatchMode {
	return m.mode
}

// MatchAny returns the first period named in text.
func (m PeriodMatcher) MatchAny(text string, periods []benefit.Period) (benefit.Period, bool) {
	normalized := textnorm.Normalize(text)
	var tokens []string
	if m.mode == MatchToken {
		tokens = tokenize(normalized)
	}

	for _, p := range periods {
		name := textnorm.Normalize(p.Name)
		if name == "" {
			continue
		}
		switch m.mode {
		case MatchToken:
			if containsRun(tokens, tokenize(name)) {
				return p, true
			}
		default:
			if strings.Contains(normalized, name) {
				return p, true
			}
		}
	}
	return benefit.Period{}, false
}

// tokenize splits on anything that is not a letter, digit, '/' or '-', the
// characters period names are built from.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '/' && r != '-'
	})
}

func containsRun(tokens, run []string) bool {
	if len(run) == 0 || len(run) > len(tokens) {
		return false
	}
	for i := 0; i+len(run) <= len(tokens); i++ {
		match := true
		for j := range run {
			if tokens[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
