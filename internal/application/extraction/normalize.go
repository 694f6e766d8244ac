// Package extraction turns the academic service's tabular responses into
// domain facts: the subjects and major of a kardex, and the tuition plan a
// student paid.
package extraction

import (
	"strings"

	"github.com/tuition-hub/benefit-resolver/pkg/textnorm"
)

// containsAny reports whether the normalized text contains any of the
// keywords, compared accent-insensitively.
func containsAny(normalized string, keywords []string) bool {
	for _, k := range keywords {
		if k = textnorm.Normalize(k); k != "" && strings.Contains(normalized, k) {
			return true
		}
	}
	return false
}
