// Package textnorm folds free text from the academic service into a
// comparable form.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize decomposes s, strips combining marks, collapses whitespace and
// upper-cases the result, so "Ingeniería  civil" and "INGENIERIA CIVIL"
// compare equal.
func Normalize(s string) string {
	// transformers keep state; build a fresh chain per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(strings.Join(strings.Fields(out), " "))
}

// Equal reports whether a and b normalize to the same text.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
