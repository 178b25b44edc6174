package cache

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps every accent, case and spacing variant of a query to one
// canonical form: "León", "leon" and " LEON " all become "leon".
func Normalize(query string) string {
	// Transformers keep internal state, so a chain is built per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(stripMarks, query)
	if err != nil {
		s = query
	}
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Hash is the stable key fragment for a normalized query.
func Hash(normalized string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(normalized))
}
