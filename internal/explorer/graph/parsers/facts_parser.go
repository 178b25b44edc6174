package parsers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/model"
	logx "github.com/animal-explorer/server/pkg/logger"
)

// NotAnAnimalMarker is the line the model answers with for unknown animals.
const NotAnAnimalMarker = "NOT_AN_ANIMAL"

// basic safety limits to avoid pathological inputs
const (
	maxContentLen  = 16 * 1024
	maxFieldLen    = 600
	maxFacts       = 6
	maxSuggestions = 5
)

// ErrIncomplete is returned when the answer lacks a name or any fact.
var ErrIncomplete = errors.New("facts response is incomplete")

type field int

const (
	fieldUnknown field = iota
	fieldName
	fieldEnglishName
	fieldClass
	fieldGroup
	fieldCovering
	fieldFact
	fieldSuggestions
)

// labels maps lower-cased labels, in both prompt languages, to fields.
var labels = map[string]field{
	"name":             fieldName,
	"nombre":           fieldName,
	"english name":     fieldEnglishName,
	"nombre en inglés": fieldEnglishName,
	"nombre en ingles": fieldEnglishName,
	"class":            fieldClass,
	"clase":            fieldClass,
	"group":            fieldGroup,
	"grupo":            fieldGroup,
	"covering":         fieldCovering,
	"cubierta":         fieldCovering,
	"fact":             fieldFact,
	"dato":             fieldFact,
	"suggestions":      fieldSuggestions,
	"sugerencias":      fieldSuggestions,
}

// ParseFacts reads the `**Label:** value` records of a facts answer. It
// returns *errx.InvalidAnimalError when the answer carries NOT_AN_ANIMAL.
func ParseFacts(content string) (facts *model.Facts, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "facts_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("facts parser panic"), http.StatusInternalServerError, errx.CodeInternal, errx.SystemErrorMessage)
			facts = nil
		}
	}()

	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "")
	}
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "facts_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = truncate(content, maxContentLen)
	}

	facts = &model.Facts{Facts: []string{}, Raw: strings.TrimSpace(content)}
	var suggestions []string
	invalid := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, NotAnAnimalMarker) {
			invalid = true
			continue
		}
		f, value, ok := parseRecord(line)
		if !ok || value == "" {
			continue
		}
		switch f {
		case fieldName:
			facts.Name = value
		case fieldEnglishName:
			facts.EnglishName = value
		case fieldClass:
			facts.Class = value
		case fieldGroup:
			facts.Group = value
		case fieldCovering:
			facts.Covering = value
		case fieldFact:
			if len(facts.Facts) < maxFacts {
				facts.Facts = append(facts.Facts, value)
			}
		case fieldSuggestions:
			suggestions = append(suggestions, splitSuggestions(value)...)
		}
	}

	if invalid {
		if len(suggestions) > maxSuggestions {
			suggestions = suggestions[:maxSuggestions]
		}
		return nil, &errx.InvalidAnimalError{Suggestions: suggestions}
	}
	if facts.Name == "" || len(facts.Facts) == 0 {
		logx.Warn().Str("component", "facts_parser").Str("snippet", truncate(content, 200)).Msg("facts response incomplete")
		return nil, ErrIncomplete
	}
	return facts, nil
}

// parseRecord splits `**Label:** value`. Labels followed by digits, such as
// Dato2, map to their base label. List bullets before the label are ignored.
func parseRecord(line string) (field, string, bool) {
	line = strings.TrimLeft(line, "-*• ")
	line = strings.TrimPrefix(line, "**")
	// the closing bold marker sits after the colon in the expected format
	// but models sometimes place it before.
	idx := strings.Index(line, ":")
	if idx <= 0 {
		return fieldUnknown, "", false
	}
	label := strings.TrimSpace(strings.Trim(line[:idx], "* "))
	value := strings.TrimSpace(strings.Trim(line[idx+1:], "* "))

	label = strings.ToLower(strings.TrimRight(label, "0123456789 "))
	f, ok := labels[label]
	if !ok {
		return fieldUnknown, "", false
	}
	return f, truncate(value, maxFieldLen), true
}

func splitSuggestions(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(strings.Trim(s, "[]. "))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
