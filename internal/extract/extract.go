// Package extract pulls a single JSON object out of raw LLM output that may
// be wrapped in markdown code fences or surrounded by prose.
package extract

import (
	"errors"
	"strings"
)

// ErrEmptyInput is returned when the input is empty after trimming.
var ErrEmptyInput = errors.New("extract: empty input")

// ErrNoJSONObject is returned when no JSON object can be located in the input.
var ErrNoJSONObject = errors.New("extract: could not locate a JSON object in input")

// JSONObject returns the substring of text most likely to be a single JSON
// object. It strips a leading code fence (with optional language tag) and a
// trailing fence line, then slices from the first '{' to the last '}' when
// the text does not already start with '{'.
//
// This is a heuristic, not a parser: braces are not balanced, so a literal
// '}' inside a string value positioned after the true closing brace would be
// mis-sliced. That limitation is accepted; see the package tests.
func JSONObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return "", ErrEmptyInput
	}

	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		if len(lines) >= 2 {
			lines = lines[1:]
		}
		if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
			lines = lines[:len(lines)-1]
		}
		s = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	if !strings.HasPrefix(s, "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start != -1 && end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return "", ErrNoJSONObject
	}
	return s, nil
}
