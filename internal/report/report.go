// Package report defines the canonical report types for logiclint output,
// the shape validator for raw LLM responses, and the normalizer that turns a
// validated response into canonical form.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Taxonomy is the closed set of allowed issue-type labels for a run.
type Taxonomy map[string]bool

// NewTaxonomy builds a Taxonomy from a list of labels.
func NewTaxonomy(labels []string) Taxonomy {
	t := make(Taxonomy, len(labels))
	for _, l := range labels {
		t[l] = true
	}
	return t
}

// Location points at the manuscript text an issue is about. Quote is expected
// to be a verbatim substring of the source document. Note is emitted only
// when the model's location object carried a note key at all.
type Location struct {
	Quote string  `json:"quote"`
	Note  *string `json:"note,omitempty"`
}

// Issue is one detected inconsistency between two claims in a document.
type Issue struct {
	Type     string   `json:"type"`
	Location Location `json:"location"`
	ClaimA   string   `json:"claim_a"`
	ClaimB   string   `json:"claim_b"`
	Why      string   `json:"why"`
	Severity int      `json:"severity"`
	Fix      string   `json:"fix"`
}

// Report is the full normalized output for one document.
type Report struct {
	Source string         `json:"source"`
	Issues []Issue        `json:"issues"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Parse decodes raw JSON text into an untyped value suitable for Validate
// and Normalize. Numbers are kept as json.Number so that the validator can
// distinguish integer literals from floats.
func Parse(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("report: parse: %w", err)
	}
	return v, nil
}

// issueFields are the required keys of each issues[] element, in report order.
var issueFields = []string{"type", "location", "claim_a", "claim_b", "why", "severity", "fix"}

// Validate checks a parsed JSON value against the required report shape and
// the taxonomy. It returns one string per violation; an empty slice means
// valid. Malformed input is the expected failure mode here and is reported
// as data, never as a panic.
func Validate(v any, taxonomy Taxonomy) []string {
	var errs []string

	obj, ok := v.(map[string]any)
	if !ok {
		return []string{"top-level must be an object"}
	}

	for _, k := range []string{"source", "issues"} {
		if _, ok := obj[k]; !ok {
			errs = append(errs, fmt.Sprintf("missing required key: %s", k))
		}
	}

	rawIssues, present := obj["issues"]
	issues, isList := rawIssues.([]any)
	if present && !isList {
		errs = append(errs, "issues must be an array")
	}

	for i, el := range issues {
		it, ok := el.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("issues[%d] must be an object", i))
			continue
		}
		for _, k := range issueFields {
			if _, ok := it[k]; !ok {
				errs = append(errs, fmt.Sprintf("issues[%d].%s is required", i, k))
			}
		}
		if typ, ok := it["type"].(string); ok {
			if len(taxonomy) > 0 && !taxonomy[typ] {
				errs = append(errs, fmt.Sprintf("issues[%d].type must be one of taxonomy: %s", i, typ))
			}
		}
		loc, ok := it["location"].(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("issues[%d].location.quote is required", i))
		} else if _, ok := loc["quote"]; !ok {
			errs = append(errs, fmt.Sprintf("issues[%d].location.quote is required", i))
		}
		if sev, ok := asInt(it["severity"]); !ok || sev < 1 || sev > 5 {
			errs = append(errs, fmt.Sprintf("issues[%d].severity must be integer 1..5", i))
		}
	}

	return errs
}

// Normalize builds the canonical Report from a validator-clean value. It is
// defensive: absent or wrong-typed fields become empty/zero, and issue
// entries that are not objects are dropped rather than defaulted.
func Normalize(v any) *Report {
	obj, _ := v.(map[string]any)

	out := &Report{
		Source: coerceString(obj["source"]),
		Issues: []Issue{},
	}

	rawIssues, _ := obj["issues"].([]any)
	for _, el := range rawIssues {
		it, ok := el.(map[string]any)
		if !ok {
			continue
		}
		loc, _ := it["location"].(map[string]any)
		issue := Issue{
			Type:     coerceString(it["type"]),
			Location: Location{Quote: coerceString(loc["quote"])},
			ClaimA:   coerceString(it["claim_a"]),
			ClaimB:   coerceString(it["claim_b"]),
			Why:      coerceString(it["why"]),
			Severity: coerceInt(it["severity"]),
			Fix:      coerceString(it["fix"]),
		}
		if _, hasNote := loc["note"]; hasNote {
			note := coerceString(loc["note"])
			issue.Location.Note = &note
		}
		out.Issues = append(out.Issues, issue)
	}

	// Stable sort: severity descending, then type, then quote. Stability
	// makes repeated normalization of identical input idempotent.
	sort.SliceStable(out.Issues, func(i, j int) bool {
		a, b := out.Issues[i], out.Issues[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Location.Quote < b.Location.Quote
	})

	if meta, ok := obj["meta"].(map[string]any); ok {
		out.Meta = meta
	}
	return out
}

// EncodeJSON renders the report in its persisted form: two-space indent,
// trailing newline, non-ASCII preserved literally.
func EncodeJSON(r *Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("report: nil report")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("report: json encode: %w", err)
	}
	return buf.Bytes(), nil
}

// asInt reports whether v is a JSON integer literal (or a native Go int from
// tests) and returns its value. Floats, including whole-valued ones like
// 3.0, do not count.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// coerceString renders v as a trimmed string. Absent and null values become
// the empty string.
func coerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return strings.TrimSpace(s.String())
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// coerceInt renders v as an int, truncating floats and defaulting to zero.
func coerceInt(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(f)
		}
		return 0
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
