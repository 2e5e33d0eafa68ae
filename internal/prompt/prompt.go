// Package prompt carries the bundled rubric and report schema and builds the
// exact prompt text sent to the model. Building is deterministic: identical
// inputs always produce byte-identical output, because prompts are persisted
// alongside reports for reproducibility.
package prompt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed assets/rubric.md
var rubric string

//go:embed assets/schema.json
var schemaJSON []byte

// Summary is the projection of the full report schema that is rendered into
// the prompt: required keys, property descriptors, and additionalProperties,
// which is always rendered as false. It is never used for real JSON-Schema
// validation. Properties is kept as raw JSON so that rendering preserves the
// property order of the asset file.
type Summary struct {
	Type                 string          `json:"type"`
	Required             []string        `json:"required"`
	Properties           json.RawMessage `json:"properties"`
	AdditionalProperties bool            `json:"additionalProperties"`
}

// Rubric returns the bundled rubric text.
func Rubric() string { return rubric }

// SchemaSummary projects the bundled schema document into a Summary.
func SchemaSummary() (Summary, error) {
	var doc struct {
		Required   []string        `json:"required"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return Summary{}, fmt.Errorf("prompt: bundled schema.json: %w", err)
	}
	if doc.Properties == nil {
		doc.Properties = json.RawMessage("{}")
	}
	return Summary{
		Type:                 "object",
		Required:             doc.Required,
		Properties:           doc.Properties,
		AdditionalProperties: false,
	}, nil
}

// Build renders the prompt for one document: role framing, the rubric
// verbatim, the output constraints, the schema summary as indented JSON,
// then the source identifier and document body. No section is conditional.
func Build(rubricText string, summary Summary, source, body string) (string, error) {
	schemaMin, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("prompt: marshal schema summary: %w", err)
	}

	lines := []string{
		"You are not a reviewer. You are a formal logic linter.",
		"Your only task is to check the internal logical consistency of the manuscript.",
		"",
		"## Rubric",
		strings.TrimSpace(rubricText),
		"",
		"## Output constraints (most important)",
		"- Output JSON only. No preamble, no postscript, no code fences.",
		"- Conform to the bundled schema.",
		"- `location.quote` must be a verbatim quote from the source text. Never invent wording.",
		"- Do not assert on speculation. If the text does not support an issue, do not create one.",
		"",
		"## JSON schema (summary)",
		string(schemaMin),
		"",
		"## Input",
		fmt.Sprintf("source: %s", source),
		"",
		strings.TrimSpace(body),
		"",
	}
	return strings.Join(lines, "\n"), nil
}
