// Package llm handles LLM backend communication: one client per vendor
// behind a single capability interface, each with a bounded retry loop for
// rate limiting and transient server errors.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client is the capability interface for LLM backends. Generate sends the
// prompt and returns the generated text of the first candidate/choice,
// trimmed. The credential is fixed at construction; a missing credential is
// a configuration error reported by the constructor before any network
// activity.
type Client interface {
	// Name identifies the backend for report metadata and logs.
	Name() string
	Generate(ctx context.Context, model, prompt string) (string, error)
}

const (
	// maxAttempts bounds the retry loop of every client: one initial call
	// plus up to two retries.
	maxAttempts = 3

	// callTimeout applies to every individual attempt.
	callTimeout = 120 * time.Second

	// temperature is fixed; the report contract wants schema-shaped
	// output, not creativity.
	temperature = 0.2
)

// fallbackBackoff is the sleep before the next attempt when the server
// supplies no structured retry hint: 2s after the first attempt, 4s after
// the second.
func fallbackBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 2 * time.Second
}

// transientStatus reports whether an HTTP status is worth retrying on
// backends without a structured retry hint.
func transientStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// New dispatches to the backend implementation selected by name. The empty
// name selects Gemini. baseURL overrides the vendor endpoint; the empty
// string keeps the default.
func New(name, apiKey, baseURL string, log *zap.Logger) (Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch strings.ToLower(name) {
	case "gemini", "":
		return NewGemini(apiKey, baseURL, log)
	case "openai":
		return NewOpenAI(apiKey, baseURL, log)
	case "anthropic":
		return NewAnthropic(apiKey, baseURL, log)
	default:
		return nil, fmt.Errorf("llm: unknown backend %q", name)
	}
}
