package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini calls the Generative Language REST API directly. The retry loop is
// owned here because its contract is the interesting part: only HTTP 429 is
// retried, preferring the server's RetryInfo delay over the fallback
// schedule. Everything else fails on the first attempt.
type Gemini struct {
	apiKey  string
	baseURL string
	httpc   *http.Client
	log     *zap.Logger
	sleep   func(time.Duration)
}

// NewGemini builds a Gemini client. baseURL is overridable for tests and
// regional endpoints; the empty string selects the public endpoint.
func NewGemini(apiKey, baseURL string, log *zap.Logger) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("llm: gemini API key is not set")
	}
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &Gemini{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: callTimeout},
		log:     log,
		sleep:   time.Sleep,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// geminiEnvelope is the subset of the generateContent response we read.
type geminiEnvelope struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Generate(ctx context.Context, model, prompt string) (string, error) {
	payload := map[string]any{
		"contents": []any{
			map[string]any{
				"role":  "user",
				"parts": []any{map[string]any{"text": prompt}},
			},
		},
		"generationConfig": map[string]any{"temperature": temperature},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey))

	var raw []byte
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, lastErr = g.once(ctx, endpoint, body)
		if lastErr == nil {
			break
		}

		var gerr *googleapi.Error
		if !errors.As(lastErr, &gerr) || gerr.Code != http.StatusTooManyRequests || attempt == maxAttempts {
			return "", lastErr
		}

		delay, hinted := retryHint(gerr)
		if !hinted {
			delay = fallbackBackoff(attempt)
		}
		g.log.Warn("gemini rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("sleep", delay),
			zap.Bool("server_hint", hinted))
		g.sleep(delay)
	}
	if lastErr != nil {
		return "", lastErr
	}

	var out geminiEnvelope
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("gemini: response contained no candidates: %s", raw)
	}
	var parts []string
	for _, p := range out.Candidates[0].Content.Parts {
		parts = append(parts, p.Text)
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", fmt.Errorf("gemini: response contained no text: %s", raw)
	}
	return text, nil
}

// once performs a single generateContent call. Non-2xx responses come back
// as *googleapi.Error so the caller can read the status code and the error
// details.
func (g *Gemini) once(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: call failed: %w", err)
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("gemini: http error: %w", err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	return raw, nil
}

// retryDelayRe matches a google.rpc.RetryInfo delay such as "30s" or
// "12.5s"; only the whole-second part is used.
var retryDelayRe = regexp.MustCompile(`^(\d+)(?:\.\d+)?s$`)

// retryHint extracts the RetryInfo delay from a rate-limit error body, if
// present and parseable.
func retryHint(gerr *googleapi.Error) (time.Duration, bool) {
	details := gerr.Details
	if len(details) == 0 {
		// Older response shapes only populate Body; fall back to parsing it.
		var envelope struct {
			Error struct {
				Details []any `json:"details"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(gerr.Body), &envelope); err != nil {
			return 0, false
		}
		details = envelope.Error.Details
	}
	for _, d := range details {
		m, ok := d.(map[string]any)
		if !ok {
			continue
		}
		if m["@type"] != "type.googleapis.com/google.rpc.RetryInfo" {
			continue
		}
		delay, _ := m["retryDelay"].(string)
		match := retryDelayRe.FindStringSubmatch(strings.TrimSpace(delay))
		if match == nil {
			continue
		}
		secs, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}
