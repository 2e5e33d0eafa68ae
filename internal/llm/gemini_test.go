package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

const geminiOK = `{
  "candidates": [
    {"content": {"parts": [{"text": "{\"source\""}, {"text": ":\"doc.md\",\"issues\":[]}"}]}}
  ]
}`

const gemini429NoHint = `{
  "error": {"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"}
}`

const gemini429Hint = `{
  "error": {
    "code": 429,
    "message": "quota exceeded",
    "status": "RESOURCE_EXHAUSTED",
    "details": [
      {"@type": "type.googleapis.com/google.rpc.ErrorInfo", "reason": "RATE_LIMIT_EXCEEDED"},
      {"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "7s"}
    ]
  }
}`

// newGeminiForTest wires a Gemini client to a test server and records every
// sleep instead of actually sleeping.
func newGeminiForTest(t *testing.T, handler http.HandlerFunc) (*Gemini, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGemini("test-key", srv.URL, zap.NewNop())
	require.NoError(t, err)

	var sleeps []time.Duration
	g.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return g, &sleeps
}

func jsonResponse(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestGemini_MissingKey(t *testing.T) {
	_, err := NewGemini("  ", "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestGemini_Success(t *testing.T) {
	var calls atomic.Int32
	g, sleeps := newGeminiForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "models/test-model:generateContent")
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		jsonResponse(w, http.StatusOK, geminiOK)
	})

	text, err := g.Generate(context.Background(), "test-model", "prompt")
	require.NoError(t, err)
	// Parts of the first candidate are concatenated in order.
	assert.Equal(t, `{"source":"doc.md","issues":[]}`, text)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *sleeps)
}

func TestGemini_RetryCeiling(t *testing.T) {
	var calls atomic.Int32
	g, sleeps := newGeminiForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonResponse(w, http.StatusTooManyRequests, gemini429NoHint)
	})

	_, err := g.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	// Exactly 3 attempts; fallback backoff is 2×attempt seconds.
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestGemini_RetryHint(t *testing.T) {
	var calls atomic.Int32
	g, sleeps := newGeminiForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			jsonResponse(w, http.StatusTooManyRequests, gemini429Hint)
			return
		}
		jsonResponse(w, http.StatusOK, geminiOK)
	})

	text, err := g.Generate(context.Background(), "m", "p")
	require.NoError(t, err)
	assert.NotEmpty(t, text)

	// The server-supplied RetryInfo delay wins over the fallback schedule.
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{7 * time.Second}, *sleeps)
}

func TestGemini_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	g, sleeps := newGeminiForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonResponse(w, http.StatusBadRequest, `{"error":{"code":400,"message":"bad request"}}`)
	})

	_, err := g.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *sleeps)
}

func TestGemini_ServerErrorNotRetried(t *testing.T) {
	// Gemini reads the structured hint for 429 only; 503 fails immediately.
	var calls atomic.Int32
	g, _ := newGeminiForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonResponse(w, http.StatusServiceUnavailable, `{"error":{"code":503,"message":"unavailable"}}`)
	})

	_, err := g.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGemini_NoCandidates(t *testing.T) {
	g, _ := newGeminiForTest(t, func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, `{"candidates":[]}`)
	})

	_, err := g.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
	// The raw response is echoed to aid debugging.
	assert.Contains(t, err.Error(), `"candidates":[]`)
}

func TestGemini_EmptyText(t *testing.T) {
	g, _ := newGeminiForTest(t, func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"   "}]}}]}`)
	})

	_, err := g.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text")
}

func TestRetryHint_Parsing(t *testing.T) {
	tests := []struct {
		delay  string
		want   time.Duration
		hinted bool
	}{
		{"7s", 7 * time.Second, true},
		{"12.5s", 12 * time.Second, true},
		{"0s", 0, true},
		{"7", 0, false},
		{"soon", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"` + tt.delay + `"}]}}`
		gerr := &googleapi.Error{Code: 429, Body: body}
		got, hinted := retryHint(gerr)
		if hinted != tt.hinted || got != tt.want {
			t.Errorf("retryHint(retryDelay=%q) = (%v, %v), want (%v, %v)",
				tt.delay, got, hinted, tt.want, tt.hinted)
		}
	}
}

func TestGenerateURLEscapesModel(t *testing.T) {
	var gotPath string
	g, _ := newGeminiForTest(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		jsonResponse(w, http.StatusOK, geminiOK)
	})
	_, err := g.Generate(context.Background(), "models/odd name", "p")
	require.NoError(t, err)
	assert.False(t, strings.Contains(gotPath, " "), "model id must be path-escaped: %q", gotPath)
}
