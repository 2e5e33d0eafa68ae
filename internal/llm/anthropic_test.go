package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const anthropicOK = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "test-model",
  "content": [
    {"type": "text", "text": "{\"source\":\"doc.md\","},
    {"type": "text", "text": "\"issues\":[]}"}
  ],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 1, "output_tokens": 1}
}`

func newAnthropicForTest(t *testing.T, handler http.HandlerFunc) (*Anthropic, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewAnthropic("test-key", srv.URL, zap.NewNop())
	require.NoError(t, err)

	var sleeps []time.Duration
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return c, &sleeps
}

func TestAnthropic_MissingKey(t *testing.T) {
	_, err := NewAnthropic("", "", zap.NewNop())
	require.Error(t, err)
}

func TestAnthropic_Success(t *testing.T) {
	var calls atomic.Int32
	c, sleeps := newAnthropicForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Contains(t, r.URL.Path, "/messages")
		jsonResponse(w, http.StatusOK, anthropicOK)
	})

	text, err := c.Generate(context.Background(), "test-model", "prompt")
	require.NoError(t, err)
	// Text blocks are concatenated in order.
	assert.Equal(t, `{"source":"doc.md","issues":[]}`, text)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, *sleeps)
}

func TestAnthropic_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	c, sleeps := newAnthropicForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			jsonResponse(w, http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
			return
		}
		jsonResponse(w, http.StatusOK, anthropicOK)
	})

	text, err := c.Generate(context.Background(), "m", "p")
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, *sleeps)
}

func TestAnthropic_NonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	c, _ := newAnthropicForTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		jsonResponse(w, http.StatusForbidden, `{"type":"error","error":{"type":"permission_error","message":"nope"}}`)
	})

	_, err := c.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropic_NoTextContent(t *testing.T) {
	c, _ := newAnthropicForTest(t, func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, `{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	})

	_, err := c.Generate(context.Background(), "m", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text content")
}

func TestNew_Dispatch(t *testing.T) {
	tests := []struct {
		backend string
		name    string
	}{
		{"gemini", "gemini"},
		{"", "gemini"},
		{"OpenAI", "openai"},
		{"anthropic", "anthropic"},
	}
	for _, tt := range tests {
		c, err := New(tt.backend, "key", "", zap.NewNop())
		require.NoError(t, err, tt.backend)
		assert.Equal(t, tt.name, c.Name())
	}

	_, err := New("cohere", "key", "", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}
