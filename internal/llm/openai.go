package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

// OpenAI implements Client for the OpenAI Chat Completions API and any
// compatible endpoint. The SDK's own retry machinery is disabled so that
// this client's bounded loop governs: the API exposes no structured retry
// hint, so 429 and transient server errors share the fallback backoff.
type OpenAI struct {
	client openai.Client
	log    *zap.Logger
	sleep  func(time.Duration)
}

// NewOpenAI builds an OpenAI-compatible client. baseURL selects a
// compatible endpoint (e.g. a local proxy); the empty string keeps the
// official API.
func NewOpenAI(apiKey, baseURL string, log *zap.Logger) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("llm: openai API key is not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(callTimeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		log:    log,
		sleep:  time.Sleep,
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Generate(ctx context.Context, model, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:       shared.ChatModel(model),
			Temperature: openai.Float(temperature),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
		})
		if err != nil {
			lastErr = fmt.Errorf("openai: chat.completions.new: %w", err)
			var apierr *openai.Error
			if errors.As(err, &apierr) && transientStatus(apierr.StatusCode) && attempt < maxAttempts {
				delay := fallbackBackoff(attempt)
				o.log.Warn("openai transient error, backing off",
					zap.Int("attempt", attempt),
					zap.Int("status", apierr.StatusCode),
					zap.Duration("sleep", delay))
				o.sleep(delay)
				continue
			}
			return "", lastErr
		}

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("openai: response contained no choices: %s", resp.RawJSON())
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return "", fmt.Errorf("openai: response contained no content: %s", resp.RawJSON())
		}
		return text, nil
	}
	return "", lastErr
}
