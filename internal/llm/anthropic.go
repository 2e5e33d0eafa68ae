package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// maxOutputTokens caps Anthropic responses; the Messages API requires an
// explicit limit. Reports are small, this leaves generous headroom.
const maxOutputTokens = 8192

// Anthropic implements Client using the Anthropic SDK. Like OpenAI, the API
// exposes no structured retry hint, so 429 and transient server errors use
// the fallback backoff; the SDK's own retries are disabled.
type Anthropic struct {
	client anthropic.Client
	log    *zap.Logger
	sleep  func(time.Duration)
}

// NewAnthropic builds an Anthropic client. baseURL is overridable for tests;
// the empty string keeps the official API.
func NewAnthropic(apiKey, baseURL string, log *zap.Logger) (*Anthropic, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("llm: anthropic API key is not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(callTimeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		log:    log,
		sleep:  time.Sleep,
	}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Generate(ctx context.Context, model, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       anthropic.Model(model),
			MaxTokens:   maxOutputTokens,
			Temperature: anthropic.Float(temperature),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			lastErr = fmt.Errorf("anthropic: messages.new: %w", err)
			var apierr *anthropic.Error
			if errors.As(err, &apierr) && transientStatus(apierr.StatusCode) && attempt < maxAttempts {
				delay := fallbackBackoff(attempt)
				a.log.Warn("anthropic transient error, backing off",
					zap.Int("attempt", attempt),
					zap.Int("status", apierr.StatusCode),
					zap.Duration("sleep", delay))
				a.sleep(delay)
				continue
			}
			return "", lastErr
		}

		var parts []string
		for _, block := range msg.Content {
			// "text" is the only content type carrying assistant text.
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		text := strings.TrimSpace(strings.Join(parts, ""))
		if text == "" {
			return "", fmt.Errorf("anthropic: response contained no text content: %s", msg.RawJSON())
		}
		return text, nil
	}
	return "", lastErr
}
