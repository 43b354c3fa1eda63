package llmaugment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/corpuspipe/corpuspipe/internal/telemetry"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxTokens      = 4096
)

// Client wraps the Anthropic API for batch study augmentation.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient builds a Client for the given API key and model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Augment sends one rendered batch prompt to the model and returns its raw
// text response, retrying transient failures with exponential backoff.
func (c *Client) Augment(ctx context.Context, prompt string) (_ string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "llmaugment", "llmaugment.augment",
		attribute.String("llmaugment.model", string(c.model)))
	defer func() { telemetry.EndSpan(span, err) }()

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, callErr := c.client.Messages.New(ctx, params)
		if callErr == nil {
			if len(message.Content) == 0 || message.Content[0].Type != "text" {
				return "", fmt.Errorf("llmaugment: unexpected response shape")
			}
			return message.Content[0].Text, nil
		}

		lastErr = callErr
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(callErr) {
			return "", fmt.Errorf("llmaugment: non-retryable error: %w", callErr)
		}
	}
	return "", fmt.Errorf("llmaugment: failed after %d attempts: %w", maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

// renderBatch appends the JSON-encoded batch of deterministic studies
// (the schema-shaped view, so the model sees exactly the fields it's
// allowed to fill) after the locked-baseline prompt.
func renderBatch(studies []payloadStudy) (string, error) {
	body, err := json.Marshal(studies)
	if err != nil {
		return "", fmt.Errorf("llmaugment: marshal batch: %w", err)
	}
	return promptTemplate + string(body), nil
}
