package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrRateLimited marks a call rejected by provider-side throttling.
	ErrRateLimited = errors.New("llm: rate limited")
	// ErrNoChoices is returned when the completion carries no choices.
	ErrNoChoices = errors.New("llm: no choices returned")
)

// Schema describes the structured object a request expects back.
type Schema struct {
	Name       string
	Definition json.RawMessage
}

// Request is one prompt sent to the model.
type Request struct {
	// Purpose labels the call in logs, e.g. "grammar" or "validate".
	Purpose     string
	System      string
	Prompt      string
	Temperature float32
	// Schema switches the call to structured-output mode when set.
	Schema *Schema
}

// Gateway is the opaque text-generation capability.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api    *openai.Client
	model  string
	logger *slog.Logger
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, logger *slog.Logger) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    openai.NewClientWithConfig(config),
		model:  modelName,
		logger: logger,
	}
}

// Complete sends the request and returns the content of the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	ccr := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
	}
	if req.Schema != nil {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Schema.Name,
				Schema: req.Schema.Definition,
			},
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, ccr)
	if err != nil {
		if IsRateLimit(err) {
			return "", fmt.Errorf("LLM API call (%s): %w: %w", req.Purpose, ErrRateLimited, err)
		}
		return "", fmt.Errorf("LLM API call (%s): %w", req.Purpose, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM API call (%s): %w", req.Purpose, ErrNoChoices)
	}

	raw := resp.Choices[0].Message.Content
	c.logger.Debug("LLM response", "purpose", req.Purpose, "raw", raw)
	return raw, nil
}

// Ping checks that the endpoint answers by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// CompleteJSON completes a structured request and decodes the object into T.
func CompleteJSON[T any](ctx context.Context, gw Gateway, req Request) (T, error) {
	var out T
	raw, err := gw.Complete(ctx, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(extractObject(raw)), &out); err != nil {
		return out, fmt.Errorf("parse %s response: %w (raw: %s)", req.Purpose, err, raw)
	}
	return out, nil
}

// extractObject trims prose or code fences around a JSON object.
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}

// IsRateLimit reports whether err signals provider throttling.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
