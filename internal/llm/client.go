// Package llm provides the multi-provider completion client used for rubric
// classification.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/rdscope/rdscope-go/internal/config"
	rderrors "github.com/rdscope/rdscope-go/internal/errors"
)

// Provider identifies the completion backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderNone   Provider = "none"
)

// CompletionClient is the surface the classifier depends on. CompleteJSON
// must return the raw model output; schema validation happens upstream.
type CompletionClient interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client provides a multi-provider LLM interface (OpenAI or Gemini).
type Client struct {
	provider     Provider
	openaiClient *openai.Client
	geminiClient *GeminiClient
	limiter      *rate.Limiter
	logger       *slog.Logger
	model        string
}

// NewClient creates a completion client from configuration. Provider priority:
// LLM_PROVIDER env var, then config, then openai.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	logger := slog.Default().With("component", "llm")

	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = cfg.API.Provider
	}
	if provider == "" {
		provider = "openai"
	}

	// One in-process limiter shared by all workers. Keeps batch
	// classification under provider request-per-second quotas.
	limiter := rate.NewLimiter(rate.Limit(5), 5)

	switch Provider(provider) {
	case ProviderGemini:
		geminiKey := cfg.API.GeminiKey
		if geminiKey == "" {
			geminiKey = os.Getenv("GEMINI_API_KEY")
		}
		if geminiKey == "" {
			return nil, rderrors.ConfigError("gemini provider selected but no API key configured (set GEMINI_API_KEY or run 'rdscope configure')")
		}
		model := cfg.API.GeminiModel
		gemini, err := NewGeminiClient(ctx, geminiKey, model)
		if err != nil {
			return nil, rderrors.Wrap(err, rderrors.ErrorTypeConfig, rderrors.SeverityCritical, "failed to create gemini client")
		}
		logger.Info("gemini client initialized", "model", gemini.model)
		return &Client{
			provider:     ProviderGemini,
			geminiClient: gemini,
			limiter:      limiter,
			logger:       logger,
			model:        gemini.model,
		}, nil

	case ProviderOpenAI:
		if cfg.API.OpenAIKey == "" {
			return nil, rderrors.ConfigError("openai provider selected but no API key configured (set OPENAI_API_KEY or run 'rdscope configure')")
		}
		model := cfg.API.OpenAIModel
		if model == "" {
			model = "gpt-4o-mini"
		}
		logger.Info("openai client initialized", "model", model)
		return &Client{
			provider:     ProviderOpenAI,
			openaiClient: openai.NewClient(cfg.API.OpenAIKey),
			limiter:      limiter,
			logger:       logger,
			model:        model,
		}, nil

	default:
		return nil, rderrors.ConfigErrorf("unknown llm provider %q", provider)
	}
}

// GetProvider returns the active provider.
func (c *Client) GetProvider() Provider {
	return c.provider
}

// CompleteJSON sends a prompt and returns the raw JSON response text.
// OpenAI uses response_format json_object; Gemini uses the application/json
// response MIME type.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	switch c.provider {
	case ProviderGemini:
		return c.geminiClient.CompleteJSON(ctx, systemPrompt, userPrompt)
	case ProviderOpenAI:
		return c.completeOpenAIJSON(ctx, systemPrompt, userPrompt)
	default:
		return "", rderrors.InternalError("no provider configured")
	}
}

func (c *Client) completeOpenAIJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.openaiClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1, // Low temperature for consistent judgments
		MaxTokens:   2000,
	})

	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	response := resp.Choices[0].Message.Content
	c.logger.Debug("openai json completion",
		"model", c.model,
		"prompt_length", len(userPrompt),
		"response_length", len(response),
		"tokens_used", resp.Usage.TotalTokens,
	)

	return response, nil
}
