// Package llm wraps the hosted text-generation service used by the
// classifier and the responders.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const DefaultTimeout = 30 * time.Second

// ErrNotConfigured is returned when no API key was supplied.
var ErrNotConfigured = errors.New("text generation is not configured: OPENAI_API_KEY is not set")

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationError wraps a failed call to the generation service.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAI is a Generator backed by the chat completion endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

func NewOpenAI(cfg Config, logger *zap.Logger) *OpenAI {
	g := &OpenAI{
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
	if g.model == "" {
		g.model = openai.GPT4oMini
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if cfg.APIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
		g.client = openai.NewClientWithConfig(clientConfig)
	}
	return g
}

// Configured reports whether an API key was supplied.
func (g *OpenAI) Configured() bool {
	return g.client != nil
}

func (g *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", &GenerationError{Op: "generate", Err: ErrNotConfigured}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   g.maxTokens,
			Temperature: float32(g.temperature),
		},
	)
	if err != nil {
		g.logger.Error("Failed to get completion", zap.String("model", g.model), zap.Error(err))
		return "", &GenerationError{Op: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Op: "chat completion", Err: errors.New("no choices returned")}
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
