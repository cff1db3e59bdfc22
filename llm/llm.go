// Package llm wraps the chat completion providers behind document
// understanding.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fabfab/hearings-ai/config"
	"github.com/fabfab/hearings-ai/logger"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	defaultTimeout = 2 * time.Minute
	defaultBackoff = 500 * time.Millisecond
)

type Message struct {
	Role    string
	Content string
}

// Client returns the assistant reply to a conversation.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	Provider string
	Model    string
	// Temperature is sent as is; zero keeps answers close to the source text.
	Temperature float32
	// MaxTokens caps the reply; zero leaves it to the provider.
	MaxTokens int
	Timeout   time.Duration
	// MaxRetries is the number of extra attempts after a retryable failure.
	MaxRetries int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		Timeout:       cfg.LLM.Timeout,
		MaxRetries:    cfg.LLM.MaxRetries,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
}

// NewClient builds the configured provider client. Retryable provider
// failures are retried with exponential backoff.
func NewClient(cfg config.Config, log *logger.Logger) (Client, error) {
	opts := OptionsFromConfig(cfg)
	if opts.Model == "" {
		return nil, fmt.Errorf("llm model not configured")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}

	var client Client
	switch opts.Provider {
	case config.ProviderOllama:
		client = NewOllamaClient(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		client = NewOpenAIClient(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}

	if opts.MaxRetries > 0 {
		client = WithRetry(client, opts.MaxRetries, defaultBackoff,
			log.With("component", "llm", "provider", opts.Provider, "model", opts.Model))
	}
	return client, nil
}
