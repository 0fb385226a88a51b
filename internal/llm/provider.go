package llm

import (
	"fmt"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// NewModel builds the langchaingo model named by s.Provider.
func NewModel(s config.LLMConfig) (llms.Model, error) {
	switch s.Provider {
	case "openai", "":
		opts := []openai.Option{openai.WithModel(s.Model)}
		if s.APIKey.IsSet() {
			opts = append(opts, openai.WithToken(s.APIKey.Value()))
		}
		if s.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(s.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(s.Model)}
		if s.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(s.BaseURL))
		}
		return ollama.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(s.Model)}
		if s.APIKey.IsSet() {
			opts = append(opts, anthropic.WithToken(s.APIKey.Value()))
		}
		if s.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(s.BaseURL))
		}
		return anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, s.Provider)
	}
}

// ConfigFromSettings maps the llm section of the config file.
func ConfigFromSettings(s config.LLMConfig) Config {
	return Config{
		Model:             s.Model,
		MaxRetries:        s.MaxRetries,
		RetryBackoff:      s.RetryBackoff.Duration(),
		RequestsPerSecond: s.RequestsPerSecond,
		Timeout:           s.Timeout.Duration(),
	}
}

// NewFromSettings builds the model and wraps it in a Client.
func NewFromSettings(s config.LLMConfig, logger *zap.Logger) (*Client, error) {
	model, err := NewModel(s)
	if err != nil {
		return nil, fmt.Errorf("creating %s model: %w", s.Provider, err)
	}
	return NewClient(model, ConfigFromSettings(s), logger)
}
