package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tracerName = "scribe.llm"

var (
	// ErrEmptyResponse is returned when the model answers with no choices.
	ErrEmptyResponse = errors.New("llm returned no content")

	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Completer produces a completion for a single user prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Config is the call policy applied around the model.
type Config struct {
	// Model is reported in spans, metrics and logs.
	Model string

	// MaxRetries bounds retries of transient failures. 0 disables retries.
	MaxRetries int

	// RetryBackoff is the first backoff interval; it doubles per attempt.
	RetryBackoff time.Duration

	// RequestsPerSecond caps the call rate. 0 means unlimited.
	RequestsPerSecond float64

	// Timeout bounds a single attempt. 0 means no per-attempt timeout.
	Timeout time.Duration
}

// Client implements Completer over a langchaingo model.
type Client struct {
	model   llms.Model
	config  Config
	limiter *rate.Limiter
	metrics *metrics
	logger  *zap.Logger
}

// NewClient wraps model with rate limiting and retries.
func NewClient(model llms.Model, cfg Config, logger *zap.Logger) (*Client, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if cfg.MaxRetries < 0 || cfg.RequestsPerSecond < 0 || cfg.RetryBackoff < 0 || cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: retry, rate and timeout settings must not be negative", ErrInvalidConfig)
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	return &Client{
		model:   model,
		config:  cfg,
		limiter: rate.NewLimiter(limit, burst),
		metrics: newMetrics(logger),
		logger:  logger,
	}, nil
}

// Complete sends prompt as a single human message and returns the first
// choice's text.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Client.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.config.Model),
		attribute.Float64("llm.temperature", temperature),
		attribute.Int("llm.prompt_chars", len(prompt)),
	)

	start := time.Now()
	attempts := 0
	var out string

	backoff := retry.WithMaxRetries(uint64(c.config.MaxRetries), retry.NewExponential(c.config.RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		text, err := c.generate(ctx, prompt, temperature)
		if err != nil {
			if isRetryable(err) {
				c.logger.Debug("retrying completion",
					zap.String("model", c.config.Model),
					zap.Int("attempt", attempts),
					zap.Error(err),
				)
				return retry.RetryableError(err)
			}
			return err
		}
		out = text
		return nil
	})

	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	c.metrics.record(ctx, c.config.Model, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("completion failed after %d attempt(s): %w", attempts, err)
	}
	span.SetAttributes(attribute.Int("llm.response_chars", len(out)))
	return out, nil
}

func (c *Client) generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	resp, err := c.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// isRetryable reports whether err looks like a transient provider failure,
// matching status codes in the message text.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504", "overloaded",
		"timeout", "connection reset", "connection refused", "eof",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var _ Completer = (*Client)(nil)
