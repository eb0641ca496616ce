// Package completion sends prompts to a text-generation service.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("rallycoach/completion")

const (
	// DefaultMaxRetries is the number of extra attempts made on overload.
	DefaultMaxRetries = 2
	// DefaultBaseDelay is multiplied by the attempt number between retries.
	DefaultBaseDelay = time.Second
	// DefaultMaxTokens bounds a coaching reply.
	DefaultMaxTokens = 300
)

// Generator is one text-generation backend.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Options tune the retry policy.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *slog.Logger
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client wraps a Generator with the overload retry policy.
type Client struct {
	gen        Generator
	maxRetries int
	baseDelay  time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// NewClient creates a completion client.
func NewClient(gen Generator, opts Options) *Client {
	c := &Client{
		gen:        gen,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		sleep:      opts.Sleep,
		logger:     opts.Logger,
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if opts.MaxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.baseDelay <= 0 {
		c.baseDelay = DefaultBaseDelay
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Complete returns generated text or a *ServiceError.
// Overload errors are retried maxRetries times with delay baseDelay*attempt.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, span := tracer.Start(ctx, "Complete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	attempts := 0
	for {
		attempts++
		text, err := c.gen.Generate(ctx, prompt, maxTokens)
		if err == nil {
			text = strings.TrimSpace(text)
			span.SetAttributes(attribute.Int("attempts", attempts))
			if text == "" {
				span.SetStatus(codes.Error, "empty completion")
				return "", &ServiceError{Kind: KindEmpty, Attempts: attempts, Err: errors.New("empty completion")}
			}
			return text, nil
		}

		if !errors.Is(err, ErrOverloaded) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "completion failed")
			c.logger.Error("Completion failed", "error", err, "attempts", attempts)
			return "", &ServiceError{Kind: KindUpstream, Attempts: attempts, Err: err}
		}
		if attempts > c.maxRetries {
			span.RecordError(err)
			span.SetStatus(codes.Error, "overloaded")
			c.logger.Error("Completion service overloaded, giving up", "attempts", attempts)
			return "", &ServiceError{Kind: KindOverloaded, Attempts: attempts, Err: err}
		}

		delay := c.baseDelay * time.Duration(attempts)
		c.logger.Warn("Completion service overloaded, retrying", "attempt", attempts, "delay", delay)
		if serr := c.sleep(ctx, delay); serr != nil {
			return "", &ServiceError{Kind: KindOverloaded, Attempts: attempts, Err: fmt.Errorf("%w: %w", err, serr)}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
