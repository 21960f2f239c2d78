package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"

	"github.com/pavelanni/langtest/internal/llm"
)

// ErrExhausted wraps the last error once a policy runs out of attempts.
var ErrExhausted = errors.New("retries exhausted")

// Exhaustion selects what Retry does after the last failed attempt.
type Exhaustion int

const (
	// Escalate returns the last error.
	Escalate Exhaustion = iota
	// DefaultValue returns the zero value and a nil error.
	DefaultValue
)

// Policy bounds the attempts of one logical operation.
type Policy struct {
	Name        string
	MaxAttempts int
	// Backoff returns the delay after the given zero-based attempt.
	Backoff      func(attempt int) time.Duration
	OnExhaustion Exhaustion
	// Retryable selects errors worth another attempt; nil means rate limits only.
	Retryable func(error) bool

	logger *slog.Logger
}

// attemptBackOff feeds a Policy's delay function to the retry loop.
type attemptBackOff struct {
	fn      func(int) time.Duration
	attempt int
}

func (b *attemptBackOff) NextBackOff() time.Duration {
	d := time.Duration(0)
	if b.fn != nil {
		d = b.fn(b.attempt)
	}
	b.attempt++
	return d
}

func (b *attemptBackOff) Reset() { b.attempt = 0 }

// Retry runs fn until it succeeds, fails with a non-retryable error, or
// p.MaxAttempts is reached.
func Retry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	retryable := p.Retryable
	if retryable == nil {
		retryable = llm.IsRateLimit
	}
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	op := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !retryable(err) {
			return v, cbackoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, d time.Duration) {
		logger.Warn("retrying", "policy", p.Name, "delay", d, "error", err)
	}

	v, err := cbackoff.Retry(ctx, op,
		cbackoff.WithBackOff(&attemptBackOff{fn: p.Backoff}),
		cbackoff.WithMaxTries(uint(attempts)),
		cbackoff.WithNotify(notify),
	)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil || !retryable(err) {
		return zero, err
	}

	logger.Warn("retries exhausted", "policy", p.Name, "attempts", attempts, "error", err)
	if p.OnExhaustion == DefaultValue {
		return zero, nil
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}

// GenerationPolicy retries rate limits three times with base*2^attempt plus
// one to five seconds of jitter, then yields the zero value.
func (l *Ladder) GenerationPolicy(base time.Duration) Policy {
	return Policy{
		Name:        "generation",
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return l.scale(base<<attempt + l.jitter.Draw(Range{time.Second, 5 * time.Second}))
		},
		OnExhaustion: DefaultValue,
		logger:       l.logger,
	}
}

// EvaluationPolicy retries rate limits three times with 2s*2^attempt and
// returns the last error, leaving the fallback value to the caller.
func (l *Ladder) EvaluationPolicy() Policy {
	return Policy{
		Name:        "evaluation",
		MaxAttempts: 3,
		Backoff: func(attempt int) time.Duration {
			return l.scale(2 * time.Second << attempt)
		},
		OnExhaustion: Escalate,
		logger:       l.logger,
	}
}

// LegacyPolicy is EvaluationPolicy applied to every error.
func (l *Ladder) LegacyPolicy() Policy {
	p := l.EvaluationPolicy()
	p.Name = "legacy-evaluation"
	p.Retryable = func(err error) bool {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return p
}
