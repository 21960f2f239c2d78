// Package backoff wraps LLM calls in rate-limit aware delay tiers and
// bounded retry policies.
package backoff

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pavelanni/langtest/internal/llm"
)

// Range is a closed interval of delays drawn uniformly.
type Range struct {
	Min, Max time.Duration
}

// Sleeper pauses the caller. Implementations must honor ctx.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleeper sleeps on a timer and wakes early when ctx is done.
type RealSleeper struct{}

// Sleep blocks for d or until ctx is done.
func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Jitter draws uniform delays. It is safe for concurrent use.
type Jitter struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewJitter returns a Jitter backed by r; nil r uses a random seed.
func NewJitter(r *rand.Rand) *Jitter {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Jitter{r: r}
}

// Draw returns a uniform duration in rg.
func (j *Jitter) Draw(rg Range) time.Duration {
	if rg.Max <= rg.Min {
		return rg.Min
	}
	j.mu.Lock()
	f := j.r.Float64()
	j.mu.Unlock()
	return rg.Min + time.Duration(f*float64(rg.Max-rg.Min))
}

// Tier is one rung of the degradation ladder.
type Tier struct {
	Name     string
	Pre      Range
	Post     Range
	Cooldown time.Duration
	// Next is the more conservative tier a rate-limited call is handed to.
	// A nil Next returns the rate-limit error to the caller.
	Next *Tier

	ladder *Ladder
}

// Call runs fn under tier t. A rate-limited call sleeps the tier cooldown
// and is then either returned or handed to the next tier.
func Call[T any](ctx context.Context, t *Tier, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for tier := t; ; tier = tier.Next {
		l := tier.ladder
		if err := l.sleep(ctx, tier.Name, "pre", l.jitter.Draw(tier.Pre)); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			if err := l.sleep(ctx, tier.Name, "post", l.jitter.Draw(tier.Post)); err != nil {
				return zero, err
			}
			return v, nil
		}
		if !llm.IsRateLimit(err) {
			return zero, err
		}

		next := "none"
		if tier.Next != nil {
			next = tier.Next.Name
		}
		l.logger.Warn("rate limited", "tier", tier.Name, "cooldown", tier.Cooldown, "next", next)
		if serr := l.sleep(ctx, tier.Name, "cooldown", l.scale(tier.Cooldown)); serr != nil {
			return zero, serr
		}
		if tier.Next == nil {
			return zero, err
		}
	}
}

// Ladder holds the linked tiers and the clock they share.
type Ladder struct {
	Safe           *Tier
	Fast           *Tier
	UltraFast      *Tier
	UltraFastBurst *Tier

	sleeper Sleeper
	jitter  *Jitter
	logger  *slog.Logger
	noDelay bool
}

// Options configures a Ladder.
type Options struct {
	Sleeper Sleeper
	Jitter  *Jitter
	Logger  *slog.Logger
	// NoDelay zeroes every delay, cooldown and retry backoff.
	NoDelay bool
}

// NewLadder builds the Safe, Fast and UltraFast tiers.
func NewLadder(opts Options) *Ladder {
	l := &Ladder{
		sleeper: opts.Sleeper,
		jitter:  opts.Jitter,
		logger:  opts.Logger,
		noDelay: opts.NoDelay,
	}
	if l.sleeper == nil {
		l.sleeper = RealSleeper{}
	}
	if l.jitter == nil {
		l.jitter = NewJitter(nil)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}

	s := time.Second
	ms := time.Millisecond
	l.Safe = l.tier("safe", Range{2 * s, 5 * s}, Range{1 * s, 3 * s}, 30*s, nil)
	l.Fast = l.tier("fast", Range{500 * ms, 1500 * ms}, Range{300 * ms, 800 * ms}, 10*s, l.Safe)
	l.UltraFast = l.tier("ultra-fast", Range{200 * ms, 800 * ms}, Range{200 * ms, 500 * ms}, 5*s, l.Fast)
	l.UltraFastBurst = l.tier("ultra-fast-burst", Range{200 * ms, 800 * ms}, Range{100 * ms, 500 * ms}, 5*s, l.Fast)
	return l
}

func (l *Ladder) tier(name string, pre, post Range, cooldown time.Duration, next *Tier) *Tier {
	if l.noDelay {
		pre, post = Range{}, Range{}
	}
	return &Tier{Name: name, Pre: pre, Post: post, Cooldown: cooldown, Next: next, ladder: l}
}

// Sleep pauses for d through the ladder's sleeper, unless delays are off.
func (l *Ladder) Sleep(ctx context.Context, d time.Duration) error {
	return l.sleep(ctx, "", "gap", l.scale(d))
}

// Between returns a uniform delay in [lo, hi].
func (l *Ladder) Between(lo, hi time.Duration) time.Duration {
	return l.jitter.Draw(Range{lo, hi})
}

func (l *Ladder) scale(d time.Duration) time.Duration {
	if l.noDelay {
		return 0
	}
	return d
}

func (l *Ladder) sleep(ctx context.Context, tier, phase string, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	l.logger.Debug("sleeping", "tier", tier, "phase", phase, "delay", d)
	return l.sleeper.Sleep(ctx, d)
}
