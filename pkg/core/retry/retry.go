// Package retry re-runs a fallible operation with exponential backoff.
//
// The schedule is deterministic: no jitter, the first wait is InitialDelay and
// every following wait is multiplied by Multiplier. With the defaults an
// operation runs at most three times, waiting 1s and then 2s in between.
package retry

import (
	"context"
	"math"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/phuslu/log"
)

// Config configures retry behavior.
type Config struct {
	MaxRetries   int           // retries after the first attempt (default: 2)
	InitialDelay time.Duration // wait before the first retry (default: 1s)
	Multiplier   float64       // growth factor between waits (default: 2)
	MaxDelay     time.Duration // cap on a single wait, 0 means uncapped
}

// DefaultConfig returns the 2 retries / 1s / x2 schedule.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   2,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

// Delays returns the waits the schedule would produce if every attempt failed.
func (c Config) Delays() []time.Duration {
	b := c.newBackOff()
	var out []time.Duration
	for {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return out
		}
		out = append(out, next)
	}
}

func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	return c
}

func (c Config) newBackOff() backoff.BackOff {
	c = c.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.RandomizationFactor = 0
	b.Multiplier = c.Multiplier
	b.MaxInterval = c.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithMaxRetries(b, uint64(c.MaxRetries))
}

type options struct {
	logger *log.Logger
	notify func(err error, next time.Duration)
	timer  backoff.Timer
}

// Option customises a single Do call.
type Option func(*options)

// WithLogger logs every failed attempt that will be retried.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithNotify is called after each failed attempt that will be retried.
func WithNotify(fn func(err error, next time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(o *options) { o.timer = t }
}

// Do runs op until it succeeds or the retry budget is spent, and returns the
// last error op produced, untouched. Waiting only blocks the calling
// goroutine; a cancelled ctx ends the wait early with ctx.Err().
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.normalized()
	retriesLeft := cfg.MaxRetries

	notify := func(err error, next time.Duration) {
		if o.logger != nil {
			o.logger.Warn().
				Err(err).
				Int64("retry_in_ms", next.Milliseconds()).
				Int("retries_left", retriesLeft).
				Msg("attempt failed, retrying")
		}
		retriesLeft--
		if o.notify != nil {
			o.notify(err, next)
		}
	}

	b := backoff.WithContext(cfg.newBackOff(), ctx)
	return backoff.RetryNotifyWithTimerAndData(func() (T, error) {
		return op(ctx)
	}, b, notify, o.timer)
}
