// Package retry provides bounded retry with exponential backoff and jitter
// for fallible operations such as page navigation and message publishing.
//
// A call owns all of its state; Do and DoValue are safe to use concurrently
// from independent call sites. Observers shared between concurrent calls
// must synchronise themselves (the zap observer already does).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero makes a single attempt; ApplyDefaults leaves it untouched.
	// Default: 3
	MaxRetries int `koanf:"max_retries"`

	// BaseDelay is the delay before the first retry.
	// Default: 2 seconds
	BaseDelay time.Duration `koanf:"base_delay"`

	// MaxDelay caps the computed backoff, before jitter.
	// Default: 60 seconds
	MaxDelay time.Duration `koanf:"max_delay"`

	// BackoffFactor is the multiplier applied per attempt.
	// Default: 2
	BackoffFactor float64 `koanf:"backoff_factor"`

	// JitterRatio bounds the random jitter added to each delay, as a
	// fraction of that delay. Zero disables jitter.
	// Default: 0.3
	JitterRatio float64 `koanf:"jitter_ratio"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseDelay:     2 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		JitterRatio:   0.3,
	}
}

// ApplyDefaults sets default values for unset backoff fields. MaxRetries
// and JitterRatio are meaningful at zero and are never replaced.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.BaseDelay == 0 {
		c.BaseDelay = defaults.BaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = defaults.BackoffFactor
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry max_delay (%s) must be >= base_delay (%s)", c.MaxDelay, c.BaseDelay)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("retry backoff_factor must be >= 1, got %v", c.BackoffFactor)
	}
	if c.JitterRatio < 0 || c.JitterRatio > 1 {
		return fmt.Errorf("retry jitter_ratio must be in [0,1], got %v", c.JitterRatio)
	}
	return nil
}

// Delay returns the backoff before retry number attempt+1, without jitter:
// min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func (c Config) Delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if d > float64(c.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Observer is notified once per retry.
type Observer interface {
	OnRetry(attempt int, delay time.Duration, err error)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(attempt int, delay time.Duration, err error)

// OnRetry implements Observer.
func (f ObserverFunc) OnRetry(attempt int, delay time.Duration, err error) {
	f(attempt, delay, err)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type options struct {
	classifier Classifier
	observer   Observer
	sleep      SleepFunc
	random     func() float64
}

// Option customises a single Do/DoValue call.
type Option func(*options)

// WithClassifier decides which errors are retried.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// RetryOn retries only errors matching one of targets via errors.Is.
func RetryOn(targets ...error) Option {
	return WithClassifier(Matching(targets...))
}

// WithObserver receives retry notifications.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithSleep replaces the wait between attempts.
func WithSleep(s SleepFunc) Option {
	return func(o *options) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(o *options) {
		if fn != nil {
			o.random = fn
		}
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. The error returned is the operation's own last
// error, not a wrapper.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error, opts ...Option) error {
	_, err := DoValue(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	cfg.ApplyDefaults()
	o := options{
		classifier: DefaultClassifier,
		observer:   nopObserver{},
		sleep:      sleepContext,
		random:     rand.Float64,
	}
	for _, opt := range opts {
		opt(&o)
	}

	maxRetries := max(cfg.MaxRetries, 0)

	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = unwrapPermanent(err)

		if !o.classifier(err) {
			return zero, lastErr
		}
		if attempt == maxRetries {
			break
		}

		delay := cfg.Delay(attempt)
		delay += time.Duration(o.random() * cfg.JitterRatio * float64(delay))
		notify(o.observer, attempt+1, delay, lastErr)

		if serr := o.sleep(ctx, delay); serr != nil {
			return zero, errors.Join(lastErr, serr)
		}
	}

	return zero, lastErr
}

// notify delivers a retry notification; observer panics are swallowed so
// logging can never fail the operation.
func notify(obs Observer, attempt int, delay time.Duration, err error) {
	defer func() {
		_ = recover()
	}()
	obs.OnRetry(attempt, delay, err)
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

type nopObserver struct{}

func (nopObserver) OnRetry(int, time.Duration, error) {}
