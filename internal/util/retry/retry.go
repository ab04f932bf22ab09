package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/metrics"
)

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the total number of attempts, including the first one.
	MaxRetries   int
	InitialDelay time.Duration
	// Increment is added to the delay after every attempt.
	Increment time.Duration
	// Multiplier scales the delay after every attempt, before Increment is added.
	Multiplier float64
	// MaxDelay caps the delay. Zero means no cap.
	MaxDelay time.Duration
	// RetryIf selects the errors worth retrying. Nil retries everything
	// except errors marked with Fatal.
	RetryIf func(error) bool
	// Name labels retries in logs and metrics.
	Name string
}

// Option is a functional option for retry configuration.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		Increment:    2 * time.Second,
		Multiplier:   1,
		Name:         "operation",
	}
}

// Do executes operation until it succeeds, returns an error RetryIf rejects,
// or MaxRetries attempts have been made. The last error is returned unchanged
// so callers can match on it.
//
// Errors wrapped with Fatal() are not retried.
func Do(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return run(ctx, cfg, operation)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, operation func() (T, error), opts ...Option) (T, error) {
	var out T
	err := Do(ctx, func() error {
		v, err := operation()
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	return out, err
}

// WithExponentialBackoff executes the operation with exponential backoff retry.
// Delays double from InitialDelay up to MaxDelay. Context cancellation is
// respected throughout.
//
// Errors wrapped with Fatal() are not retried.
func WithExponentialBackoff(ctx context.Context, operation func() error, opts ...Option) error {
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Name:         "operation",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return run(ctx, cfg, operation)
}

func run(ctx context.Context, cfg *Config, operation func() error) error {
	log := logging.FromContext(ctx)
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsFatal(err) {
			return fmt.Errorf("fatal error (not retrying): %w", err)
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		log.V(logging.Debug).Info("retrying after failure",
			"operation", cfg.Name, "attempt", attempt, "of", attempts, "delay", delay.String(), "error", err.Error())
		metrics.RecordRetry(cfg.Name)

		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("context cancelled after %d attempts: %w", attempt, errors.Join(err, lastErr))
		}
		delay = next(cfg, delay)
	}

	return lastErr
}

func next(cfg *Config, delay time.Duration) time.Duration {
	m := cfg.Multiplier
	if m == 0 {
		m = 1
	}
	d := time.Duration(float64(delay)*m) + cfg.Increment
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
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

// WithMaxRetries sets the total number of attempts.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithInitialDelay sets the initial delay between retries.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		c.InitialDelay = d
	}
}

// WithIncrement sets the amount added to the delay after each attempt.
func WithIncrement(d time.Duration) Option {
	return func(c *Config) {
		c.Increment = d
	}
}

// WithMaxDelay sets the maximum delay between retries.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		c.MaxDelay = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		c.Multiplier = m
	}
}

// WithName labels the operation in logs and metrics.
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithRetryIf retries only errors for which fn returns true.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// On retries only errors matching one of the given targets with errors.Is.
func On(targets ...error) Option {
	return WithRetryIf(func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// OnType retries only errors that errors.As can convert to E.
func OnType[E error]() Option {
	return WithRetryIf(func(err error) bool {
		var target E
		return errors.As(err, &target)
	})
}

// FatalError wraps an error to mark it as fatal (non-retryable).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks an error as fatal (non-retryable).
// Operations that encounter fatal errors will not be retried.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal checks if an error is fatal (non-retryable).
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}
