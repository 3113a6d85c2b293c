// Package retry re-runs a failed send with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// ErrExhausted is returned once every automatic attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Config bounds automatic retries.
type Config struct {
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles each time.
	BaseDelay time.Duration
}

// DefaultConfig returns three retries waiting 1s, 2s, 4s.
func DefaultConfig() Config {
	return Config{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// Op is one full attempt. attempt starts at 0.
type Op func(ctx context.Context, attempt int) error

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Controller runs an Op until it succeeds, fails permanently, or runs out of retries.
type Controller struct {
	cfg     Config
	sleep   Sleeper
	onRetry func(attempt int, delay time.Duration, err error)
	logger  *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleeper replaces the timer-based wait, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) { c.sleep = s }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(c *Controller) { c.onRetry = fn }
}

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New returns a Controller. Negative values in cfg fall back to defaults.
func New(cfg Config, opts ...Option) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	c := &Controller{cfg: cfg, sleep: sleepContext}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Delay returns the wait before retry number attempt+1: BaseDelay * 2^attempt.
func (c *Controller) Delay(attempt int) time.Duration {
	return c.cfg.BaseDelay * time.Duration(1<<attempt)
}

// MaxRetries returns the configured retry limit.
func (c *Controller) MaxRetries() int {
	return c.cfg.MaxRetries
}

// Do runs op, retrying on failure. Permanent errors and context
// cancellation stop immediately and are returned as-is.
func (c *Controller) Do(ctx context.Context, op Op) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		if attempt >= c.cfg.MaxRetries {
			break
		}

		delay := c.Delay(attempt)
		c.logger.Info("send failed, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		if c.onRetry != nil {
			c.onRetry(attempt+1, delay, err)
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("retry wait: %w", sleepErr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, c.cfg.MaxRetries+1, err)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
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
