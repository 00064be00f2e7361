package retry

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/memoryd/internal/config"
	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // retries after the first failure
}

// DefaultPolicy returns linear backoff, 500ms initial, 5s cap, 2 retries.
func DefaultPolicy() Policy {
	return Policy{
		Mode:       config.RetryBackoffLinear,
		Initial:    config.DefaultFlushRetryDelay,
		Max:        5 * time.Second,
		MaxRetries: config.DefaultFlushRetries,
	}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds the final-flush policy from the shutdown section. The cap
// is ten times the base delay.
func FromConfig(cfg *config.Config) Policy {
	if cfg == nil {
		return DefaultPolicy()
	}
	d := cfg.FlushRetryDelay()
	return NewPolicy(cfg.Shutdown.FlushBackoff, d, 10*d, cfg.Shutdown.FlushRetries)
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// Do runs fn until it succeeds, the retries are exhausted, fn returns an
// error that is not retryable, or ctx is done. The returned error is the last
// one produced by fn, or ctx.Err() when cancelled while waiting.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return err
		}
		timer := time.NewTimer(p.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}

// retryable treats unclassified errors as transient.
func retryable(err error) bool {
	if _, ok := derrors.As(err); ok {
		return derrors.IsRetryable(err)
	}
	return true
}
