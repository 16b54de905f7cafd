// Package retry repeats transient store reads with exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts counts the first call. One disables retries.
	MaxAttempts int `yaml:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`

	// Jitter spreads each delay by up to 20% either way.
	Jitter bool `yaml:"jitter"`

	// Retryable lists the codes worth another attempt. Anything else,
	// including plain errors, is returned at once.
	Retryable []errors.ErrorCode `yaml:"retryable"`

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultConfig retries storage reads three times in total.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Retryable:    []errors.ErrorCode{errors.ErrCodeStorageRead},
	}
}

// Retryer runs a function until it succeeds, fails permanently, or the
// attempts run out.
type Retryer struct {
	config Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New returns a Retryer. Zero fields take DefaultConfig values, except
// Retryable which stays empty when unset and OnRetry.
func New(config Config) *Retryer {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	return &Retryer{config: config, sleep: sleep}
}

// Attempts returns the configured attempt limit.
func (r *Retryer) Attempts() int {
	return r.config.MaxAttempts
}

// Do calls fn until it returns nil or a non-retryable error. The last error
// is returned unchanged so callers can still classify it. A context that
// ends while waiting yields the context error.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = fn(ctx)
		if err == nil || !r.shouldRetry(err, attempt) {
			return err
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}
	code := errors.CodeOf(err)
	for _, c := range r.config.Retryable {
		if c == code {
			return true
		}
	}
	return false
}

// delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		d += d * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
