package cache

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// Option configures a Cache.
type Option func(*Cache) error

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) error {
		if logger != nil {
			c.logger = logger.Named("cache")
		}
		return nil
	}
}

// WithClock replaces time.Now as the source of load and access timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) error {
		if now == nil {
			return errors.New(errors.ErrCodeInvalidConfig, "clock must not be nil")
		}
		c.clock = now
		return nil
	}
}

// WithMetrics registers an observer for load, lookup and eviction events.
func WithMetrics(o Observer) Option {
	return func(c *Cache) error {
		if o != nil {
			c.observer = o
		}
		return nil
	}
}

// WithLoadTimeout bounds a single store read plus deserialization. Zero
// disables the bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) error {
		if d < 0 {
			return errors.New(errors.ErrCodeInvalidConfig, "load timeout must not be negative")
		}
		c.loadTimeout = d
		return nil
	}
}

// WithTracer sets the tracer used for Load and Get spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Cache) error {
		if t != nil {
			c.tracer = t
		}
		return nil
	}
}
