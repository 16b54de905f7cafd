package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/retry"
)

// Retrying repeats transient read failures of the wrapped store. Lookup
// and artifact errors pass through on the first attempt.
type Retrying struct {
	next    Store
	retryer *retry.Retryer
}

// NewRetrying wraps next so that STORAGE_READ failures are retried up to
// attempts times in total. attempts of one or less disables retries.
func NewRetrying(next Store, attempts int, logger *zap.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("retrying store read",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return &Retrying{next: next, retryer: retry.New(cfg)}
}

// List implements Store.
func (r *Retrying) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		ids, err = r.next.List(ctx)
		return err
	})
	return ids, err
}

// Fetch implements Store.
func (r *Retrying) Fetch(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := r.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = r.next.Fetch(ctx, id)
		return err
	})
	return data, err
}

// FetchMetadata implements Store.
func (r *Retrying) FetchMetadata(ctx context.Context, id string) (artifact.Document, error) {
	var doc artifact.Document
	err := r.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		doc, err = r.next.FetchMetadata(ctx, id)
		return err
	})
	return doc, err
}

// Ping forwards to the wrapped store without retrying, so health checks
// see the first failure.
func (r *Retrying) Ping(ctx context.Context) error {
	if p, ok := r.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

var (
	_ Store  = (*Retrying)(nil)
	_ Pinger = (*Retrying)(nil)
)
