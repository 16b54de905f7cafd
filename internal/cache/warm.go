package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WarmResult reports the outcome of a warm-up pass.
type WarmResult struct {
	Loaded   []string
	Failed   map[string]error
	Duration time.Duration
}

// Warm loads every model the store lists, at most concurrency at a time.
// Individual load failures are logged and collected, never returned. The
// returned error is non-nil only when the store cannot be listed.
//
// When the store holds more models than the cache capacity, models loaded
// early in the pass may be evicted by later ones.
func Warm(ctx context.Context, c *Cache, concurrency int) (WarmResult, error) {
	start := time.Now()
	res := WarmResult{Failed: make(map[string]error)}

	ids, err := c.Available(ctx)
	if err != nil {
		c.logger.Error("failed to list models for warm-up", zap.Error(err))
		return res, err
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			_, err := c.Load(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[id] = err
				c.logger.Warn("warm-up load failed", zap.String("model", id), zap.Error(err))
				return nil
			}
			res.Loaded = append(res.Loaded, id)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(res.Loaded)
	res.Duration = time.Since(start)
	c.logger.Info("warm-up complete",
		zap.Int("available", len(ids)),
		zap.Int("loaded", len(res.Loaded)),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("duration", res.Duration))
	return res, nil
}
