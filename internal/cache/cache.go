package cache

import (
	"context"
	"io"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/scttfrdmn/modelserve/internal/store"
	"github.com/scttfrdmn/modelserve/pkg/artifact"
	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// Loader turns fetched bytes and sidecar documents into cache records.
type Loader interface {
	Deserialize(data []byte) (artifact.Predictor, error)
	ParseMetadata(doc artifact.Document) artifact.Metadata
}

// Observer receives cache events, typically to export them as metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	ObserveLoad(id string, d time.Duration, err error)
	ObserveLookup(id string, hit bool)
	ObserveEviction(id string)
	ObserveResident(n int)
}

// Record is a read-only view of a resident model. The Predictor is shared
// with the cache and must only be used for Predict calls. A Predictor that
// implements io.Closer is closed when its model leaves the cache, possibly
// while a caller holding an earlier Record is still in Predict, so Close
// must tolerate in-flight and later Predict calls.
type Record struct {
	ID           string
	Predictor    artifact.Predictor
	Metadata     artifact.Metadata
	LoadedAt     time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// ModelStats is the per-model part of Stats.
type ModelStats struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	LoadedAt     time.Time `json:"loaded_at"`
	AccessCount  int64     `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Total    int                   `json:"total_loaded"`
	Capacity int                   `json:"cache_size"`
	Models   map[string]ModelStats `json:"models"`

	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Loads        int64 `json:"loads"`
	LoadFailures int64 `json:"load_failures"`
	Evictions    int64 `json:"evictions"`
}

type entry struct {
	id           string
	handle       artifact.Predictor
	metadata     artifact.Metadata
	loadedAt     time.Time
	accessCount  int64
	lastAccessed time.Time
}

func (e *entry) record() Record {
	return Record{
		ID:           e.id,
		Predictor:    e.handle,
		Metadata:     e.metadata.Clone(),
		LoadedAt:     e.loadedAt,
		AccessCount:  e.accessCount,
		LastAccessed: e.lastAccessed,
	}
}

type counters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	loads        atomic.Int64
	loadFailures atomic.Int64
	evictions    atomic.Int64
}

// Cache keeps at most maxSize models resident and evicts the least recently
// accessed ones when a load pushes it over that bound.
//
// A single exclusive section guards membership and per-record stats. It is
// a weighted semaphore of size one so that Load can give up waiting when
// its context ends. Store reads and deserialization run outside it.
type Cache struct {
	store   store.Store
	loader  Loader
	maxSize int

	sem   *semaphore.Weighted
	items map[string]*entry

	flights singleflight.Group

	clock       func() time.Time
	loadTimeout time.Duration
	logger      *zap.Logger
	observer    Observer
	tracer      trace.Tracer

	counters counters
}

// New returns an empty cache. maxSize must be positive.
func New(s store.Store, l Loader, maxSize int, opts ...Option) (*Cache, error) {
	if maxSize <= 0 {
		return nil, errors.Newf(errors.ErrCodeCapacityMisconfigured,
			"cache size must be positive, got %d", maxSize).
			WithComponent("cache")
	}
	if s == nil || l == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "cache needs a store and a loader").
			WithComponent("cache")
	}

	c := &Cache{
		store:    s,
		loader:   l,
		maxSize:  maxSize,
		sem:      semaphore.NewWeighted(1),
		items:    make(map[string]*entry, maxSize+1),
		clock:    time.Now,
		logger:   zap.NewNop(),
		observer: nopObserver{},
		tracer:   otel.Tracer("modelserve/cache"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Capacity returns the maximum number of resident models.
func (c *Cache) Capacity() int { return c.maxSize }

// Load makes id resident. It reports true when the model is resident on
// return. A model that is already resident is not reloaded. Concurrent
// loads of the same id share one store read and one deserialization.
//
// ctx bounds how long this caller waits. The shared load itself is bounded
// by the load timeout only, so one caller giving up does not fail others
// waiting on the same id. A caller that gets OPERATION_TIMEOUT or
// OPERATION_CANCELED may therefore find the model resident on its next call.
func (c *Cache) Load(ctx context.Context, id string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "cache.Load", trace.WithAttributes(attribute.String("model.id", id)))
	defer span.End()

	if err := store.ValidateID(id); err != nil {
		return false, c.fail(span, err)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return false, c.fail(span, waitError(err, id, "load"))
	}
	_, resident := c.items[id]
	c.sem.Release(1)
	if resident {
		span.SetAttributes(attribute.Bool("model.resident", true))
		return true, nil
	}

	ch := c.flights.DoChan(id, func() (any, error) {
		return nil, c.load(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, c.fail(span, res.Err)
		}
		return true, nil
	case <-ctx.Done():
		return false, c.fail(span, waitError(ctx.Err(), id, "load"))
	}
}

// load runs once per flight.
func (c *Cache) load(ctx context.Context, id string) error {
	if c.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.loadTimeout)
		defer cancel()
	}

	// A flight that finished just before this one started may already have
	// inserted id.
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return waitError(err, id, "load")
	}
	_, resident := c.items[id]
	c.sem.Release(1)
	if resident {
		return nil
	}

	start := time.Now()
	handle, md, err := c.fetch(ctx, id)
	if err == nil {
		err = ctx.Err()
		if err != nil {
			c.release(id, handle)
			err = waitError(err, id, "load")
		}
	}
	if err != nil {
		c.counters.loadFailures.Inc()
		c.observer.ObserveLoad(id, time.Since(start), err)
		c.logger.Error("failed to load model", zap.String("model", id), zap.Error(err))
		return err
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.release(id, handle)
		err = waitError(err, id, "load")
		c.counters.loadFailures.Inc()
		c.observer.ObserveLoad(id, time.Since(start), err)
		return err
	}
	now := c.clock()
	c.items[id] = &entry{
		id:           id,
		handle:       handle,
		metadata:     md,
		loadedAt:     now,
		lastAccessed: now,
	}
	evicted := c.evict(id)
	n := len(c.items)
	c.sem.Release(1)

	c.counters.loads.Inc()
	c.observer.ObserveLoad(id, time.Since(start), nil)
	c.logger.Info("loaded model",
		zap.String("model", id),
		zap.String("version", md.Version),
		zap.Duration("duration", time.Since(start)))

	for _, e := range evicted {
		c.counters.evictions.Inc()
		c.observer.ObserveEviction(e.id)
		c.logger.Info("evicted model", zap.String("model", e.id), zap.Time("last_accessed", e.lastAccessed))
		c.release(e.id, e.handle)
	}
	c.observer.ObserveResident(n)
	return nil
}

func (c *Cache) fetch(ctx context.Context, id string) (artifact.Predictor, artifact.Metadata, error) {
	data, err := c.store.Fetch(ctx, id)
	if err != nil {
		return nil, artifact.Metadata{}, ioError(err, id)
	}
	doc, err := c.store.FetchMetadata(ctx, id)
	if err != nil {
		return nil, artifact.Metadata{}, ioError(err, id)
	}
	handle, err := c.loader.Deserialize(data)
	if err != nil {
		return nil, artifact.Metadata{}, err
	}
	return handle, c.loader.ParseMetadata(doc), nil
}

// evict removes the surplus over maxSize, least recently accessed first,
// ties broken by id. keep is never a candidate, so a Load that reports true
// leaves its model resident even when a tie or a clamped clock orders it
// first. The caller holds the exclusive section.
func (c *Cache) evict(keep string) []*entry {
	surplus := len(c.items) - c.maxSize
	if surplus <= 0 {
		return nil
	}

	candidates := make([]*entry, 0, len(c.items))
	for id, e := range c.items {
		if id != keep {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.lastAccessed.Equal(b.lastAccessed) {
			return a.lastAccessed.Before(b.lastAccessed)
		}
		return a.id < b.id
	})

	victims := candidates[:surplus]
	for _, e := range victims {
		delete(c.items, e.id)
	}
	return victims
}

// Get returns the resident record for id and counts the access. It fails
// with NOT_FOUND when id is not resident.
func (c *Cache) Get(id string) (Record, error) {
	_, span := c.tracer.Start(context.Background(), "cache.Get", trace.WithAttributes(attribute.String("model.id", id)))
	defer span.End()

	c.lock()
	e, ok := c.items[id]
	if !ok {
		c.unlock()
		c.counters.misses.Inc()
		c.observer.ObserveLookup(id, false)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return Record{}, errors.Newf(errors.ErrCodeNotFound, "model %s not loaded", id).
			WithComponent("cache").
			WithOperation("get")
	}
	now := c.clock()
	if now.Before(e.lastAccessed) {
		now = e.lastAccessed
	}
	e.lastAccessed = now
	e.accessCount++
	rec := e.record()
	c.unlock()

	c.counters.hits.Inc()
	c.observer.ObserveLookup(id, true)
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return rec, nil
}

// Unload removes id and releases its handle. It reports whether id was
// resident.
func (c *Cache) Unload(id string) bool {
	c.lock()
	e, ok := c.items[id]
	if ok {
		delete(c.items, id)
	}
	resident := len(c.items)
	c.unlock()

	if !ok {
		return false
	}
	c.release(id, e.handle)
	c.observer.ObserveResident(resident)
	c.logger.Info("unloaded model", zap.String("model", id))
	return true
}

// List returns the resident ids, sorted.
func (c *Cache) List() []string {
	c.lock()
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	c.unlock()

	sort.Strings(ids)
	return ids
}

// Ready reports whether at least one model is resident.
func (c *Cache) Ready() bool {
	c.lock()
	defer c.unlock()
	return len(c.items) > 0
}

// Available lists the models in the backing store.
func (c *Cache) Available(ctx context.Context) ([]string, error) {
	return c.store.List(ctx)
}

// Stats returns a snapshot of residency and lifetime counters.
func (c *Cache) Stats() Stats {
	c.lock()
	models := make(map[string]ModelStats, len(c.items))
	for id, e := range c.items {
		models[id] = ModelStats{
			Version:      e.metadata.Version,
			Type:         e.metadata.Type,
			LoadedAt:     e.loadedAt,
			AccessCount:  e.accessCount,
			LastAccessed: e.lastAccessed,
		}
	}
	c.unlock()

	return Stats{
		Total:        len(models),
		Capacity:     c.maxSize,
		Models:       models,
		Hits:         c.counters.hits.Load(),
		Misses:       c.counters.misses.Load(),
		Loads:        c.counters.loads.Load(),
		LoadFailures: c.counters.loadFailures.Load(),
		Evictions:    c.counters.evictions.Load(),
	}
}

// Clear removes and releases every resident model.
func (c *Cache) Clear() {
	c.lock()
	items := c.items
	c.items = make(map[string]*entry, c.maxSize+1)
	c.unlock()

	for id, e := range items {
		c.release(id, e.handle)
	}
	c.observer.ObserveResident(0)
	c.logger.Info("cleared model cache", zap.Int("released", len(items)))
}

func (c *Cache) lock() {
	// Acquire only fails when its context ends.
	_ = c.sem.Acquire(context.Background(), 1)
}

func (c *Cache) unlock() {
	c.sem.Release(1)
}

func (c *Cache) release(id string, h artifact.Predictor) {
	closer, ok := h.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		c.logger.Warn("failed to release model", zap.String("model", id), zap.Error(err))
	}
}

func (c *Cache) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// waitError converts a context error into the TIMEOUT or CANCELED kinds.
func waitError(err error, id, op string) error {
	code := errors.ErrCodeOperationCanceled
	if errors.Is(err, context.DeadlineExceeded) {
		code = errors.ErrCodeOperationTimeout
	}
	return errors.Wrap(code, err, "model "+id).
		WithComponent("cache").
		WithOperation(op)
}

func ioError(err error, id string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return waitError(err, id, "load")
	}
	return err
}

type nopObserver struct{}

func (nopObserver) ObserveLoad(string, time.Duration, error) {}
func (nopObserver) ObserveLookup(string, bool)               {}
func (nopObserver) ObserveEviction(string)                   {}
func (nopObserver) ObserveResident(int)                      {}
