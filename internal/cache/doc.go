/*
Package cache keeps a bounded set of deserialized models resident in memory.

The cache sits between the serving API and the artifact store. A miss on
Load reads the artifact and its sidecar through a store.Store, turns them
into a predictor and metadata through a Loader, and inserts the result. A
Get on a resident model counts the access and returns a read-only Record.

	┌─────────────────────────────────────────────┐
	│              Serving API                    │
	│        (predict, load, unload)              │
	└─────────────────────────────────────────────┘
	                      │ Get / Load
	┌─────────────────────────────────────────────┐
	│                 Cache                       │  ← This Package
	│   map[id]*entry, capacity, LRU eviction     │
	└─────────────────────────────────────────────┘
	                      │ miss
	┌──────────────────────┐  ┌───────────────────┐
	│       Loader         │  │      Store        │
	│  bytes → Predictor   │  │  dir or S3 bucket │
	└──────────────────────┘  └───────────────────┘

# Eviction

Every successful Load ends with one eviction pass. The surplus over the
capacity is computed once and that many records are removed, ordered by
ascending last access time with ties broken by identifier. The record the
Load just inserted is never a candidate.

# Concurrency

All membership changes and per-record stat updates happen inside one
exclusive section. Store reads and deserialization do not, so a slow
bucket never blocks Get. Concurrent Loads of one identifier share a single
flight; every caller waits on it with its own context and receives a
timeout or cancellation error when that context ends first.

Callers invoke Predict on the Record's predictor after Get returns, with no
cache lock held.

# Usage

	dir := store.NewDir("/app/models", store.DefaultExtension, logger)
	ld, _ := loader.New(artifact.CodecJSON)
	c, err := cache.New(dir, ld, 10,
		cache.WithLogger(logger),
		cache.WithLoadTimeout(5*time.Minute),
	)
	if err != nil {
		return err
	}

	if _, err := c.Load(ctx, "churn"); err != nil {
		return err
	}
	rec, err := c.Get("churn")
	if err != nil {
		return err
	}
	out, err := rec.Predictor.Predict(features)

Warm loads everything the store lists in the background at startup:

	res, err := cache.Warm(ctx, c, 4)
*/
package cache
