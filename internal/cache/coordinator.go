/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package cache

import (
    "context"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
    "github.com/rs/zerolog"
)

var (
    cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "metrics_cache_hits_total",
        Help: "Requests served from a fresh cache entry.",
    }, []string{"cache"})
    cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "metrics_cache_misses_total",
        Help: "Requests that triggered a recomputation.",
    }, []string{"cache"})
    recomputeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
        Name:    "metrics_cache_recompute_seconds",
        Help:    "Wall time of cache recomputations.",
        Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
    }, []string{"cache"})
)

// Snapshotter persists cache entries across restarts. A missing snapshot is
// a cold start, not an error.
type Snapshotter interface {
    Save(ctx context.Context, name, params string, lastUpdate time.Time, data []byte) error
    Load(ctx context.Context, name string) (params string, lastUpdate time.Time, data []byte, ok bool, err error)
}

type entry struct {
    mu         sync.Mutex
    params     string
    lastUpdate time.Time
    value      any
}

// Coordinator is the single owner of all derived-state caches. Its one
// mutation primitive is Get: look up the entry for a key and, when stale,
// recompute it while holding that key's lock, so concurrent requests for
// the same key serialize (the second waits and reuses the first's result)
// while distinct keys recompute in parallel.
type Coordinator struct {
    mu      sync.Mutex
    entries map[string]*entry
    store   Snapshotter
    ttl     time.Duration
    log     zerolog.Logger
}

// New builds a coordinator. store may be nil (no persistence). ttl is the
// staleness grace: an entry younger than ttl is served as-is even when the
// requested window's upper bound passes its lastUpdate, which is the
// call-volume/staleness trade the corpus cache exists for. A zero ttl makes
// every now-reaching request recompute.
func New(store Snapshotter, ttl time.Duration, log zerolog.Logger) *Coordinator {
    return &Coordinator{entries: map[string]*entry{}, store: store, ttl: ttl, log: log}
}

func (c *Coordinator) entry(key string) *entry {
    c.mu.Lock()
    defer c.mu.Unlock()
    e, ok := c.entries[key]
    if !ok { e = &entry{}; c.entries[key] = e }
    return e
}

// Compute is a cache recomputation. prev is the previous complete value (nil
// on cold start) and since its validity instant, enabling incremental
// refresh. It returns the new value and the instant it is valid to.
type Compute func(ctx context.Context, prev any, since time.Time) (any, time.Time, error)

// Encode serializes a value for snapshot persistence; nil disables
// persistence for the entry.
type Encode func(v any) ([]byte, error)

// Get returns the value for key, recomputing when the entry is stale:
// parameters changed, or the request's upper bound (already capped at now
// by the caller) exceeds lastUpdate beyond the ttl grace. The returned
// value is the shared complete snapshot; callers must not mutate it.
func (c *Coordinator) Get(ctx context.Context, key, params string, upper time.Time, encode Encode, compute Compute) (any, time.Time, error) {
    e := c.entry(key)
    e.mu.Lock()
    defer e.mu.Unlock()

    if e.value != nil && e.params == params {
        fresh := !upper.After(e.lastUpdate) || time.Since(e.lastUpdate) < c.ttl
        if fresh {
            cacheHits.WithLabelValues(key).Inc()
            return e.value, e.lastUpdate, nil
        }
    }
    cacheMisses.WithLabelValues(key).Inc()

    prev := e.value
    since := e.lastUpdate
    if e.params != params { prev, since = nil, time.Time{} }

    start := time.Now()
    value, lastUpdate, err := compute(ctx, prev, since)
    recomputeSeconds.WithLabelValues(key).Observe(time.Since(start).Seconds())
    if err != nil {
        // the previous complete value stays untouched
        return nil, time.Time{}, err
    }
    e.value = value
    e.params = params
    e.lastUpdate = lastUpdate
    c.log.Info().Str("cache", key).Dur("took", time.Since(start)).Time("valid_to", lastUpdate).Msg("cache recomputed")

    if c.store != nil && encode != nil {
        if data, err := encode(value); err != nil {
            c.log.Warn().Err(err).Str("cache", key).Msg("cache: snapshot encode failed")
        } else if err := c.store.Save(ctx, key, params, lastUpdate, data); err != nil {
            c.log.Warn().Err(err).Str("cache", key).Msg("cache: snapshot save failed")
        }
    }
    return e.value, e.lastUpdate, nil
}

// Prime seeds an entry from its persisted snapshot, if one exists. Called
// at startup; any failure degrades to a cold start.
func (c *Coordinator) Prime(ctx context.Context, key string, decode func([]byte) (any, error)) {
    if c.store == nil { return }
    params, lastUpdate, data, ok, err := c.store.Load(ctx, key)
    if err != nil { c.log.Warn().Err(err).Str("cache", key).Msg("cache: snapshot load failed"); return }
    if !ok { return }
    value, err := decode(data)
    if err != nil { c.log.Warn().Err(err).Str("cache", key).Msg("cache: snapshot decode failed"); return }
    e := c.entry(key)
    e.mu.Lock()
    defer e.mu.Unlock()
    e.value = value
    e.params = params
    e.lastUpdate = lastUpdate
    c.log.Info().Str("cache", key).Time("valid_to", lastUpdate).Msg("cache restored from snapshot")
}
