/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package cache

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/rs/zerolog"
    "github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func countingCompute(calls *int, value any, validTo time.Time) Compute {
    return func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
        *calls++
        return value, validTo, nil
    }
}

func TestGet_ServesFreshEntryWithoutRecompute(t *testing.T) {
    c := New(nil, 0, zerolog.Nop())
    calls := 0
    validTo := time.Now().UTC()

    v, _, err := c.Get(context.Background(), "k", "p", validTo, nil, countingCompute(&calls, 42, validTo))
    require.NoError(t, err)
    require.Equal(t, 42, v)
    require.Equal(t, 1, calls)

    // same params, upper not past validity: cached
    v, _, err = c.Get(context.Background(), "k", "p", validTo.Add(-time.Minute), nil, countingCompute(&calls, 43, validTo))
    require.NoError(t, err)
    require.Equal(t, 42, v)
    require.Equal(t, 1, calls)
}

func TestGet_ParamChangeDiscardsPreviousValue(t *testing.T) {
    c := New(nil, time.Hour, zerolog.Nop())
    now := time.Now().UTC()

    _, _, err := c.Get(context.Background(), "k", "p1", now, nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            return "one", now, nil
        })
    require.NoError(t, err)

    var gotPrev any = "sentinel"
    var gotSince time.Time
    _, _, err = c.Get(context.Background(), "k", "p2", now, nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            gotPrev, gotSince = prev, since
            return "two", now, nil
        })
    require.NoError(t, err)
    require.Nil(t, gotPrev, "changed params must not hand the old value to compute")
    require.True(t, gotSince.IsZero())
}

func TestGet_IncrementalRefreshSeesPreviousValue(t *testing.T) {
    c := New(nil, 0, zerolog.Nop())
    first := time.Now().UTC().Add(-time.Hour)

    _, _, err := c.Get(context.Background(), "k", "p", first, nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            return "one", first, nil
        })
    require.NoError(t, err)

    var gotPrev any
    var gotSince time.Time
    v, _, err := c.Get(context.Background(), "k", "p", time.Now().UTC(), nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            gotPrev, gotSince = prev, since
            return "two", time.Now().UTC(), nil
        })
    require.NoError(t, err)
    require.Equal(t, "two", v)
    require.Equal(t, "one", gotPrev)
    require.Equal(t, first, gotSince)
}

func TestGet_FailedRecomputeKeepsPreviousValue(t *testing.T) {
    c := New(nil, 0, zerolog.Nop())
    first := time.Now().UTC().Add(-time.Hour)

    _, _, err := c.Get(context.Background(), "k", "p", first, nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            return "one", first, nil
        })
    require.NoError(t, err)

    _, _, err = c.Get(context.Background(), "k", "p", time.Now().UTC(), nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            return nil, time.Time{}, errors.New("jira down")
        })
    require.Error(t, err)

    // entry still serves the old value for windows it covers
    v, ts, err := c.Get(context.Background(), "k", "p", first.Add(-time.Minute), nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            t.Fatal("must not recompute")
            return nil, time.Time{}, nil
        })
    require.NoError(t, err)
    require.Equal(t, "one", v)
    require.Equal(t, first, ts)
}

func TestGet_TTLGraceServesRecentEntry(t *testing.T) {
    c := New(nil, time.Hour, zerolog.Nop())
    calls := 0
    now := time.Now().UTC()

    _, _, _ = c.Get(context.Background(), "k", "p", now, nil, countingCompute(&calls, 1, now))
    // upper past lastUpdate, but the entry is younger than the ttl
    _, _, _ = c.Get(context.Background(), "k", "p", now.Add(time.Minute), nil, countingCompute(&calls, 2, now))
    require.Equal(t, 1, calls)
}

func TestGet_ConcurrentRequestsShareOneRecompute(t *testing.T) {
    c := New(nil, time.Hour, zerolog.Nop())
    now := time.Now().UTC()

    var mu sync.Mutex
    calls := 0
    compute := func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
        mu.Lock(); calls++; mu.Unlock()
        time.Sleep(20 * time.Millisecond)
        return "v", now, nil
    }

    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            v, _, err := c.Get(context.Background(), "k", "p", now, nil, compute)
            require.NoError(t, err)
            require.Equal(t, "v", v)
        }()
    }
    wg.Wait()
    require.Equal(t, 1, calls, "one recompute, seven waiters reusing it")
}

type memStore struct {
    mu   sync.Mutex
    rows map[string]struct {
        params     string
        lastUpdate time.Time
        data       []byte
    }
}

func newMemStore() *memStore {
    return &memStore{rows: map[string]struct {
        params     string
        lastUpdate time.Time
        data       []byte
    }{}}
}

func (m *memStore) Save(ctx context.Context, name, params string, lastUpdate time.Time, data []byte) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.rows[name] = struct {
        params     string
        lastUpdate time.Time
        data       []byte
    }{params, lastUpdate, data}
    return nil
}

func (m *memStore) Load(ctx context.Context, name string) (string, time.Time, []byte, bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.rows[name]
    if !ok { return "", time.Time{}, nil, false, nil }
    return r.params, r.lastUpdate, r.data, true, nil
}

func TestPrime_RestoresPersistedEntry(t *testing.T) {
    store := newMemStore()
    c := New(store, time.Hour, zerolog.Nop())
    calls := 0

    encode := func(v any) ([]byte, error) { return []byte(v.(string)), nil }
    _, _, err := c.Get(context.Background(), "k", "p", t0, encode, countingCompute(&calls, "persisted", t0))
    require.NoError(t, err)

    // a fresh coordinator over the same store starts warm
    c2 := New(store, time.Hour, zerolog.Nop())
    c2.Prime(context.Background(), "k", func(b []byte) (any, error) { return string(b), nil })
    v, ts, err := c2.Get(context.Background(), "k", "p", t0, nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            t.Fatal("primed entry must be served without recompute")
            return nil, time.Time{}, nil
        })
    require.NoError(t, err)
    require.Equal(t, "persisted", v)
    require.Equal(t, t0, ts)
}
