/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
    "context"
    "errors"
    "time"

    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/klauspost/compress/zstd"
    "github.com/rs/zerolog"
)

type DB struct {
    Pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpen(ctx context.Context, dsn string, logger zerolog.Logger) *DB {
    pool, err := pgxpool.New(ctx, dsn)
    if err != nil { logger.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { logger.Fatal().Err(err).Msg("db ping failed") }
    return &DB{Pool: pool, log: logger}
}

func (d *DB) Close(){ d.Pool.Close() }

// TryAdvisoryLock takes a session advisory lock so only one replica runs
// the scheduled refresh at a time.
func (d *DB) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
    var ok bool
    err := d.Pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok)
    return ok, err
}

func (d *DB) AdvisoryUnlock(ctx context.Context, key int64) error {
    _, err := d.Pool.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
    return err
}

// SnapshotStore persists cache snapshots so a restart does not pay a full
// Jira refetch. Payloads are zstd-compressed; the event log for a large
// corpus compresses roughly 10x.
type SnapshotStore struct {
    db  *DB
    log zerolog.Logger
    enc *zstd.Encoder
    dec *zstd.Decoder
}

func NewSnapshotStore(d *DB, logger zerolog.Logger) *SnapshotStore {
    enc, _ := zstd.NewWriter(nil)
    dec, _ := zstd.NewReader(nil)
    return &SnapshotStore{db: d, log: logger, enc: enc, dec: dec}
}

// EnsureSchema creates the snapshot table if missing.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
    const q = `CREATE TABLE IF NOT EXISTS cache_snapshots(
        name        text PRIMARY KEY,
        params      text NOT NULL,
        last_update timestamptz NOT NULL,
        data        bytea NOT NULL
    )`
    _, err := s.db.Pool.Exec(ctx, q)
    return err
}

func (s *SnapshotStore) Save(ctx context.Context, name, params string, lastUpdate time.Time, data []byte) error {
    const q = `INSERT INTO cache_snapshots(name, params, last_update, data)
        VALUES($1,$2,$3,$4)
        ON CONFLICT(name) DO UPDATE SET
            params=EXCLUDED.params,
            last_update=EXCLUDED.last_update,
            data=EXCLUDED.data`
    _, err := s.db.Pool.Exec(ctx, q, name, params, lastUpdate, s.enc.EncodeAll(data, nil))
    return err
}

func (s *SnapshotStore) Load(ctx context.Context, name string) (string, time.Time, []byte, bool, error) {
    const q = `SELECT params, last_update, data FROM cache_snapshots WHERE name=$1`
    var params string
    var lastUpdate time.Time
    var compressed []byte
    if err := s.db.Pool.QueryRow(ctx, q, name).Scan(&params, &lastUpdate, &compressed); err != nil {
        if errors.Is(err, pgx.ErrNoRows) { return "", time.Time{}, nil, false, nil }
        return "", time.Time{}, nil, false, err
    }
    data, err := s.dec.DecodeAll(compressed, nil)
    if err != nil { return "", time.Time{}, nil, false, err }
    return params, lastUpdate, data, true, nil
}
