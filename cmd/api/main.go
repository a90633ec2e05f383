/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/adapters/jira"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/cache"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/config"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/corpus"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/engine"
    httpx "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/http"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/jobs"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/logger"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/repo"
)

func main() {
    cfg := config.Load()
    log := logger.New(cfg)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // Snapshot persistence is optional; no DSN means in-memory only.
    var db *repo.DB
    var store cache.Snapshotter
    if cfg.SnapshotDSN != "" {
        db = repo.MustOpen(ctx, cfg.SnapshotDSN, log)
        defer db.Close()
        snaps := repo.NewSnapshotStore(db, log)
        if err := snaps.EnsureSchema(ctx); err != nil { log.Fatal().Err(err).Msg("snapshot schema failed") }
        store = snaps
    }

    jc := jira.NewClient(cfg, log)
    fetcher := corpus.NewFetcher(cfg, log, jc)
    coord := cache.New(store, cfg.CacheTTL, log)

    eng := engine.New(cfg, log, fetcher, jc, coord)
    eng.Restore(ctx)

    router := httpx.NewRouter(cfg, log, eng)

    cron := jobs.NewCron(cfg, log, eng, db)
    cron.Start()
    defer cron.Stop()

    errCh := make(chan error, 1)
    go func() { errCh <- router.Run(cfg.HTTPAddr) }()

    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

    select {
    case <-sigCh:
        log.Info().Msg("shutting down...")
    case err := <-errCh:
        if err != nil { log.Error().Err(err).Msg("http server error") }
    }

    time.Sleep(500 * time.Millisecond)
}
