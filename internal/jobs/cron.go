/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
    "context"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/config"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/repo"
    "github.com/robfig/cron/v3"
    "github.com/rs/zerolog"
)

type service interface { Refresh(ctx context.Context) error }

// Cron keeps the corpus and event log warm so the first dashboard load
// after a quiet stretch does not pay the full Jira fetch.
type Cron struct {
    cfg config.Config
    log zerolog.Logger
    svc service
    db  *repo.DB
    c   *cron.Cron
}

// NewCron schedules the refresh job. db may be nil; without it the
// single-runner advisory lock is skipped.
func NewCron(cfg config.Config, log zerolog.Logger, svc service, db *repo.DB) *Cron {
    loc, _ := time.LoadLocation(cfg.TZ)
    c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
    cr := &Cron{cfg: cfg, log: log, svc: svc, db: db, c: c}
    if _, err := c.AddFunc(cfg.RefreshCron, cr.refresh); err != nil {
        log.Error().Err(err).Str("cron", cfg.RefreshCron).Msg("cron: bad refresh schedule, warm-up disabled")
    }
    return cr
}

func (cr *Cron) Start(){ cr.c.Start() }
func (cr *Cron) Stop(){ cr.c.Stop() }

func (cr *Cron) refresh(){
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute); defer cancel()
    if cr.db != nil {
        const lockKey int64 = 173501
        ok, err := cr.db.TryAdvisoryLock(ctx, lockKey)
        if err != nil { cr.log.Error().Err(err).Msg("cron: lock error"); return }
        if !ok { cr.log.Info().Msg("cron: refresh already running elsewhere"); return }
        defer func(){ _ = cr.db.AdvisoryUnlock(context.Background(), lockKey) }()
    }
    cr.log.Info().Msg("cron: corpus refresh")
    if err := cr.svc.Refresh(ctx); err != nil { cr.log.Error().Err(err).Msg("cron: refresh failed") }
}
