/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package engine

import (
    "context"
    "encoding/json"
    "fmt"
    "strconv"
    "strings"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/cache"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/config"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/corpus"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
    "github.com/rs/zerolog"
)

// VersionSource looks up Jira release versions, used for target discovery
// and release-date markers.
type VersionSource interface {
    Version(ctx context.Context, id int64) (map[string]any, error)
    ProjectVersions(ctx context.Context, projectKey string) ([]map[string]any, error)
}

// Engine answers metric requests. Every derived artifact lives behind the
// cache coordinator under its own key, so identical concurrent requests
// share one recomputation and the pipeline corpus -> event log -> replay
// runs as a plain sequential chain of coordinator gets.
type Engine struct {
    cfg      config.Config
    log      zerolog.Logger
    fetcher  *corpus.Fetcher
    versions VersionSource
    coord    *cache.Coordinator
}

func New(cfg config.Config, log zerolog.Logger, fetcher *corpus.Fetcher, versions VersionSource, coord *cache.Coordinator) *Engine {
    return &Engine{cfg: cfg, log: log, fetcher: fetcher, versions: versions, coord: coord}
}

const (
    keyCorpus   = "corpus"
    keyEventLog = "eventlog"
)

func encodeJSON(v any) ([]byte, error) { return json.Marshal(v) }

// Restore primes the corpus and event log from persisted snapshots.
func (e *Engine) Restore(ctx context.Context) {
    e.coord.Prime(ctx, keyCorpus, func(b []byte) (any, error) {
        var m map[int64]domain.Issue
        if err := json.Unmarshal(b, &m); err != nil { return nil, err }
        return m, nil
    })
    e.coord.Prime(ctx, keyEventLog, func(b []byte) (any, error) {
        var evs []domain.Event
        if err := json.Unmarshal(b, &evs); err != nil { return nil, err }
        return evs, nil
    })
}

// Corpus returns the issue corpus valid up to at least upper, refreshing
// incrementally from Jira when stale.
func (e *Engine) Corpus(ctx context.Context, upper time.Time) (map[int64]domain.Issue, time.Time, error) {
    params := e.cfg.JiraIssueJQL + "|" + strings.Join(e.cfg.JiraProjects, ",")
    v, ts, err := e.coord.Get(ctx, keyCorpus, params, upper, encodeJSON,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            prevMap, _ := prev.(map[int64]domain.Issue)
            m, err := e.fetcher.Fetch(ctx, since, prevMap)
            if err != nil { return nil, time.Time{}, err }
            return m, time.Now().UTC(), nil
        })
    if err != nil { return nil, time.Time{}, err }
    return v.(map[int64]domain.Issue), ts, nil
}

// EventLog returns the global ordered event log derived from the corpus.
// The corpus validity instant doubles as the dependency parameter, so a
// refreshed corpus invalidates the log.
func (e *Engine) EventLog(ctx context.Context, upper time.Time) ([]domain.Event, time.Time, error) {
    issues, corpusTS, err := e.Corpus(ctx, upper)
    if err != nil { return nil, time.Time{}, err }
    params := corpusTS.Format(time.RFC3339Nano)
    v, ts, err := e.coord.Get(ctx, keyEventLog, params, corpusTS, encodeJSON,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            return BuildEventLog(issues), corpusTS, nil
        })
    if err != nil { return nil, time.Time{}, err }
    return v.([]domain.Event), ts, nil
}

// ScopeBurnup replays the event log against a target, cached per target and
// window parameters.
func (e *Engine) ScopeBurnup(ctx context.Context, target domain.Target, w domain.Window) (ScopeBurnup, error) {
    events, logTS, err := e.EventLog(ctx, w.Upper())
    if err != nil { return ScopeBurnup{}, err }
    key := fmt.Sprintf("scope:%d:%t", target.ID, target.Release)
    params := fmt.Sprintf("%d|%d|%s", w.From.UnixMilli(), w.To.UnixMilli(), logTS.Format(time.RFC3339Nano))
    v, _, err := e.coord.Get(ctx, key, params, w.Upper(), nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            sb := ReplayScopeBurnup(e.log, events, target, w)
            return sb, sb.LastUpdate, nil
        })
    if err != nil { return ScopeBurnup{}, err }
    return v.(ScopeBurnup), nil
}

// Velocity returns the rolling completed-size series for a project (empty
// project means all configured projects).
func (e *Engine) Velocity(ctx context.Context, project string, w domain.Window) (domain.Series, error) {
    issues, corpusTS, err := e.Corpus(ctx, w.Upper())
    if err != nil { return nil, err }
    key := "velocity:" + project + ":" + strings.Join(e.cfg.DoneStatuses, ",")
    params := fmt.Sprintf("%d|%d|%d|%s", w.From.UnixMilli(), w.To.UnixMilli(), w.Interval.Milliseconds(), corpusTS.Format(time.RFC3339Nano))
    v, _, err := e.coord.Get(ctx, key, params, w.Upper(), nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            return VelocitySeries(issues, e.cfg.DoneStatuses, project, w), w.Upper(), nil
        })
    if err != nil { return nil, err }
    return v.(domain.Series), nil
}

// CycleTime returns the rolling average cycle-time-per-point series.
func (e *Engine) CycleTime(ctx context.Context, project string, w domain.Window) (domain.Series, error) {
    issues, corpusTS, err := e.Corpus(ctx, w.Upper())
    if err != nil { return nil, err }
    key := "cycletime:" + project
    params := fmt.Sprintf("%d|%d|%d|%s", w.From.UnixMilli(), w.To.UnixMilli(), w.Interval.Milliseconds(), corpusTS.Format(time.RFC3339Nano))
    v, _, err := e.coord.Get(ctx, key, params, w.Upper(), nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            return CycleTimeSeries(issues, e.cfg.StartStatuses, e.cfg.DoneStatuses, project, w), w.Upper(), nil
        })
    if err != nil { return nil, err }
    return v.(domain.Series), nil
}

// BoundsPolicy selects where projection velocity bounds come from: caller
// supplied, or derived from the velocity series over the display window.
type BoundsPolicy struct {
    Explicit *domain.VelocityBounds
    Project  string
}

// Release is one Jira version a dashboard can chart against.
type Release struct {
    ID          int64
    Name        string
    Project     string
    ReleaseDate *time.Time
}

// Releases lists the versions of every configured project, cached under the
// coordinator like any other derived artifact.
func (e *Engine) Releases(ctx context.Context) ([]Release, error) {
    if e.versions == nil { return nil, nil }
    params := strings.Join(e.cfg.JiraProjects, ",")
    v, _, err := e.coord.Get(ctx, "releases", params, time.Now().UTC(), nil,
        func(ctx context.Context, prev any, since time.Time) (any, time.Time, error) {
            var out []Release
            for _, project := range e.cfg.JiraProjects {
                vs, err := e.versions.ProjectVersions(ctx, project)
                if err != nil { return nil, time.Time{}, err }
                for _, vm := range vs {
                    r := parseRelease(vm)
                    if r.ID == 0 { continue }
                    r.Project = project
                    out = append(out, r)
                }
            }
            return out, time.Now().UTC(), nil
        })
    if err != nil { return nil, err }
    return v.([]Release), nil
}

func parseRelease(vm map[string]any) Release {
    var r Release
    switch id := vm["id"].(type) {
    case string:
        if n, err := strconv.ParseInt(id, 10, 64); err == nil { r.ID = n }
    case float64:
        r.ID = int64(id)
    }
    r.Name, _ = vm["name"].(string)
    if s, _ := vm["releaseDate"].(string); s != "" {
        if t, err := time.Parse("2006-01-02", s); err == nil { r.ReleaseDate = &t }
    }
    return r
}

// ReleaseProgress combines a scope/burnup replay with projections to the
// window's end under the policy's velocity bounds. A release target with no
// caller-supplied release date falls back to the Jira version's.
func (e *Engine) ReleaseProgress(ctx context.Context, target domain.Target, w domain.Window, policy BoundsPolicy, releaseDate *time.Time) (Projection, error) {
    if releaseDate == nil && target.Release && e.versions != nil {
        if vm, err := e.versions.Version(ctx, target.ID); err != nil {
            e.log.Warn().Err(err).Int64("version", target.ID).Msg("release date lookup failed")
        } else if r := parseRelease(vm); r.ReleaseDate != nil {
            releaseDate = r.ReleaseDate
        }
    }
    sb, err := e.ScopeBurnup(ctx, target, w)
    if err != nil { return Projection{}, err }
    var bounds domain.VelocityBounds
    if policy.Explicit != nil {
        bounds = *policy.Explicit
    } else {
        vel, err := e.Velocity(ctx, policy.Project, w)
        if err != nil { return Projection{}, err }
        bounds = BoundsFromSeries(vel)
    }
    return Project(sb, bounds, w, releaseDate), nil
}

// Refresh forces a corpus (and thus event log) refresh to now, used by the
// cron warm-up and the admin endpoint.
func (e *Engine) Refresh(ctx context.Context) error {
    _, _, err := e.EventLog(ctx, time.Now().UTC())
    return err
}
