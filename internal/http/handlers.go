/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/config"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/engine"
    "github.com/rs/zerolog"
)

type service interface {
    ScopeBurnup(ctx context.Context, target domain.Target, w domain.Window) (engine.ScopeBurnup, error)
    Velocity(ctx context.Context, project string, w domain.Window) (domain.Series, error)
    CycleTime(ctx context.Context, project string, w domain.Window) (domain.Series, error)
    ReleaseProgress(ctx context.Context, target domain.Target, w domain.Window, policy engine.BoundsPolicy, releaseDate *time.Time) (engine.Projection, error)
    Releases(ctx context.Context) ([]engine.Release, error)
    Refresh(ctx context.Context) error
}

type Handlers struct {
    cfg config.Config
    log zerolog.Logger
    svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service) *Handlers {
    return &Handlers{cfg: cfg, log: log, svc: svc}
}

// Root answers Grafana's datasource connectivity test.
func (h *Handlers) Root(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) Healthz(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"ok": true})
}

// metric names the dashboard can pick from the query editor
var metrics = []string{"scopeBurnup", "releaseProgress", "velocity", "cycleTime", "velocityBounds"}

// Search lists the metric names plus one entry per known Jira release, so
// target ids can be picked without leaving Grafana. Release lookup failures
// degrade to metrics only.
func (h *Handlers) Search(c *gin.Context) {
    out := append([]string{}, metrics...)
    releases, err := h.svc.Releases(c.Request.Context())
    if err != nil {
        h.log.Warn().Err(err).Msg("release discovery failed")
    }
    for _, r := range releases {
        out = append(out, fmt.Sprintf("release:%d %s %s", r.ID, r.Project, r.Name))
    }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) AdminRefresh(c *gin.Context) {
    // Run in background detached from the HTTP request to avoid context cancellation
    go func(){ _ = h.svc.Refresh(context.Background()) }()
    c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type queryRequest struct {
    Range struct {
        From time.Time `json:"from"`
        To   time.Time `json:"to"`
    } `json:"range"`
    IntervalMs int64         `json:"intervalMs"`
    Targets    []queryTarget `json:"targets"`
}

type queryTarget struct {
    Target string `json:"target"`
    Type   string `json:"type"`
    Data   struct {
        Target      json.Number `json:"target"`
        Release     bool        `json:"release"`
        Project     string      `json:"project"`
        MaxVelocity *float64    `json:"maxVelocity"`
        CurVelocity *float64    `json:"curVelocity"`
        MinVelocity *float64    `json:"minVelocity"`
        ReleaseDate string      `json:"releaseDate"`
    } `json:"data"`
}

type seriesResult struct {
    Target     string        `json:"target"`
    Datapoints domain.Series `json:"datapoints"`
}

type tableColumn struct {
    Text string `json:"text"`
    Type string `json:"type"`
}

type tableResult struct {
    Type    string        `json:"type"`
    Columns []tableColumn `json:"columns"`
    Rows    [][]any       `json:"rows"`
}

// Query is the SimpleJSON query endpoint. Each target is resolved
// independently; a single bad target fails the whole request so the panel
// shows the error instead of a silently partial chart.
func (h *Handlers) Query(c *gin.Context) {
    var req queryRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    w := domain.Window{
        Now:      time.Now().UTC(),
        From:     req.Range.From.UTC(),
        To:       req.Range.To.UTC(),
        Interval: time.Duration(req.IntervalMs) * time.Millisecond,
    }
    if w.Interval <= 0 { w.Interval = 24 * time.Hour }

    ctx := c.Request.Context()
    out := make([]any, 0, len(req.Targets))
    for _, tgt := range req.Targets {
        res, err := h.resolve(ctx, tgt, w)
        if err != nil {
            h.log.Error().Err(err).Str("target", tgt.Target).Msg("query failed")
            c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
            return
        }
        out = append(out, res...)
    }
    c.JSON(http.StatusOK, out)
}

func (h *Handlers) resolve(ctx context.Context, tgt queryTarget, w domain.Window) ([]any, error) {
    switch tgt.Target {
    case "velocity":
        s, err := h.svc.Velocity(ctx, tgt.Data.Project, w)
        if err != nil { return nil, err }
        return []any{seriesResult{Target: label("Velocity", tgt.Data.Project), Datapoints: s}}, nil

    case "cycleTime":
        s, err := h.svc.CycleTime(ctx, tgt.Data.Project, w)
        if err != nil { return nil, err }
        return []any{seriesResult{Target: label("Cycle Time", tgt.Data.Project), Datapoints: s}}, nil

    case "velocityBounds":
        s, err := h.svc.Velocity(ctx, tgt.Data.Project, w)
        if err != nil { return nil, err }
        b := engine.BoundsFromSeries(s)
        return []any{tableResult{
            Type: "table",
            Columns: []tableColumn{{"Max", "number"}, {"Current", "number"}, {"Min", "number"}},
            Rows:    [][]any{{b.Max, b.Cur, b.Min}},
        }}, nil

    case "scopeBurnup":
        target, err := parseTarget(tgt)
        if err != nil { return nil, err }
        sb, err := h.svc.ScopeBurnup(ctx, target, w)
        if err != nil { return nil, err }
        return []any{
            seriesResult{Target: "Scope", Datapoints: sb.Scope},
            seriesResult{Target: "Done", Datapoints: sb.Done},
        }, nil

    case "releaseProgress":
        target, err := parseTarget(tgt)
        if err != nil { return nil, err }
        policy := engine.BoundsPolicy{Project: tgt.Data.Project}
        if tgt.Data.MaxVelocity != nil && tgt.Data.CurVelocity != nil && tgt.Data.MinVelocity != nil {
            policy.Explicit = &domain.VelocityBounds{Max: *tgt.Data.MaxVelocity, Cur: *tgt.Data.CurVelocity, Min: *tgt.Data.MinVelocity}
        }
        var releaseDate *time.Time
        if tgt.Data.ReleaseDate != "" {
            t, err := time.Parse("2006-01-02", tgt.Data.ReleaseDate)
            if err != nil { return nil, fmt.Errorf("http: bad releaseDate %q: %w", tgt.Data.ReleaseDate, err) }
            releaseDate = &t
        }
        p, err := h.svc.ReleaseProgress(ctx, target, w, policy, releaseDate)
        if err != nil { return nil, err }
        out := []any{
            seriesResult{Target: "Scope", Datapoints: p.Scope},
            seriesResult{Target: "Done", Datapoints: p.Done},
        }
        if p.ScopeProjected != nil { out = append(out, seriesResult{Target: "Scope Projected", Datapoints: p.ScopeProjected}) }
        if p.DoneMax != nil { out = append(out, seriesResult{Target: "Done (max velocity)", Datapoints: p.DoneMax}) }
        if p.DoneCur != nil { out = append(out, seriesResult{Target: "Done (current velocity)", Datapoints: p.DoneCur}) }
        if p.DoneMin != nil { out = append(out, seriesResult{Target: "Done (min velocity)", Datapoints: p.DoneMin}) }
        if p.NowMarker != nil { out = append(out, seriesResult{Target: "Now", Datapoints: p.NowMarker}) }
        if p.ReleaseMarker != nil { out = append(out, seriesResult{Target: "Release", Datapoints: p.ReleaseMarker}) }
        return out, nil

    default:
        return nil, fmt.Errorf("http: unknown target %q", tgt.Target)
    }
}

func parseTarget(tgt queryTarget) (domain.Target, error) {
    id, err := tgt.Data.Target.Int64()
    if err != nil { return domain.Target{}, fmt.Errorf("http: bad target id %q: %w", tgt.Data.Target.String(), err) }
    return domain.Target{ID: id, Release: tgt.Data.Release}, nil
}

func label(name, project string) string {
    if project == "" { return name }
    return name + " " + project
}
