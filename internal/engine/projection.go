/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package engine

import (
    "math"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
)

// Projection is the release-progress chart payload: the historical scope
// and burnup lines, three extrapolated burnup lines under the velocity
// bounds, a flat scope projection, and vertical markers that span the full
// value range so charts auto-scale.
type Projection struct {
    Scope         domain.Series
    Done          domain.Series
    ScopeProjected domain.Series
    DoneMax       domain.Series
    DoneCur       domain.Series
    DoneMin       domain.Series
    NowMarker     domain.Series
    ReleaseMarker domain.Series
}

// fortnights converts a duration to units of the velocity window.
func fortnights(d time.Duration) float64 {
    return d.Hours() / velocityWindow.Hours()
}

// Project extrapolates a completed scope/burnup replay to the window's end
// under the given velocity bounds. When the bounds are undefined (no
// completion ever observed) the projected values are NaN, surfaced to the
// caller as explicit no-data points rather than zeros.
func Project(sb ScopeBurnup, bounds domain.VelocityBounds, w domain.Window, releaseDate *time.Time) Projection {
    out := Projection{Scope: sb.Scope, Done: sb.Done}
    now := sb.LastUpdate
    doneNow := sb.Done.Last()
    scopeNow := sb.Scope.Last()

    if w.To.After(now) {
        span := fortnights(w.To.Sub(now))
        project := func(v float64) domain.Series {
            return domain.Series{
                {Value: doneNow, At: now},
                {Value: doneNow + span*v, At: w.To},
            }
        }
        out.DoneMax = project(bounds.Max)
        out.DoneCur = project(bounds.Cur)
        out.DoneMin = project(bounds.Min)
        // scope is assumed flat; there is no scope-growth model
        out.ScopeProjected = domain.Series{
            {Value: scopeNow, At: now},
            {Value: scopeNow, At: w.To},
        }
    }

    top := chartTop(out)
    out.NowMarker = marker(now, top)
    if releaseDate != nil { out.ReleaseMarker = marker(*releaseDate, top) }
    return out
}

// chartTop is the largest finite value across scope, burnup and the
// max-velocity projection, the height vertical markers must reach.
func chartTop(p Projection) float64 {
    top := 0.0
    for _, s := range []domain.Series{p.Scope, p.Done, p.DoneMax, p.ScopeProjected} {
        for _, pt := range s {
            if !math.IsNaN(pt.Value) && pt.Value > top { top = pt.Value }
        }
    }
    return top
}

func marker(at time.Time, top float64) domain.Series {
    return domain.Series{{Value: 0, At: at}, {Value: top, At: at}}
}
