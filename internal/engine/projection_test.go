/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package engine

import (
    "math"
    "testing"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
    "github.com/stretchr/testify/require"
)

func TestProject_ExtrapolatesOneFortnightPerVelocityUnit(t *testing.T) {
    now := day(30)
    sb := ScopeBurnup{
        Scope:      domain.Series{{Value: 30, At: day(0)}, {Value: 30, At: now}},
        Done:       domain.Series{{Value: 22, At: day(0)}, {Value: 22, At: now}},
        LastUpdate: now,
    }
    w := domain.Window{Now: now, From: day(0), To: now.Add(14 * 24 * time.Hour)}
    p := Project(sb, domain.VelocityBounds{Max: 8, Cur: 4, Min: 0}, w, nil)

    require.Equal(t, 30.0, p.DoneMax.Last())
    require.Equal(t, 26.0, p.DoneCur.Last())
    require.Equal(t, 22.0, p.DoneMin.Last())
    require.Equal(t, 22.0, p.DoneMax[0].Value, "projection starts at the current burnup")
    require.Equal(t, 30.0, p.ScopeProjected.Last(), "scope projects flat")
    require.Equal(t, w.To, p.DoneCur[len(p.DoneCur)-1].At)
}

func TestProject_NoProjectionForPastWindows(t *testing.T) {
    now := day(30)
    sb := ScopeBurnup{
        Scope:      domain.Series{{Value: 10, At: day(0)}},
        Done:       domain.Series{{Value: 4, At: day(0)}},
        LastUpdate: now,
    }
    w := domain.Window{Now: now, From: day(0), To: day(20)}
    p := Project(sb, domain.VelocityBounds{Max: 8, Cur: 4, Min: 1}, w, nil)
    require.Nil(t, p.DoneMax)
    require.Nil(t, p.DoneCur)
    require.Nil(t, p.DoneMin)
    require.Nil(t, p.ScopeProjected)
}

func TestProject_UndefinedVelocityYieldsNaNNotZero(t *testing.T) {
    now := day(30)
    nan := math.NaN()
    sb := ScopeBurnup{
        Scope:      domain.Series{{Value: 10, At: now}},
        Done:       domain.Series{{Value: 4, At: now}},
        LastUpdate: now,
    }
    w := domain.Window{Now: now, From: day(0), To: day(44)}
    p := Project(sb, domain.VelocityBounds{Max: nan, Cur: nan, Min: nan}, w, nil)
    require.True(t, math.IsNaN(p.DoneMax.Last()))
    require.True(t, math.IsNaN(p.DoneCur.Last()))
}

func TestProject_MarkersSpanChartHeight(t *testing.T) {
    now := day(30)
    release := day(44)
    sb := ScopeBurnup{
        Scope:      domain.Series{{Value: 30, At: now}},
        Done:       domain.Series{{Value: 22, At: now}},
        LastUpdate: now,
    }
    w := domain.Window{Now: now, From: day(0), To: day(58)}
    p := Project(sb, domain.VelocityBounds{Max: 8, Cur: 4, Min: 0}, w, &release)

    require.Len(t, p.NowMarker, 2)
    require.Equal(t, now, p.NowMarker[0].At)
    require.Equal(t, 0.0, p.NowMarker[0].Value)
    require.Equal(t, 38.0, p.NowMarker[1].Value, "marker reaches the max-velocity projection top")

    require.Len(t, p.ReleaseMarker, 2)
    require.Equal(t, release, p.ReleaseMarker[0].At)
    require.Equal(t, 38.0, p.ReleaseMarker[1].Value)
}
