/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package engine

import (
    "math"
    "testing"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/corpus"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
    "github.com/stretchr/testify/require"
)

var doneSet = []string{"Done", "Closed"}

func story(id int64, key string, size float64, changes ...domain.Change) domain.Issue {
    return domain.Issue{
        ID: id, Key: key, Project: "PRJ", Type: domain.TypeStory,
        Size: fptr(size), Created: day(0), Changes: changes,
    }
}

func statusChange(at time.Time, from, to string) domain.Change {
    return domain.Change{At: at, Field: corpus.FieldStatus, From: from, To: to}
}

func TestVelocitySeries_SumsCompletionsInTrailingFortnight(t *testing.T) {
    issues := map[int64]domain.Issue{
        1: story(1, "PRJ-1", 5, statusChange(day(2), "In Progress", "Done")),
        2: story(2, "PRJ-2", 3, statusChange(day(10), "In Progress", "Done")),
    }
    w := domain.Window{Now: day(100), From: day(0), To: day(20), Interval: 24 * time.Hour}
    s := VelocitySeries(issues, doneSet, "", w)
    require.Len(t, s, 21)

    require.Equal(t, 0.0, s[1].Value)
    require.Equal(t, 5.0, s[2].Value)
    require.Equal(t, 8.0, s[10].Value)
    require.Equal(t, 8.0, s[16].Value, "day-2 completion still inside [t-14d, t]")
    require.Equal(t, 3.0, s[17].Value, "day-2 completion aged out")
    require.Equal(t, 3.0, s[20].Value)
}

func TestVelocitySeries_RegressionSubtractsSize(t *testing.T) {
    issues := map[int64]domain.Issue{
        1: story(1, "PRJ-1", 5,
            statusChange(day(2), "In Progress", "Done"),
            statusChange(day(4), "Done", "In Progress"),
        ),
    }
    w := domain.Window{Now: day(100), From: day(0), To: day(6), Interval: 24 * time.Hour}
    s := VelocitySeries(issues, doneSet, "", w)
    require.Equal(t, 5.0, s[3].Value)
    require.Equal(t, 0.0, s[4].Value, "reopening cancels the completion")
}

func TestVelocitySeries_IssueCreatedDoneCountsAtCreation(t *testing.T) {
    iss := story(1, "PRJ-1", 2)
    iss.Status = "Done"
    issues := map[int64]domain.Issue{1: iss}
    w := domain.Window{Now: day(100), From: day(0), To: day(5), Interval: 24 * time.Hour}
    s := VelocitySeries(issues, doneSet, "", w)
    require.Equal(t, 2.0, s[0].Value)
}

func TestVelocitySeries_NonLeafAndOtherProjectsExcluded(t *testing.T) {
    epic := domain.Issue{
        ID: 1, Key: "PRJ-1", Project: "PRJ", Type: domain.TypeEpic, Size: fptr(8),
        Created: day(0), Changes: []domain.Change{statusChange(day(1), "Open", "Done")},
    }
    other := story(2, "OTH-2", 5, statusChange(day(1), "Open", "Done"))
    other.Project = "OTH"
    issues := map[int64]domain.Issue{1: epic, 2: other}

    w := domain.Window{Now: day(100), From: day(0), To: day(3), Interval: 24 * time.Hour}
    s := VelocitySeries(issues, doneSet, "PRJ", w)
    for _, p := range s { require.Equal(t, 0.0, p.Value) }

    s = VelocitySeries(issues, doneSet, "OTH", w)
    require.Equal(t, 5.0, s.Last())
}

func TestVelocitySeries_WindowClippedAtNow(t *testing.T) {
    issues := map[int64]domain.Issue{
        1: story(1, "PRJ-1", 5, statusChange(day(2), "In Progress", "Done")),
    }
    w := domain.Window{Now: day(4), From: day(0), To: day(20), Interval: 24 * time.Hour}
    s := VelocitySeries(issues, doneSet, "", w)
    require.Len(t, s, 5, "no samples past now")
    require.Equal(t, day(4), s[len(s)-1].At)
}

func TestBoundsFromSeries(t *testing.T) {
    s := domain.Series{
        {Value: 3, At: day(0)},
        {Value: 8, At: day(1)},
        {Value: 4, At: day(2)},
    }
    b := BoundsFromSeries(s)
    require.Equal(t, domain.VelocityBounds{Max: 8, Cur: 4, Min: 3}, b)

    empty := BoundsFromSeries(nil)
    require.True(t, math.IsNaN(empty.Max))
    require.True(t, math.IsNaN(empty.Cur))
    require.True(t, math.IsNaN(empty.Min))
}
