/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package engine

import (
    "math"
    "strings"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/corpus"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
)

// cycleTrack is one issue's precomputed status history relevant to cycle
// time: when it first left the starting stage and every time it entered the
// completion stage.
type cycleTrack struct {
    created   time.Time
    size      float64
    fromExits []time.Time // transitions out of a start status into a non-start status
    toEntries []time.Time // transitions into a completion status from a non-completion one
}

func buildCycleTracks(issues map[int64]domain.Issue, startStatuses, doneStatuses []string, project string) []cycleTrack {
    from := statusSet(startStatuses)
    to := statusSet(doneStatuses)
    var out []cycleTrack
    for _, iss := range issues {
        if !iss.Type.Leaf() { continue }
        if project != "" && !strings.EqualFold(iss.Project, project) { continue }
        tr := cycleTrack{created: iss.Created, size: derefSize(iss.Size)}
        for _, ch := range iss.Changes {
            if ch.Field != corpus.FieldStatus { continue }
            if inSet(from, ch.From) && !inSet(from, ch.To) {
                tr.fromExits = append(tr.fromExits, ch.At)
            }
            if !inSet(to, ch.From) && inSet(to, ch.To) {
                tr.toEntries = append(tr.toEntries, ch.At)
            }
        }
        if len(tr.toEntries) > 0 { out = append(out, tr) }
    }
    return out
}

// completedAt is the issue's completion instant as known at sample time t:
// the last entry into a completion status at or before t. Zero when the
// issue had not completed by t.
func (tr cycleTrack) completedAt(t time.Time) time.Time {
    var last time.Time
    for _, e := range tr.toEntries {
        if e.After(t) { break }
        last = e
    }
    return last
}

// startedAt is when work began as known at sample time t: the first exit
// from a start status at or before t, else creation (the issue must have
// been created already past that stage).
func (tr cycleTrack) startedAt(t time.Time) time.Time {
    for _, e := range tr.fromExits {
        if !e.After(t) { return e }
    }
    return tr.created
}

// CycleTimeSeries samples the rolling two-week average cycle time per size
// point, in days. For each sample, issues completed inside the trailing
// fortnight contribute cycleTime/size; size-0 issues are left out of the
// average, and a window where every completion is size 0 (or empty) yields
// NaN rather than a fabricated zero.
func CycleTimeSeries(issues map[int64]domain.Issue, startStatuses, doneStatuses []string, project string, w domain.Window) domain.Series {
    tracks := buildCycleTracks(issues, startStatuses, doneStatuses, project)
    step := w.Interval
    if step <= 0 { step = 24 * time.Hour }
    upper := w.Upper()

    var out domain.Series
    for t := w.From; !t.After(upper); t = t.Add(step) {
        cutoff := t.Add(-velocityWindow)
        sum, n := 0.0, 0
        for _, tr := range tracks {
            comp := tr.completedAt(t)
            if comp.IsZero() || comp.Before(cutoff) { continue }
            if tr.size == 0 { continue }
            cycleDays := comp.Sub(tr.startedAt(t)).Hours() / 24.0
            sum += cycleDays / tr.size
            n++
        }
        v := math.NaN()
        if n > 0 { v = sum / float64(n) }
        out = append(out, domain.Point{Value: v, At: t})
    }
    return out
}
