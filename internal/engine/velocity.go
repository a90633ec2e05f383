/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package engine

import (
    "math"
    "sort"
    "strings"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/corpus"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
)

// velocityWindow is the fixed rolling lookback for velocity and cycle-time
// sampling. It is a fortnight of wall time, not aligned to sprint starts.
const velocityWindow = 14 * 24 * time.Hour

// transition is one signed size contribution: +size when an issue moves
// into a completion status, -size when it regresses out of one.
type transition struct {
    at    time.Time
    delta float64
}

func statusSet(names []string) map[string]struct{} {
    m := make(map[string]struct{}, len(names))
    for _, n := range names {
        n = strings.ToLower(strings.TrimSpace(n))
        if n != "" { m[n] = struct{}{} }
    }
    return m
}

func inSet(set map[string]struct{}, status string) bool {
    _, ok := set[strings.ToLower(strings.TrimSpace(status))]
    return ok
}

// completionTransitions derives every completion/regression transition for
// leaf issues, sorted ascending. Epics and initiatives never contribute;
// a size-0 issue still produces transitions (of zero weight).
func completionTransitions(issues map[int64]domain.Issue, doneStatuses []string, project string) []transition {
    done := statusSet(doneStatuses)
    var out []transition
    for _, iss := range issues {
        if !iss.Type.Leaf() { continue }
        if project != "" && !strings.EqualFold(iss.Project, project) { continue }
        size := derefSize(iss.Size)

        // creation-time status: the first status change's origin, or the
        // current status when no status ever changed
        var statusChanges []domain.Change
        for _, ch := range iss.Changes {
            if ch.Field == corpus.FieldStatus { statusChanges = append(statusChanges, ch) }
        }
        cur := inSet(done, iss.Status)
        if len(statusChanges) > 0 { cur = inSet(done, statusChanges[0].From) }
        if cur && !iss.Created.IsZero() {
            out = append(out, transition{at: iss.Created, delta: size})
        }
        for _, ch := range statusChanges {
            next := inSet(done, ch.To)
            if next == cur { continue }
            if next {
                out = append(out, transition{at: ch.At, delta: size})
            } else {
                out = append(out, transition{at: ch.At, delta: -size})
            }
            cur = next
        }
    }
    sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
    return out
}

// VelocitySeries samples the rolling two-week completed size at every
// interval step across the window. The sweep advances two monotonic
// pointers over the sorted transition list, so the whole series costs one
// pass regardless of sample count.
func VelocitySeries(issues map[int64]domain.Issue, doneStatuses []string, project string, w domain.Window) domain.Series {
    trans := completionTransitions(issues, doneStatuses, project)
    step := w.Interval
    if step <= 0 { step = 24 * time.Hour }
    upper := w.Upper()

    var out domain.Series
    lo, hi := 0, 0
    sum := 0.0
    for t := w.From; !t.After(upper); t = t.Add(step) {
        for hi < len(trans) && !trans[hi].at.After(t) { sum += trans[hi].delta; hi++ }
        cutoff := t.Add(-velocityWindow)
        for lo < hi && trans[lo].at.Before(cutoff) { sum -= trans[lo].delta; lo++ }
        out = append(out, domain.Point{Value: sum, At: t})
    }
    return out
}

// BoundsFromSeries derives the Limits velocity-bounds policy: pointwise
// max/min over the displayed series and the latest sample as current. An
// empty series has no defined bounds.
func BoundsFromSeries(s domain.Series) domain.VelocityBounds {
    if len(s) == 0 {
        nan := math.NaN()
        return domain.VelocityBounds{Max: nan, Cur: nan, Min: nan}
    }
    b := domain.VelocityBounds{Max: s[0].Value, Cur: s[len(s)-1].Value, Min: s[0].Value}
    for _, p := range s[1:] {
        if p.Value > b.Max { b.Max = p.Value }
        if p.Value < b.Min { b.Min = p.Value }
    }
    return b
}
