/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package engine

import (
    "sort"
    "strconv"
    "strings"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/corpus"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
)

// BuildEventLog replays every issue's changelog into one globally
// time-ordered sequence of atomic events.
//
// Jira records no explicit "initial value" entries, so each issue's created
// event starts from its current field values and is corrected retroactively
// when the first change to that field is seen: the created event is patched
// to the value the change came from. The correction fires once per field;
// later changes map to ordinary events. Version membership corrects per
// version id: the first add (remove) of a version implies the issue did not
// (did) have it at creation. With a truncated history this inference can
// misattribute initial membership; there is no way to tell from the data.
func BuildEventLog(issues map[int64]domain.Issue) []domain.Event {
    keyToID := make(map[string]int64, len(issues))
    for _, iss := range issues { keyToID[iss.Key] = iss.ID }

    var log []domain.Event
    for _, iss := range issues {
        log = append(log, issueEvents(iss, keyToID)...)
    }
    sort.SliceStable(log, func(i, j int) bool {
        a, b := log[i], log[j]
        if !a.At.Equal(b.At) { return a.At.Before(b.At) }
        if a.IssueID != b.IssueID { return a.IssueID < b.IssueID }
        return a.Kind < b.Kind
    })
    return log
}

func issueEvents(iss domain.Issue, keyToID map[string]int64) []domain.Event {
    created := domain.Event{
        At:        iss.Created,
        IssueID:   iss.ID,
        Kind:      domain.EventCreated,
        Key:       iss.Key,
        Type:      iss.Type,
        Size:      derefSize(iss.Size),
        Resolved:  resolvedValue(iss.Resolution),
        ParentID:  iss.ParentID,
        ParentKey: iss.ParentKey,
    }
    versions := make(map[int64]struct{}, len(iss.Versions))
    for _, v := range iss.Versions { versions[v] = struct{}{} }

    var rest []domain.Event
    sizeCorrected := false
    parentCorrected := false
    resolutionCorrected := false
    versionCorrected := map[int64]bool{}

    for _, ch := range iss.Changes {
        switch ch.Field {
        case corpus.FieldStoryPoints:
            from := parseSize(ch.From)
            to := parseSize(ch.To)
            if !sizeCorrected { created.Size = from; sizeCorrected = true }
            rest = append(rest, domain.Event{At: ch.At, IssueID: iss.ID, Kind: domain.EventSizeChange, FromSize: from, ToSize: to})
        case corpus.FieldParentLink, corpus.FieldEpicLink, "parent":
            if !parentCorrected {
                created.ParentKey = strings.TrimSpace(ch.From)
                created.ParentID = parseID(ch.FromID)
                parentCorrected = true
            }
            rest = append(rest, domain.Event{At: ch.At, IssueID: iss.ID, Kind: domain.EventParentChange, ParentKey: strings.TrimSpace(ch.To), ParentID: parseID(ch.ToID)})
        case corpus.FieldEpicChild:
            if k := strings.TrimSpace(ch.From); k != "" {
                rest = append(rest, domain.Event{At: ch.At, IssueID: iss.ID, Kind: domain.EventRemoveChild, ChildKey: k})
            }
            if k := strings.TrimSpace(ch.To); k != "" {
                rest = append(rest, domain.Event{At: ch.At, IssueID: iss.ID, Kind: domain.EventAddChild, ChildKey: k})
            }
        case corpus.FieldFixVersion:
            if vid := parseID(ch.FromID); vid > 0 {
                if !versionCorrected[vid] { versions[vid] = struct{}{}; versionCorrected[vid] = true }
                rest = append(rest, domain.Event{At: ch.At, IssueID: iss.ID, Kind: domain.EventRemoveVersion, VersionID: vid})
            }
            if vid := parseID(ch.ToID); vid > 0 {
                if !versionCorrected[vid] { delete(versions, vid); versionCorrected[vid] = true }
                rest = append(rest, domain.Event{At: ch.At, IssueID: iss.ID, Kind: domain.EventAddVersion, VersionID: vid})
            }
        case corpus.FieldResolution:
            if !resolutionCorrected { created.Resolved = resolvedValue(ch.From); resolutionCorrected = true }
            rest = append(rest, domain.Event{At: ch.At, IssueID: iss.ID, Kind: domain.EventResolutionChange, Resolved: resolvedValue(ch.To)})
        }
        // status transitions feed the velocity and cycle-time engines
        // straight from the changelog; they are not part of the event log.
    }

    for v := range versions { created.Versions = append(created.Versions, v) }
    sort.Slice(created.Versions, func(i, j int) bool { return created.Versions[i] < created.Versions[j] })

    // resolve the creation-time parent key against the corpus; an unknown
    // parent stays as a dangling key and ancestry checks fail closed
    if created.ParentID == 0 && created.ParentKey != "" {
        if id, ok := keyToID[created.ParentKey]; ok { created.ParentID = id }
    }

    out := make([]domain.Event, 0, 1+len(rest))
    out = append(out, created)
    out = append(out, rest...)
    return out
}

func derefSize(s *float64) float64 {
    if s == nil { return 0 }
    return *s
}

func parseSize(s string) float64 {
    v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
    if err != nil { return 0 }
    return v
}

func parseID(s string) int64 {
    v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
    if err != nil { return 0 }
    return v
}

// resolvedValue interprets a resolution display value: anything non-empty
// other than "none" counts as done.
func resolvedValue(s string) bool {
    s = strings.TrimSpace(s)
    return s != "" && !strings.EqualFold(s, "none")
}
