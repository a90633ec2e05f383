/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package corpus

import (
    "fmt"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
)

// Changelog field names as Jira Server reports them. Story points and the
// initiative-level parent link are custom fields; the names are stable even
// when the customfield_* ids differ per instance.
const (
    FieldStatus     = "status"
    FieldResolution = "resolution"
    FieldParentLink = "Parent Link"
    FieldEpicLink   = "Epic Link"
    FieldEpicChild  = "Epic Child"
    FieldFixVersion = "Fix Version"
    FieldStoryPoints = "Story Points"
)

func parseTimeUTC(v any) *time.Time {
    s, _ := v.(string)
    if s == "" { return nil }
    layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700"}
    for _, l := range layouts {
        if t, err := time.Parse(l, s); err == nil {
            tt := t.UTC(); return &tt
        }
    }
    return nil
}

func toStrAny(v any) string {
    if v == nil { return "" }
    if s, ok := v.(string); ok { return s }
    return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
    switch t := v.(type) {
    case float64: return int64(t)
    case int64: return t
    case string:
        n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
        if err != nil { return 0 }
        return n
    }
    return 0
}

func issueType(name string) domain.IssueType {
    ln := strings.ToLower(strings.TrimSpace(name))
    switch {
    case strings.Contains(ln, "initiative"): return domain.TypeInitiative
    case strings.Contains(ln, "epic"): return domain.TypeEpic
    case strings.Contains(ln, "bug") || strings.Contains(ln, "defect"): return domain.TypeBug
    default: return domain.TypeStory
    }
}

// ParseIssue maps one raw search-result issue (with expanded changelog) to a
// domain Issue. Unknown or malformed fields degrade to zero values; an issue
// with no id or key is rejected.
func ParseIssue(im map[string]any) (domain.Issue, error) {
    id := toInt64(im["id"])
    key := toStrAny(im["key"])
    if id == 0 || key == "" { return domain.Issue{}, fmt.Errorf("corpus: issue without id/key") }
    fields, _ := im["fields"].(map[string]any)

    iss := domain.Issue{ID: id, Key: key}
    if pj, ok := fields["project"].(map[string]any); ok { iss.Project = toStrAny(pj["key"]) }
    if tp, ok := fields["issuetype"].(map[string]any); ok { iss.Type = issueType(toStrAny(tp["name"])) }
    if ss, ok := fields["status"].(map[string]any); ok { iss.Status = toStrAny(ss["name"]) }
    if rs, ok := fields["resolution"].(map[string]any); ok { iss.Resolution = toStrAny(rs["name"]) }
    if t := parseTimeUTC(fields["created"]); t != nil { iss.Created = *t }
    if t := parseTimeUTC(fields["updated"]); t != nil { iss.Updated = *t }
    if v, ok := fields["customfield_10016"].(float64); ok { tmp := v; iss.Size = &tmp }

    // parent: next-gen parent object, else Epic Link key, else Parent Link key
    if p, ok := fields["parent"].(map[string]any); ok {
        iss.ParentID = toInt64(p["id"])
        iss.ParentKey = toStrAny(p["key"])
    }
    if iss.ParentID == 0 && iss.ParentKey == "" {
        if s := toStrAny(fields["customfield_10014"]); s != "" { iss.ParentKey = s }
    }

    if fv, ok := fields["fixVersions"].([]any); ok {
        for _, v0 := range fv {
            if vm, _ := v0.(map[string]any); vm != nil {
                if vid := toInt64(vm["id"]); vid > 0 { iss.Versions = append(iss.Versions, vid) }
            }
        }
    }

    if ch, ok := im["changelog"].(map[string]any); ok {
        if hs, ok := ch["histories"].([]any); ok { iss.Changes = append(iss.Changes, ParseHistories(hs)...) }
    }
    sortChanges(iss.Changes)
    return iss, nil
}

// ParseHistories flattens changelog history pages into Change entries.
func ParseHistories(hs []any) []domain.Change {
    var out []domain.Change
    for _, h0 := range hs {
        hv, _ := h0.(map[string]any)
        if hv == nil { continue }
        at := parseTimeUTC(hv["created"])
        if at == nil { continue }
        items, _ := hv["items"].([]any)
        for _, it0 := range items {
            itm, _ := it0.(map[string]any)
            if itm == nil { continue }
            out = append(out, domain.Change{
                At:     *at,
                Field:  toStrAny(itm["field"]),
                From:   toStrAny(itm["fromString"]),
                FromID: toStrAny(itm["from"]),
                To:     toStrAny(itm["toString"]),
                ToID:   toStrAny(itm["to"]),
            })
        }
    }
    return out
}

func sortChanges(cs []domain.Change) {
    sort.SliceStable(cs, func(i, j int) bool { return cs[i].At.Before(cs[j].At) })
}
