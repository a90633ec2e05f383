/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package corpus

import (
    "context"
    "strings"
    "testing"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/config"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
    "github.com/rs/zerolog"
    "github.com/stretchr/testify/require"
)

type stubJira struct {
    pages    []map[string]any
    jqls     []string
    logs     map[string][]map[string]any
    logCalls int
}

func (s *stubJira) Search(ctx context.Context, jql string, startAt, max int) (map[string]any, error) {
    s.jqls = append(s.jqls, jql)
    for _, p := range s.pages {
        if int(p["startAt"].(float64)) == startAt { return p, nil }
    }
    return map[string]any{"issues": []any{}}, nil
}

func (s *stubJira) Changelog(ctx context.Context, key string, startAt, max int) (map[string]any, error) {
    s.logCalls++
    pages := s.logs[key]
    idx := 0
    for i, p := range pages {
        if int(p["startAt"].(float64)) == startAt { idx = i; break }
    }
    if len(pages) == 0 { return map[string]any{"values": []any{}}, nil }
    return pages[idx], nil
}

func rawSearchIssue(id, key string) map[string]any {
    return map[string]any{
        "id": id, "key": key,
        "fields": map[string]any{
            "project":   map[string]any{"key": "PRJ"},
            "issuetype": map[string]any{"name": "Story"},
            "created":   "2025-01-01T00:00:00.000+0000",
        },
    }
}

func TestFetch_PagesUntilTotal(t *testing.T) {
    jira := &stubJira{pages: []map[string]any{
        {"startAt": 0.0, "total": 3.0, "issues": []any{rawSearchIssue("1", "PRJ-1"), rawSearchIssue("2", "PRJ-2")}},
        {"startAt": 2.0, "total": 3.0, "issues": []any{rawSearchIssue("3", "PRJ-3")}},
    }}
    f := NewFetcher(config.Config{JiraProjects: []string{"PRJ"}}, zerolog.Nop(), jira)

    out, err := f.Fetch(context.Background(), time.Time{}, nil)
    require.NoError(t, err)
    require.Len(t, out, 3)
    require.Equal(t, "PRJ-2", out[2].Key)
}

func TestFetch_IncrementalMergesOverPrevious(t *testing.T) {
    updated := rawSearchIssue("2", "PRJ-2")
    updated["fields"].(map[string]any)["customfield_10016"] = 8.0
    jira := &stubJira{pages: []map[string]any{
        {"startAt": 0.0, "total": 1.0, "issues": []any{updated}},
    }}
    f := NewFetcher(config.Config{JiraProjects: []string{"PRJ"}}, zerolog.Nop(), jira)

    prev := map[int64]domain.Issue{
        1: {ID: 1, Key: "PRJ-1"},
        2: {ID: 2, Key: "PRJ-2"},
    }
    since := time.Date(2025, 2, 1, 10, 30, 0, 0, time.UTC)
    out, err := f.Fetch(context.Background(), since, prev)
    require.NoError(t, err)

    require.Len(t, out, 2, "untouched issues survive the merge")
    require.NotNil(t, out[2].Size)
    require.Equal(t, 8.0, *out[2].Size)
    require.Contains(t, jira.jqls[0], `updated >= "2025-02-01 10:30"`)
}

func TestFetch_CompletesTruncatedChangelogs(t *testing.T) {
    iss := rawSearchIssue("1", "PRJ-1")
    iss["changelog"] = map[string]any{
        "total": 2.0,
        "histories": []any{
            map[string]any{"created": "2025-01-02T00:00:00.000+0000", "items": []any{
                map[string]any{"field": "status", "fromString": "To Do", "toString": "Done"},
            }},
        },
    }
    jira := &stubJira{
        pages: []map[string]any{{"startAt": 0.0, "total": 1.0, "issues": []any{iss}}},
        logs: map[string][]map[string]any{
            "PRJ-1": {{
                "startAt": 0.0, "total": 2.0,
                "values": []any{
                    map[string]any{"created": "2025-01-02T00:00:00.000+0000", "items": []any{
                        map[string]any{"field": "status", "fromString": "To Do", "toString": "In Progress"},
                    }},
                    map[string]any{"created": "2025-01-03T00:00:00.000+0000", "items": []any{
                        map[string]any{"field": "status", "fromString": "In Progress", "toString": "Done"},
                    }},
                },
            }},
        },
    }
    f := NewFetcher(config.Config{JiraProjects: []string{"PRJ"}, WorkersJira: 2}, zerolog.Nop(), jira)

    out, err := f.Fetch(context.Background(), time.Time{}, nil)
    require.NoError(t, err)
    require.Len(t, out[1].Changes, 2, "full changelog replaces the truncated inline one")
    require.Equal(t, 1, jira.logCalls)
}

func TestFetch_ShortPageKeepsPagingWhileTotalSaysMore(t *testing.T) {
    // servers may return pages smaller than maxResults mid-stream; only
    // the reported total decides when the corpus is complete
    jira := &stubJira{pages: []map[string]any{
        {"startAt": 0.0, "total": 2.0, "issues": []any{rawSearchIssue("1", "PRJ-1")}},
        {"startAt": 1.0, "total": 2.0, "issues": []any{rawSearchIssue("2", "PRJ-2")}},
    }}
    f := NewFetcher(config.Config{JiraProjects: []string{"PRJ"}}, zerolog.Nop(), jira)

    out, err := f.Fetch(context.Background(), time.Time{}, nil)
    require.NoError(t, err)
    require.Len(t, out, 2)
}

func TestFullChangelog_PagesWithTotal(t *testing.T) {
    history := func(ts string) map[string]any {
        return map[string]any{"created": ts, "items": []any{
            map[string]any{"field": "status", "fromString": "To Do", "toString": "Done"},
        }}
    }
    iss := rawSearchIssue("1", "PRJ-1")
    iss["changelog"] = map[string]any{"total": 3.0, "histories": []any{}}
    jira := &stubJira{
        pages: []map[string]any{{"startAt": 0.0, "total": 1.0, "issues": []any{iss}}},
        logs: map[string][]map[string]any{
            "PRJ-1": {
                {"startAt": 0.0, "total": 3.0, "values": []any{
                    history("2025-01-02T00:00:00.000+0000"),
                    history("2025-01-03T00:00:00.000+0000"),
                }},
                {"startAt": 2.0, "total": 3.0, "values": []any{
                    history("2025-01-04T00:00:00.000+0000"),
                }},
            },
        },
    }
    f := NewFetcher(config.Config{JiraProjects: []string{"PRJ"}, WorkersJira: 1}, zerolog.Nop(), jira)

    out, err := f.Fetch(context.Background(), time.Time{}, nil)
    require.NoError(t, err)
    require.Len(t, out[1].Changes, 3, "short changelog page must not end paging early")
    require.Equal(t, 2, jira.logCalls)
}

func TestBaseJQL(t *testing.T) {
    f := NewFetcher(config.Config{JiraIssueJQL: "  "}, zerolog.Nop(), nil)
    require.True(t, strings.HasPrefix(f.baseJQL(), "issuetype IN"))

    f = NewFetcher(config.Config{JiraProjects: []string{"A", "B"}}, zerolog.Nop(), nil)
    require.Equal(t, "project IN (A,B)", f.baseJQL())

    f = NewFetcher(config.Config{JiraIssueJQL: "labels = metrics"}, zerolog.Nop(), nil)
    require.Equal(t, "labels = metrics", f.baseJQL())
}
