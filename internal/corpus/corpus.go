/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package corpus

import (
    "context"
    "fmt"
    "strings"
    "sync"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/config"
    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
    "github.com/rs/zerolog"
)

type Searcher interface {
    Search(ctx context.Context, jql string, startAt, max int) (map[string]any, error)
    Changelog(ctx context.Context, key string, startAt, max int) (map[string]any, error)
}

// Fetcher pulls the issue corpus from Jira. Pages of one fetch run
// sequentially (each cursor depends on the previous page); per-issue
// changelog completion fans out over a bounded worker pool.
type Fetcher struct {
    cfg  config.Config
    log  zerolog.Logger
    jira Searcher
}

func NewFetcher(cfg config.Config, log zerolog.Logger, jira Searcher) *Fetcher {
    return &Fetcher{cfg: cfg, log: log, jira: jira}
}

func (f *Fetcher) baseJQL() string {
    if strings.TrimSpace(f.cfg.JiraIssueJQL) != "" { return f.cfg.JiraIssueJQL }
    if len(f.cfg.JiraProjects) > 0 {
        return fmt.Sprintf("project IN (%s)", strings.Join(f.cfg.JiraProjects, ","))
    }
    return "issuetype IN (Initiative, Epic, Story, Bug)"
}

// Fetch returns the corpus as of now. prev is merged in by issue id so an
// incremental fetch (since non-zero) only retrieves issues updated since
// that instant. A failed fetch returns the error without touching prev.
func (f *Fetcher) Fetch(ctx context.Context, since time.Time, prev map[int64]domain.Issue) (map[int64]domain.Issue, error) {
    jql := f.baseJQL()
    if !since.IsZero() {
        jql = fmt.Sprintf("(%s) AND updated >= \"%s\"", jql, since.UTC().Format("2006-01-02 15:04"))
    }
    var fetched []domain.Issue
    var incomplete []int
    startAt := 0
    for {
        page, err := f.jira.Search(ctx, jql, startAt, 50)
        if err != nil { return nil, fmt.Errorf("corpus: search page startAt=%d: %w", startAt, err) }
        arr, _ := page["issues"].([]any)
        if len(arr) == 0 { break }
        for _, it := range arr {
            im, _ := it.(map[string]any)
            if im == nil { continue }
            iss, err := ParseIssue(im)
            if err != nil { f.log.Warn().Err(err).Msg("corpus: skipping unparsable issue"); continue }
            if truncated(im) { incomplete = append(incomplete, len(fetched)) }
            fetched = append(fetched, iss)
        }
        total, _ := page["total"].(float64)
        next := startAt + len(arr)
        if total > 0 {
            if float64(next) >= total { break }
        } else if len(arr) < 50 {
            // no total reported: a short page is the only end signal
            break
        }
        startAt = next
    }

    f.completeChangelogs(ctx, fetched, incomplete)

    out := make(map[int64]domain.Issue, len(prev)+len(fetched))
    for id, iss := range prev { out[id] = iss }
    for _, iss := range fetched { out[iss.ID] = iss }
    f.log.Info().Int("fetched", len(fetched)).Int("corpus", len(out)).Str("jql", jql).Msg("corpus fetched")
    return out, nil
}

// truncated reports whether the inline changelog was cut short by the server.
func truncated(im map[string]any) bool {
    ch, _ := im["changelog"].(map[string]any)
    if ch == nil { return false }
    total, _ := ch["total"].(float64)
    hs, _ := ch["histories"].([]any)
    return total > float64(len(hs))
}

// completeChangelogs re-pages full histories for issues whose inline
// changelog was truncated. Issues are independent, so this uses the bounded
// Jira worker pool.
func (f *Fetcher) completeChangelogs(ctx context.Context, issues []domain.Issue, idx []int) {
    if len(idx) == 0 { return }
    workerCount := f.cfg.WorkersJira
    if workerCount <= 0 { workerCount = 6 }
    jobs := make(chan int)
    var wg sync.WaitGroup
    for w := 0; w < workerCount; w++ {
        wg.Add(1)
        go func(){
            defer wg.Done()
            for i := range jobs {
                changes, err := f.fullChangelog(ctx, issues[i].Key)
                if err != nil { f.log.Warn().Err(err).Str("key", issues[i].Key).Msg("corpus: changelog fetch failed"); continue }
                issues[i].Changes = changes
            }
        }()
    }
    for _, i := range idx { jobs <- i }
    close(jobs)
    wg.Wait()
}

func (f *Fetcher) fullChangelog(ctx context.Context, key string) ([]domain.Change, error) {
    var out []domain.Change
    startAt := 0
    for {
        page, err := f.jira.Changelog(ctx, key, startAt, 100)
        if err != nil { return nil, err }
        var hs []any
        if vv, ok := page["values"].([]any); ok { hs = vv } else if vv, ok := page["histories"].([]any); ok { hs = vv }
        if len(hs) == 0 { break }
        out = append(out, ParseHistories(hs)...)
        total, _ := page["total"].(float64)
        next := startAt + len(hs)
        if total > 0 {
            if float64(next) >= total { break }
        } else if len(hs) < 100 {
            break
        }
        startAt = next
    }
    sortChanges(out)
    return out, nil
}
