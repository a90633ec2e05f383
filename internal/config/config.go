/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
    "log"
    "os"
    "strconv"
    "strings"
    "time"
)

type Config struct {
    AppEnv   string
    TZ       string
    HTTPAddr string

    JiraBaseURL    string
    JiraPAT        string
    JiraUsername   string
    JiraPassword   string
    JiraAPIVersion string
    JiraProjects   []string
    JiraIssueJQL   string

    DoneStatuses       []string
    StartStatuses      []string

    CacheTTL    time.Duration
    SnapshotDSN string
    RefreshCron string

    HTTPTimeout time.Duration
    WorkersJira int
}

func getenv(key, def string) string {
    v := os.Getenv(key)
    if v == "" { return def }
    return v
}

func atoi(key string, def int) int {
    v := os.Getenv(key)
    if v == "" { return def }
    i, err := strconv.Atoi(v)
    if err != nil { return def }
    return i
}

func dur(key string, def time.Duration) time.Duration {
    v := os.Getenv(key)
    if v == "" { return def }
    d, err := time.ParseDuration(v)
    if err != nil { return def }
    return d
}

func parseStrings(csv string) []string {
    if csv == "" { return nil }
    parts := strings.Split(csv, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p == "" { continue }
        out = append(out, p)
    }
    return out
}

func Load() Config {
    cfg := Config{
        AppEnv:   getenv("APP_ENV", "dev"),
        TZ:       getenv("APP_TZ", "UTC"),
        HTTPAddr: getenv("HTTP_ADDR", ":8080"),

        JiraBaseURL:    getenv("JIRA_BASE_URL", ""),
        JiraPAT:        getenv("JIRA_PAT", ""),
        JiraUsername:   getenv("JIRA_USERNAME", ""),
        JiraPassword:   getenv("JIRA_PASSWORD", ""),
        JiraAPIVersion: getenv("JIRA_API_VERSION", "2"),
        JiraProjects:   parseStrings(getenv("JIRA_PROJECTS", "")),
        JiraIssueJQL:   getenv("JIRA_ISSUE_JQL", ""),

        DoneStatuses:       parseStrings(getenv("DONE_STATUSES", "Done,Closed,Resolved")),
        StartStatuses:      parseStrings(getenv("START_STATUSES", "Backlog,To Do,Open")),

        CacheTTL:    dur("CACHE_TTL", 15*time.Minute),
        SnapshotDSN: getenv("SNAPSHOT_DSN", ""),
        RefreshCron: getenv("REFRESH_CRON", "*/30 * * * *"),

        HTTPTimeout: dur("HTTP_TIMEOUT", 30*time.Second),
        WorkersJira: atoi("WORKERS_JIRA", 6),
    }

    // set global timezone if available
    if loc, err := time.LoadLocation(cfg.TZ); err == nil {
        time.Local = loc
    } else {
        log.Printf("warning: cannot load TZ %s: %v", cfg.TZ, err)
    }

    return cfg
}
