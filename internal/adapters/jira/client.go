/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "os"
    "strings"
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/config"
    "github.com/rs/zerolog"
)

type Client struct {
    baseURL string
    token   string
    basic   string
    user    string
    pass    string
    http    *http.Client
    log     zerolog.Logger
    apiVer  string
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{
        baseURL: cfg.JiraBaseURL,
        token:   cfg.JiraPAT,
        basic:   getenvBasic(),
        user:    cfg.JiraUsername,
        pass:    cfg.JiraPassword,
        http:    &http.Client{ Timeout: cfg.HTTPTimeout },
        log:     log,
        apiVer:  cfg.JiraAPIVersion,
    }
}

// getenvBasic reads JIRA_BASIC_AUTH from environment if present (format: user:pass base64), optional
func getenvBasic() string {
    v := ""
    if s := strings.TrimSpace(os.Getenv("JIRA_BASIC_AUTH")); s != "" { v = s }
    return v
}

func (c *Client) apiURL(path string, q url.Values) string {
    base := strings.TrimRight(c.baseURL, "/")
    if !strings.HasPrefix(path, "/") { path = "/" + path }
    u := base + path
    if q != nil && len(q) > 0 { u = u + "?" + q.Encode() }
    return u
}

func (c *Client) doJSON(ctx context.Context, method, u string, body any) (map[string]any, error) {
    if c.baseURL == "" { return nil, errors.New("jira: empty baseURL") }
    var r io.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { return nil, err }
        r = strings.NewReader(string(b))
    }
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, method, u, r)
        if err != nil { return nil, err }
        if body != nil { req.Header.Set("Content-Type", "application/json") }
        if c.token != "" {
            req.Header.Set("Authorization", "Bearer "+c.token)
        } else if c.user != "" && c.pass != "" {
            req.SetBasicAuth(c.user, c.pass)
        } else if c.basic != "" {
            req.Header.Set("Authorization", "Basic "+c.basic)
        }
        resp, err := c.http.Do(req)
        if err != nil { lastErr = err } else {
            defer resp.Body.Close()
            if resp.StatusCode >= 300 {
                b, _ := io.ReadAll(resp.Body)
                // retry on 429/5xx
                if resp.StatusCode == 429 || resp.StatusCode >= 500 {
                    lastErr = fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
                } else {
                    return nil, fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
                }
            } else {
                var out map[string]any
                if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return nil, err }
                return out, nil
            }
        }
        // backoff
        time.Sleep(time.Duration(300*(1<<attempt)) * time.Millisecond)
    }
    return nil, lastErr
}

// Search runs a JQL query returning one page of issues. The changelog is
// expanded inline; callers page via startAt/maxResults from the response.
func (c *Client) Search(ctx context.Context, jql string, startAt, max int) (map[string]any, error) {
    if jql == "" { return nil, errors.New("jira: empty jql") }
    if c.apiVer == "2" {
        q := url.Values{}
        q.Set("jql", jql)
        if startAt > 0 { q.Set("startAt", fmt.Sprint(startAt)) }
        if max > 0 { q.Set("maxResults", fmt.Sprint(max)) }
        q.Set("fields", "*all")
        q.Set("expand", "changelog")
        u := c.apiURL("/rest/api/2/search", q)
        return c.doJSON(ctx, http.MethodGet, u, nil)
    }
    // default to v3
    body := map[string]any{"jql": jql, "startAt": startAt, "maxResults": max, "expand": []string{"changelog"}}
    u := c.apiURL("/rest/api/3/search", url.Values{"fields": []string{"*all"}})
    return c.doJSON(ctx, http.MethodPost, u, body)
}

// Changelog pages an issue's remaining history when expand=changelog was
// truncated by the server.
func (c *Client) Changelog(ctx context.Context, key string, startAt, max int) (map[string]any, error) {
    if key == "" { return nil, errors.New("jira: empty issue key") }
    q := url.Values{}
    if startAt > 0 { q.Set("startAt", fmt.Sprint(startAt)) }
    if max > 0 { q.Set("maxResults", fmt.Sprint(max)) }
    path := "/rest/api/3/issue/"+url.PathEscape(key)+"/changelog"
    if c.apiVer == "2" { path = "/rest/api/2/issue/"+url.PathEscape(key)+"/changelog" }
    u := c.apiURL(path, q)
    return c.doJSON(ctx, http.MethodGet, u, nil)
}

// Version looks up a fix version / release by numeric id.
func (c *Client) Version(ctx context.Context, id int64) (map[string]any, error) {
    if id <= 0 { return nil, errors.New("jira: invalid version id") }
    path := fmt.Sprintf("/rest/api/3/version/%d", id)
    if c.apiVer == "2" { path = fmt.Sprintf("/rest/api/2/version/%d", id) }
    u := c.apiURL(path, nil)
    return c.doJSON(ctx, http.MethodGet, u, nil)
}

// ProjectVersions lists the versions of a project (release discovery for /search).
func (c *Client) ProjectVersions(ctx context.Context, projectKey string) ([]map[string]any, error) {
    if projectKey == "" { return nil, errors.New("jira: empty project key") }
    path := "/rest/api/3/project/"+url.PathEscape(projectKey)+"/versions"
    if c.apiVer == "2" { path = "/rest/api/2/project/"+url.PathEscape(projectKey)+"/versions" }
    u := c.apiURL(path, nil)
    // this endpoint returns an array; doJSON expects an object
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil { return nil, err }
    if c.token != "" { req.Header.Set("Authorization", "Bearer "+c.token) }
    if c.user != "" && c.pass != "" { req.SetBasicAuth(c.user, c.pass) }
    if c.basic != "" { req.Header.Set("Authorization", "Basic "+c.basic) }
    resp, err := c.http.Do(req)
    if err != nil { return nil, err }
    defer resp.Body.Close()
    if resp.StatusCode >= 300 {
        b, _ := io.ReadAll(resp.Body)
        return nil, fmt.Errorf("jira api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(b)))
    }
    var out []map[string]any
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil { return nil, err }
    return out, nil
}
