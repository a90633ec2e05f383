package domain

import (
    "encoding/json"
    "math"
    "time"
)

type IssueType string

const (
    TypeInitiative IssueType = "Initiative"
    TypeEpic       IssueType = "Epic"
    TypeStory      IssueType = "Story"
    TypeBug        IssueType = "Bug"
)

// Leaf reports whether issues of this type carry countable work (stories and
// bugs); epics and initiatives are structural containers.
func (t IssueType) Leaf() bool { return t == TypeStory || t == TypeBug }

type Issue struct {
    ID         int64
    Key        string
    Project    string
    Type       IssueType
    Size       *float64
    Status     string
    Resolution string
    Created    time.Time
    Updated    time.Time
    ParentID   int64
    ParentKey  string
    Versions   []int64
    Changes    []Change
}

// Change is one field transition from an issue's changelog, oldest-first in
// Issue.Changes. From/To are display strings, FromID/ToID the raw ids Jira
// reports alongside (version and parent references need the ids).
type Change struct {
    At     time.Time
    Field  string
    From   string
    FromID string
    To     string
    ToID   string
}

type EventKind uint8

const (
    EventCreated EventKind = iota
    EventParentChange
    EventSizeChange
    EventAddChild
    EventRemoveChild
    EventAddVersion
    EventRemoveVersion
    EventResolutionChange
)

func (k EventKind) String() string {
    switch k {
    case EventCreated: return "created"
    case EventParentChange: return "parentChange"
    case EventSizeChange: return "sizeChange"
    case EventAddChild: return "addChild"
    case EventRemoveChild: return "removeChild"
    case EventAddVersion: return "addVersion"
    case EventRemoveVersion: return "removeVersion"
    case EventResolutionChange: return "resolutionChange"
    }
    return "unknown"
}

// Event is one atomic fact derived from an issue's creation or changelog.
// Which payload fields are meaningful depends on Kind; the rest stay zero.
type Event struct {
    At      time.Time
    IssueID int64
    Kind    EventKind

    // created
    Key      string
    Type     IssueType
    Size     float64
    Resolved bool
    Versions []int64

    // created, parentChange
    ParentID  int64
    ParentKey string

    // sizeChange
    FromSize float64
    ToSize   float64

    // addChild, removeChild
    ChildKey string

    // addVersion, removeVersion
    VersionID int64
}

// Window bounds one metric request. Now is wall time at request arrival,
// From/To the display range, Interval the requested sample step.
type Window struct {
    Now      time.Time
    From     time.Time
    To       time.Time
    Interval time.Duration
}

// Upper is the effective end of any computation: min(To, Now).
func (w Window) Upper() time.Time {
    if w.To.Before(w.Now) { return w.To }
    return w.Now
}

type Point struct {
    Value float64
    At    time.Time
}

// MarshalJSON renders the Grafana datapoint pair [value, epochMillis].
// NaN values (no data) become null rather than a fabricated number.
func (p Point) MarshalJSON() ([]byte, error) {
    ms := p.At.UnixMilli()
    if math.IsNaN(p.Value) {
        return json.Marshal([2]any{nil, ms})
    }
    return json.Marshal([2]any{p.Value, ms})
}

type Series []Point

// Last returns the value of the final point, or NaN for an empty series.
func (s Series) Last() float64 {
    if len(s) == 0 { return math.NaN() }
    return s[len(s)-1].Value
}

// Target identifies what a scope/burnup replay counts against: an initiative
// issue id (hierarchy membership) or a release/version id (tag membership).
type Target struct {
    ID      int64
    Release bool
}

type VelocityBounds struct {
    Max float64
    Cur float64
    Min float64
}
