/* Copyright (c) 2026 rcjcooke
 * SPDX-License-Identifier: BSD-3-Clause */
package engine

import (
    "time"

    "github.com/rcjcooke/jira-grafana-team-metrics-datasource/internal/domain"
    "github.com/rs/zerolog"
)

// snapshot is the mutable replay-time view of one issue. Relationships are
// held by id through the owning state, never by pointer, so parent moves are
// plain field writes.
type snapshot struct {
    id        int64
    key       string
    typ       domain.IssueType
    size      float64
    resolved  bool
    parentID  int64
    parentKey string
    children  map[int64]struct{}
    versions  map[int64]struct{}
}

// replayState is owned by exactly one replay pass; it is built up event by
// event and discarded afterwards.
type replayState struct {
    byID  map[int64]*snapshot
    byKey map[string]int64

    // issues whose parent pointer referenced a not-yet-created issue,
    // indexed by the awaited parent's id and key
    pendingByID  map[int64][]int64
    pendingByKey map[string][]int64

    totalScope float64
    totalDone  float64

    log zerolog.Logger
}

func newReplayState(log zerolog.Logger) *replayState {
    return &replayState{
        byID:         map[int64]*snapshot{},
        byKey:        map[string]int64{},
        pendingByID:  map[int64][]int64{},
        pendingByKey: map[string][]int64{},
        log:          log,
    }
}

// resolve returns the snapshot a (id, key) reference points at, preferring
// the id. A missing issue (deleted, or outside the corpus) returns nil.
func (st *replayState) resolve(id int64, key string) *snapshot {
    if id != 0 {
        if sn, ok := st.byID[id]; ok { return sn }
    }
    if key != "" {
        if cid, ok := st.byKey[key]; ok { return st.byID[cid] }
    }
    return nil
}

func (st *replayState) parentOf(sn *snapshot) *snapshot {
    if sn.parentID == 0 && sn.parentKey == "" { return nil }
    return st.resolve(sn.parentID, sn.parentKey)
}

// isDescendant walks the parent chain from sn looking for targetID. A
// dangling parent reference terminates the walk: not a descendant.
func (st *replayState) isDescendant(sn *snapshot, targetID int64) bool {
    seen := map[int64]struct{}{sn.id: {}}
    for p := st.parentOf(sn); p != nil; p = st.parentOf(p) {
        if p.id == targetID { return true }
        if _, ok := seen[p.id]; ok { return false }
        seen[p.id] = struct{}{}
    }
    return false
}

// subtreeSize sums the issue's own size and all descendants', own sizes
// gated on resolved when onlyResolved is set.
func (st *replayState) subtreeSize(sn *snapshot, onlyResolved bool) float64 {
    return st.subtree(sn, onlyResolved, map[int64]struct{}{})
}

func (st *replayState) subtree(sn *snapshot, onlyResolved bool, seen map[int64]struct{}) float64 {
    if _, ok := seen[sn.id]; ok { return 0 }
    seen[sn.id] = struct{}{}
    total := 0.0
    if !onlyResolved || sn.resolved { total += sn.size }
    for cid := range sn.children {
        if c, ok := st.byID[cid]; ok { total += st.subtree(c, onlyResolved, seen) }
    }
    return total
}

// contribution is what sn currently adds to (scope, done) for the target.
// Initiative targets count whole subtrees of proper descendants; release
// targets count leaf issues tagged with the release version, own size only,
// so a parent and child both tagged never double-count through hierarchy.
func (st *replayState) contribution(sn *snapshot, target domain.Target) (scope, done float64) {
    if target.Release {
        if !sn.typ.Leaf() { return 0, 0 }
        if _, ok := sn.versions[target.ID]; !ok { return 0, 0 }
        if sn.resolved { return sn.size, sn.size }
        return sn.size, 0
    }
    if !st.isDescendant(sn, target.ID) { return 0, 0 }
    return st.subtreeSize(sn, false), st.subtreeSize(sn, true)
}

// detach removes sn from its current parent's child set and clears the
// parent pointer. Keeping both sides in sync here is what makes subtreeSize
// trustworthy everywhere else.
func (st *replayState) detach(sn *snapshot) {
    if p := st.parentOf(sn); p != nil { delete(p.children, sn.id) }
    sn.parentID, sn.parentKey = 0, ""
}

// link points sn at a new parent reference. If the parent exists both sides
// are wired; otherwise the pointer dangles and sn queues for adoption in
// case the parent's created event arrives later.
func (st *replayState) link(sn *snapshot, parentID int64, parentKey string) {
    sn.parentID, sn.parentKey = parentID, parentKey
    if parentID == 0 && parentKey == "" { return }
    if p := st.resolve(parentID, parentKey); p != nil {
        sn.parentID = p.id
        p.children[sn.id] = struct{}{}
        return
    }
    if parentID != 0 { st.pendingByID[parentID] = append(st.pendingByID[parentID], sn.id) }
    if parentKey != "" { st.pendingByKey[parentKey] = append(st.pendingByKey[parentKey], sn.id) }
}

// adoptPending attaches earlier-created issues that were waiting for sn.
func (st *replayState) adoptPending(sn *snapshot) {
    claim := func(ids []int64) {
        for _, cid := range ids {
            c, ok := st.byID[cid]
            if !ok { continue }
            if c.parentID == sn.id || (c.parentID == 0 && c.parentKey == sn.key) {
                c.parentID = sn.id
                sn.children[cid] = struct{}{}
            }
        }
    }
    claim(st.pendingByID[sn.id])
    claim(st.pendingByKey[sn.key])
    delete(st.pendingByID, sn.id)
    delete(st.pendingByKey, sn.key)
}

// ScopeBurnup is the replay output: two run-length-compressed step
// functions over time plus the instant the computation is valid to.
type ScopeBurnup struct {
    Scope      domain.Series
    Done       domain.Series
    LastUpdate time.Time
}

// ReplayScopeBurnup replays the event log against one target, producing the
// total in-scope size and total completed size over time. One forward pass;
// events after min(window.To, window.Now) are not applied.
func ReplayScopeBurnup(log zerolog.Logger, events []domain.Event, target domain.Target, w domain.Window) ScopeBurnup {
    st := newReplayState(log)
    upper := w.Upper()
    out := ScopeBurnup{LastUpdate: upper}
    var lastScope, lastDone float64 = -1, -1

    for _, ev := range events {
        if ev.At.After(upper) { break }
        st.apply(ev, target)
        if st.totalScope != lastScope {
            out.Scope = append(out.Scope, domain.Point{Value: st.totalScope, At: ev.At})
            lastScope = st.totalScope
        }
        if st.totalDone != lastDone {
            out.Done = append(out.Done, domain.Point{Value: st.totalDone, At: ev.At})
            lastDone = st.totalDone
        }
    }
    out.Scope = append(out.Scope, domain.Point{Value: st.totalScope, At: upper})
    out.Done = append(out.Done, domain.Point{Value: st.totalDone, At: upper})
    return out
}

func (st *replayState) apply(ev domain.Event, target domain.Target) {
    switch ev.Kind {
    case domain.EventCreated:
        sn := &snapshot{
            id:       ev.IssueID,
            key:      ev.Key,
            typ:      ev.Type,
            size:     ev.Size,
            resolved: ev.Resolved,
            children: map[int64]struct{}{},
            versions: map[int64]struct{}{},
        }
        for _, v := range ev.Versions { sn.versions[v] = struct{}{} }
        // measure waiting children while sn is still unresolvable: their
        // dangling parent pointers fail closed here, so the deltas below
        // capture exactly what adoption changes
        pend := append(append([]int64{}, st.pendingByID[sn.id]...), st.pendingByKey[sn.key]...)
        before := make(map[int64][2]float64, len(pend))
        for _, cid := range pend {
            if c, ok := st.byID[cid]; ok {
                s, d := st.contribution(c, target)
                before[cid] = [2]float64{s, d}
            }
        }

        st.byID[sn.id] = sn
        st.byKey[sn.key] = sn.id
        st.link(sn, ev.ParentID, ev.ParentKey)

        // sn's own contribution before adoption: its subtree is just
        // itself, while each adopted child accounts for its own subtree,
        // so no node is counted twice
        ds, dd := st.contribution(sn, target)
        st.adoptPending(sn)
        st.totalScope += ds
        st.totalDone += dd
        for cid, b := range before {
            as, ad := st.contribution(st.byID[cid], target)
            st.totalScope += as - b[0]
            st.totalDone += ad - b[1]
        }

    case domain.EventParentChange:
        sn, ok := st.byID[ev.IssueID]
        if !ok { st.log.Warn().Int64("issue", ev.IssueID).Msg("replay: parent change for unknown issue"); return }
        bs, bd := st.contribution(sn, target)
        st.detach(sn)
        st.link(sn, ev.ParentID, ev.ParentKey)
        as, ad := st.contribution(sn, target)
        st.totalScope += as - bs
        st.totalDone += ad - bd

    case domain.EventSizeChange:
        sn, ok := st.byID[ev.IssueID]
        if !ok { st.log.Warn().Int64("issue", ev.IssueID).Msg("replay: size change for unknown issue"); return }
        delta := ev.ToSize - sn.size
        sn.size = ev.ToSize
        if st.counts(sn, target) {
            st.totalScope += delta
            if sn.resolved { st.totalDone += delta }
        }

    case domain.EventAddChild:
        parent, ok := st.byID[ev.IssueID]
        if !ok { return }
        child := st.resolve(0, ev.ChildKey)
        if child == nil { st.log.Warn().Str("child", ev.ChildKey).Msg("replay: add of unknown child"); return }
        bs, bd := st.contribution(child, target)
        st.detach(child)
        st.link(child, parent.id, parent.key)
        as, ad := st.contribution(child, target)
        st.totalScope += as - bs
        st.totalDone += ad - bd

    case domain.EventRemoveChild:
        parent, ok := st.byID[ev.IssueID]
        if !ok { return }
        child := st.resolve(0, ev.ChildKey)
        if child == nil || st.parentOf(child) != parent { return }
        bs, bd := st.contribution(child, target)
        st.detach(child)
        // version-tagged membership survives the detach, so for release
        // targets this is a structural no-op
        as, ad := st.contribution(child, target)
        st.totalScope += as - bs
        st.totalDone += ad - bd

    case domain.EventAddVersion:
        sn, ok := st.byID[ev.IssueID]
        if !ok { return }
        bs, bd := st.contribution(sn, target)
        sn.versions[ev.VersionID] = struct{}{}
        as, ad := st.contribution(sn, target)
        st.totalScope += as - bs
        st.totalDone += ad - bd

    case domain.EventRemoveVersion:
        sn, ok := st.byID[ev.IssueID]
        if !ok { return }
        bs, bd := st.contribution(sn, target)
        delete(sn.versions, ev.VersionID)
        as, ad := st.contribution(sn, target)
        st.totalScope += as - bs
        st.totalDone += ad - bd

    case domain.EventResolutionChange:
        sn, ok := st.byID[ev.IssueID]
        if !ok { st.log.Warn().Int64("issue", ev.IssueID).Msg("replay: resolution change for unknown issue"); return }
        if sn.resolved == ev.Resolved { return }
        sn.resolved = ev.Resolved
        if st.counts(sn, target) {
            // an issue's done state is its own; parents resolving do not
            // resolve children, so only the issue's own size moves
            if ev.Resolved { st.totalDone += sn.size } else { st.totalDone -= sn.size }
        }
    }
}

// counts reports whether sn currently belongs to the target, without the
// size arithmetic of contribution.
func (st *replayState) counts(sn *snapshot, target domain.Target) bool {
    if target.Release {
        if !sn.typ.Leaf() { return false }
        _, ok := sn.versions[target.ID]
        return ok
    }
    return st.isDescendant(sn, target.ID)
}
