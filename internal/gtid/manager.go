package gtid

import (
	"fmt"
	"sync"
)

// Manager tracks GTID allocation and application state under a single
// mutex (spec.md §4.10). On a primary, getGTIDForPrimary/noteLiveGTIDDone
// drive liveGTIDs and minLiveGTID; on a secondary applying a replication
// stream, noteGTIDAdded/noteApplyingGTID/noteGTIDApplied drive
// unappliedGTIDs and minUnappliedGTID. Invariant violations are programmer
// error (spec.md §7) and panic rather than return an error.
type Manager struct {
	mu sync.Mutex

	nextLiveGTID GTID
	minLiveGTID  GTID
	liveGTIDs    map[GTID]struct{}

	nextUnappliedGTID GTID
	minUnappliedGTID  GTID
	unappliedGTIDs    map[GTID]struct{}
}

// NewManager starts a manager that has most recently issued lastGTID; the
// next allocation advances GTSeqNo within the same primary term. Use
// ResetManager instead when stepping up as a new primary.
func NewManager(lastGTID GTID) *Manager {
	next := lastGTID.inc()
	return &Manager{
		nextLiveGTID: next,
		minLiveGTID:  next,
		liveGTIDs:    make(map[GTID]struct{}),

		nextUnappliedGTID: next,
		minUnappliedGTID:  next,
		unappliedGTIDs:    make(map[GTID]struct{}),
	}
}

// GetGTIDForPrimary allocates the next GTID on a primary: snapshot
// nextLiveGTID, mark it in-flight, advance nextLiveGTID, return the
// snapshot.
func (m *Manager) GetGTIDForPrimary() GTID {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := m.nextLiveGTID
	m.liveGTIDs[g] = struct{}{}
	m.nextLiveGTID = g.inc()
	return g
}

// NoteLiveGTIDDone marks g as committed on a primary, removing it from
// liveGTIDs and, if g was the minimum in-flight GTID, recomputing
// minLiveGTID (and mirroring it to minUnappliedGTID, since a primary has
// no separate apply stream).
func (m *Manager) NoteLiveGTIDDone(g GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.Less(m.minLiveGTID) {
		panic(fmt.Sprintf("gtid: invariant violated: noteLiveGTIDDone(%v) < minLiveGTID %v", g, m.minLiveGTID))
	}
	if len(m.liveGTIDs) == 0 {
		panic(fmt.Sprintf("gtid: invariant violated: noteLiveGTIDDone(%v) with no live GTIDs", g))
	}
	if _, ok := m.liveGTIDs[g]; !ok {
		panic(fmt.Sprintf("gtid: invariant violated: noteLiveGTIDDone(%v) not found in liveGTIDs", g))
	}

	delete(m.liveGTIDs, g)

	if g.Equal(m.minLiveGTID) {
		m.minLiveGTID = m.minOfLive()
		m.minUnappliedGTID = m.minLiveGTID
	}
}

func (m *Manager) minOfLive() GTID {
	if len(m.liveGTIDs) == 0 {
		return m.nextLiveGTID
	}
	first := true
	var min GTID
	for g := range m.liveGTIDs {
		if first || g.Less(min) {
			min = g
			first = false
		}
	}
	return min
}

// NoteGTIDAdded records g as the most recently seen GTID on a secondary
// that is not itself allocating (no in-flight set). Requires no GTID is
// currently in flight and g is not behind the current frontier.
func (m *Manager) NoteGTIDAdded(g GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.nextLiveGTID.Equal(m.minLiveGTID) {
		panic(fmt.Sprintf("gtid: invariant violated: noteGTIDAdded(%v) while GTIDs are in flight", g))
	}
	if g.Less(m.nextLiveGTID) {
		panic(fmt.Sprintf("gtid: invariant violated: noteGTIDAdded(%v) behind nextLiveGTID %v", g, m.nextLiveGTID))
	}

	m.nextLiveGTID = g
	m.minLiveGTID = g
}

// NoteApplyingGTID records that g has begun applying on a secondary.
func (m *Manager) NoteApplyingGTID(g GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.LessEqual(m.minUnappliedGTID) {
		panic(fmt.Sprintf("gtid: invariant violated: noteApplyingGTID(%v) <= minUnappliedGTID %v", g, m.minUnappliedGTID))
	}
	if g.Less(m.nextUnappliedGTID) {
		panic(fmt.Sprintf("gtid: invariant violated: noteApplyingGTID(%v) < nextUnappliedGTID %v", g, m.nextUnappliedGTID))
	}

	if len(m.unappliedGTIDs) == 0 {
		m.minUnappliedGTID = g
	}
	m.unappliedGTIDs[g] = struct{}{}
	m.nextUnappliedGTID = g.inc()
}

// NoteGTIDApplied marks g as applied on a secondary, symmetric to
// NoteLiveGTIDDone on the unapplied set.
func (m *Manager) NoteGTIDApplied(g GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.Less(m.minUnappliedGTID) {
		panic(fmt.Sprintf("gtid: invariant violated: noteGTIDApplied(%v) < minUnappliedGTID %v", g, m.minUnappliedGTID))
	}
	if len(m.unappliedGTIDs) == 0 {
		panic(fmt.Sprintf("gtid: invariant violated: noteGTIDApplied(%v) with no unapplied GTIDs", g))
	}
	if _, ok := m.unappliedGTIDs[g]; !ok {
		panic(fmt.Sprintf("gtid: invariant violated: noteGTIDApplied(%v) not found in unappliedGTIDs", g))
	}

	delete(m.unappliedGTIDs, g)

	if g.Equal(m.minUnappliedGTID) {
		m.minUnappliedGTID = m.minOfUnapplied()
	}
}

func (m *Manager) minOfUnapplied() GTID {
	if len(m.unappliedGTIDs) == 0 {
		return m.nextUnappliedGTID
	}
	first := true
	var min GTID
	for g := range m.unappliedGTIDs {
		if first || g.Less(min) {
			min = g
			first = false
		}
	}
	return min
}

// GetMins returns a consistent snapshot of the two watermarks, taken under
// the manager's lock.
func (m *Manager) GetMins() (minLive, minUnapplied GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minLiveGTID, m.minUnappliedGTID
}

// ResetManager reinitializes the manager for a primary step-up: requires
// liveGTIDs be empty, and advances past lastGTID into a new primary term.
// It deliberately leaves unappliedGTIDs/minUnappliedGTID untouched —
// unapplied bookkeeping is orthogonal to primary step-up events (spec.md
// §9 Open Question).
func (m *Manager) ResetManager(lastGTID GTID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.liveGTIDs) != 0 {
		panic("gtid: invariant violated: resetManager called with live GTIDs outstanding")
	}

	next := lastGTID.incPrimary()
	m.nextLiveGTID = next
	m.minLiveGTID = next
}
