// Package approval classifies peer identities per session into approved,
// pending, or rejected, and applies decisions made by approved peers.
//
// The first identity admitted to a session with no approved member becomes
// approved without any decision. This bootstraps session ownership; it is a
// convention between cooperating devices, not an authentication mechanism.
package approval

import (
	"errors"
	"sort"
	"sync"

	"github.com/floegence/snaprelay/relay/protocol"
)

var (
	ErrNotApproved     = errors.New("actor is not approved")
	ErrInvalidDecision = errors.New("invalid decision")
)

// Entry is one identity's status in a snapshot.
type Entry struct {
	Identity string
	Status   protocol.Status
}

// Store holds approval state for every session.
type Store interface {
	// Classify admits identity into session and returns its resulting status.
	// changed is true when the identity was new or its status moved.
	Classify(session string, identity string) (status protocol.Status, changed bool)
	// Decide applies actor's decision about target. Decisions from actors that
	// are not approved fail with ErrNotApproved and change nothing.
	Decide(session string, actor string, target string, d protocol.Decision) (protocol.Status, error)
	Status(session string, identity string) (protocol.Status, bool)
	// Snapshot lists every known identity in first-seen order.
	Snapshot(session string) []Entry
	Forget(session string)
	Sessions() []string
}

type record struct {
	status protocol.Status
	seq    uint64
}

type sessionState struct {
	ids      map[string]*record
	approved int
}

// Memory is an in-memory Store. It is safe for concurrent use.
//
// Each identity maps to exactly one status, so an identity can never be in
// two sets at once.
type Memory struct {
	mu       sync.Mutex
	seq      uint64
	sessions map[string]*sessionState
}

// NewMemory returns an empty approval store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*sessionState)}
}

func (m *Memory) stateLocked(session string) *sessionState {
	st := m.sessions[session]
	if st == nil {
		st = &sessionState{ids: make(map[string]*record)}
		m.sessions[session] = st
	}
	return st
}

func (st *sessionState) set(r *record, s protocol.Status) {
	if r.status == protocol.StatusApproved {
		st.approved--
	}
	if s == protocol.StatusApproved {
		st.approved++
	}
	r.status = s
}

func (m *Memory) Classify(session string, identity string) (protocol.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateLocked(session)
	r := st.ids[identity]
	if r != nil {
		switch r.status {
		case protocol.StatusApproved, protocol.StatusRejected:
			return r.status, false
		}
		if st.approved == 0 {
			st.set(r, protocol.StatusApproved)
			return r.status, true
		}
		return r.status, false
	}
	m.seq++
	r = &record{seq: m.seq}
	st.ids[identity] = r
	if st.approved == 0 {
		st.set(r, protocol.StatusApproved)
	} else {
		st.set(r, protocol.StatusPending)
	}
	return r.status, true
}

func (m *Memory) Decide(session string, actor string, target string, d protocol.Decision) (protocol.Status, error) {
	var next protocol.Status
	switch d {
	case protocol.DecisionApprove:
		next = protocol.StatusApproved
	case protocol.DecisionReject, protocol.DecisionRejectOffer:
		next = protocol.StatusRejected
	default:
		return "", ErrInvalidDecision
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.sessions[session]
	if st == nil {
		return "", ErrNotApproved
	}
	if a := st.ids[actor]; a == nil || a.status != protocol.StatusApproved {
		return "", ErrNotApproved
	}
	r := st.ids[target]
	if r == nil {
		m.seq++
		r = &record{seq: m.seq}
		st.ids[target] = r
	}
	st.set(r, next)
	return next, nil
}

func (m *Memory) Status(session string, identity string) (protocol.Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.sessions[session]
	if st == nil {
		return "", false
	}
	r := st.ids[identity]
	if r == nil {
		return "", false
	}
	return r.status, true
}

func (m *Memory) Snapshot(session string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.sessions[session]
	if st == nil {
		return nil
	}
	type row struct {
		Entry
		seq uint64
	}
	rows := make([]row, 0, len(st.ids))
	for id, r := range st.ids {
		rows = append(rows, row{Entry: Entry{Identity: id, Status: r.status}, seq: r.seq})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = r.Entry
	}
	return out
}

func (m *Memory) Forget(session string) {
	m.mu.Lock()
	delete(m.sessions, session)
	m.mu.Unlock()
}

func (m *Memory) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for s := range m.sessions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
