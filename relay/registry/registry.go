// Package registry tracks which connections belong to which session.
package registry

import (
	"sort"
	"sync"

	"github.com/floegence/snaprelay/relay/protocol"
)

// Member is one connection's session membership.
type Member struct {
	ConnID     string
	Session    string
	Role       protocol.Role
	DeviceName string
	Identity   string

	seq uint64 // Join order within the store.
}

// Info returns the wire form used by peer-joined and peer-left.
func (m Member) Info() protocol.PeerInfo {
	return protocol.PeerInfo{
		Role:       m.Role,
		ClientID:   m.ConnID,
		DeviceName: m.DeviceName,
		ClientUUID: m.Identity,
	}
}

// Store maps sessions to their connected members.
//
// A connection has at most one membership; joining another session moves it.
type Store interface {
	// Join records m and returns the connection's previous membership (if any)
	// plus the other members of m.Session at the time of the join.
	Join(m Member) (previous *Member, others []Member)
	Leave(connID string) (Member, bool)
	Lookup(connID string) (Member, bool)
	Members(session string) []Member
	ByIdentity(session string, identity string) []Member
	ByIdentityAnywhere(identity string) []Member
	SessionCount() int
	Sessions() []string
}

// Memory is an in-memory Store. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	seq      uint64
	conns    map[string]Member
	sessions map[string]map[string]struct{}
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		conns:    make(map[string]Member),
		sessions: make(map[string]map[string]struct{}),
	}
}

func (r *Memory) Join(m Member) (*Member, []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous *Member
	if old, ok := r.conns[m.ConnID]; ok {
		previous = &old
		r.removeLocked(old)
	}
	others := r.membersLocked(m.Session)
	r.seq++
	m.seq = r.seq
	r.conns[m.ConnID] = m
	set := r.sessions[m.Session]
	if set == nil {
		set = make(map[string]struct{})
		r.sessions[m.Session] = set
	}
	set[m.ConnID] = struct{}{}
	return previous, others
}

func (r *Memory) Leave(connID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.conns[connID]
	if !ok {
		return Member{}, false
	}
	r.removeLocked(m)
	return m, true
}

func (r *Memory) removeLocked(m Member) {
	delete(r.conns, m.ConnID)
	if set := r.sessions[m.Session]; set != nil {
		delete(set, m.ConnID)
		if len(set) == 0 {
			delete(r.sessions, m.Session)
		}
	}
}

func (r *Memory) Lookup(connID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.conns[connID]
	return m, ok
}

func (r *Memory) Members(session string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(session)
}

func (r *Memory) membersLocked(session string) []Member {
	set := r.sessions[session]
	if len(set) == 0 {
		return nil
	}
	out := make([]Member, 0, len(set))
	for id := range set {
		out = append(out, r.conns[id])
	}
	sortMembers(out)
	return out
}

func (r *Memory) ByIdentity(session string, identity string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Member
	for id := range r.sessions[session] {
		if m := r.conns[id]; m.Identity == identity {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out
}

func (r *Memory) ByIdentityAnywhere(identity string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Member
	for _, m := range r.conns {
		if m.Identity == identity {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out
}

func (r *Memory) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Memory) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })
}
