// Package membership holds the ordered peer -> state map and fans out
// UP/DOWN transitions to registered listeners.
package membership

import (
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/failuredetector"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/metrics"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
)

// Listener is notified of a peer's state transition.
type Listener func(member model.Member, state model.PeerState)

type entry struct {
	member model.Member
	state  model.PeerState
}

// Table holds the ordered mapping of remote Member -> PeerState. The local
// member is never present here; it is carried separately by the engine.
type Table struct {
	logger *slog.Logger
	fd     *failuredetector.Detector

	mu        sync.RWMutex
	entries   map[string]*entry // keyed by NodeId
	listeners []Listener
	listenMu  sync.Mutex
}

// New creates a Table backed by the given failure detector, whose Report is
// invoked on every accepted heartbeat.
func New(logger *slog.Logger, fd *failuredetector.Detector) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		logger:  logger.With("component", "membership"),
		fd:      fd,
		entries: make(map[string]*entry),
	}
}

// Seed inserts a member as DOWN if absent, used at bootstrap for the
// configured seed list. It never overwrites an existing entry.
func (t *Table) Seed(m model.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[m.NodeId]; ok {
		return
	}
	t.entries[m.NodeId] = &entry{member: m, state: model.Down}
	t.refreshCounts()
}

// UpsertFromHeartbeat applies an inbound heartbeat. A newly learned peer is
// inserted as DOWN. An existing peer's HeartbeatCounter and Properties are
// only replaced when the inbound heartbeat strictly exceeds the stored
// value; an equal-or-stale heartbeat is ignored. On acceptance the failure
// detector observes the arrival.
func (t *Table) UpsertFromHeartbeat(m model.Member, heartbeat int64, nowNs int64) {
	t.mu.Lock()
	e, ok := t.entries[m.NodeId]
	if !ok {
		m.HeartbeatCounter = heartbeat
		t.entries[m.NodeId] = &entry{member: m, state: model.Down}
		t.refreshCounts()
		t.mu.Unlock()
		if t.fd != nil {
			t.fd.Report(m.NodeId, nowNs)
		}
		return
	}
	if heartbeat <= e.member.HeartbeatCounter {
		t.mu.Unlock()
		metrics.RecordHeartbeatIgnored()
		return
	}
	e.member.HeartbeatCounter = heartbeat
	if !maps.Equal(e.member.Properties, m.Properties) {
		e.member.Properties = m.Properties
	}
	e.member.Endpoint = m.Endpoint
	t.mu.Unlock()
	if t.fd != nil {
		t.fd.Report(m.NodeId, nowNs)
	}
}

// SetState transitions nodeId to the new state, notifying listeners if the
// state actually changed. It is a no-op for unknown peers. Used both by
// StateRefresher (accrual-driven) and by MessageDispatcher's Shutdown
// handling (bypasses the failure detector entirely).
func (t *Table) SetState(nodeId string, state model.PeerState) {
	t.mu.Lock()
	e, ok := t.entries[nodeId]
	if !ok || e.state == state {
		t.mu.Unlock()
		return
	}
	e.state = state
	member := e.member
	t.refreshCounts()
	t.mu.Unlock()
	t.notify(member, state)
}

// Get returns the member and state for nodeId, if known.
func (t *Table) Get(nodeId string) (model.Member, model.PeerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[nodeId]
	if !ok {
		return model.Member{}, model.Down, false
	}
	return e.member, e.state, true
}

// SnapshotLive returns an ordered, immutable copy of UP members.
func (t *Table) SnapshotLive() []model.Member { return t.snapshot(model.Up) }

// SnapshotDead returns an ordered, immutable copy of DOWN members.
func (t *Table) SnapshotDead() []model.Member { return t.snapshot(model.Down) }

// SnapshotAll returns an ordered, immutable copy of every known peer
// regardless of state.
func (t *Table) SnapshotAll() []model.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Member, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.member)
	}
	sort.Slice(out, func(i, j int) bool { return model.Less(out[i], out[j]) })
	return out
}

func (t *Table) snapshot(want model.PeerState) []model.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Member, 0, len(t.entries))
	for _, e := range t.entries {
		if e.state == want {
			out = append(out, e.member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return model.Less(out[i], out[j]) })
	return out
}

// AllNodeIds returns every known NodeId, used by StateRefresher to iterate
// without holding the table lock.
func (t *Table) AllNodeIds() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.entries))
	for id := range t.entries {
		out = append(out, id)
	}
	return out
}

// Register adds a listener invoked on every state transition and returns a
// func that unregisters it. Listeners run sequentially per registered
// handler; a panic from one listener is recovered, logged, and does not
// affect the others.
func (t *Table) Register(l Listener) (unregister func()) {
	t.listenMu.Lock()
	defer t.listenMu.Unlock()
	id := len(t.listeners)
	t.listeners = append(t.listeners, l)
	return func() {
		t.listenMu.Lock()
		defer t.listenMu.Unlock()
		if id < len(t.listeners) {
			t.listeners[id] = nil
		}
	}
}

func (t *Table) notify(member model.Member, state model.PeerState) {
	metrics.RecordMembershipTransition(state.String())
	t.listenMu.Lock()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.listenMu.Unlock()
	for _, l := range listeners {
		if l == nil {
			continue
		}
		safeCall(t.logger, l, member, state)
	}
}

func safeCall(logger *slog.Logger, l Listener, member model.Member, state model.PeerState) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("membership listener panicked", "recover", r, "node", member.NodeId)
		}
	}()
	l(member, state)
}

// refreshCounts updates the UP/DOWN gauges; callers must hold t.mu.
func (t *Table) refreshCounts() {
	var up, down int
	for _, e := range t.entries {
		if e.state == model.Up {
			up++
		} else {
			down++
		}
	}
	metrics.SetMembershipCount("up", float64(up))
	metrics.SetMembershipCount("down", float64(down))
}
