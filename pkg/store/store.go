// Package store holds the per-node and shared payload maps, applying
// last-writer-wins or CRDT merge semantics and fanning out changes to
// subscribers.
package store

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/clock"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/crdt"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/metrics"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/tracing"
)

// PerNodeSubscriber is notified after a per-node entry changes. prev is the
// zero value with ok=false when the key was previously absent.
type PerNodeSubscriber func(key string, prev model.PerNodeDatum, prevOK bool, next model.PerNodeDatum)

// SharedSubscriber is notified after a shared entry changes or is removed
// (next's zero value with nextOK=false signals removal by the reaper).
type SharedSubscriber func(key string, prev model.SharedDatum, prevOK bool, next model.SharedDatum, nextOK bool)

type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex { return &keyedMutex{m: make(map[string]*sync.Mutex)} }

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Store holds per-node data (NodeId -> Key -> PerNodeDatum) and shared data
// (Key -> SharedDatum), each updated under a per-key lock.
type Store struct {
	clock clock.Clock

	perNodeLocks *keyedMutex
	sharedLocks  *keyedMutex

	mu      sync.RWMutex
	perNode map[string]map[string]model.PerNodeDatum
	shared  map[string]model.SharedDatum

	subMu       sync.Mutex
	perNodeSubs []PerNodeSubscriber
	sharedSubs  []SharedSubscriber
}

// New creates an empty Store.
func New(c clock.Clock) *Store {
	return &Store{
		clock:        c,
		perNodeLocks: newKeyedMutex(),
		sharedLocks:  newKeyedMutex(),
		perNode:      make(map[string]map[string]model.PerNodeDatum),
		shared:       make(map[string]model.SharedDatum),
	}
}

// AddPerNode applies last-writer-wins semantics for (NodeId, Key): the
// larger Timestamp wins; equal timestamps are broken by the larger stable
// payload fingerprint. Serialized per (NodeId, Key).
func (s *Store) AddPerNode(d model.PerNodeDatum) {
	lockKey := d.NodeId + "\x00" + d.Key
	unlock := s.perNodeLocks.lock(lockKey)
	defer unlock()

	s.mu.Lock()
	byKey, ok := s.perNode[d.NodeId]
	if !ok {
		byKey = make(map[string]model.PerNodeDatum)
		s.perNode[d.NodeId] = byKey
	}
	prev, prevOK := byKey[d.Key]
	s.mu.Unlock()

	if prevOK && !wins(d.Timestamp, d.Payload, prev.Timestamp, prev.Payload) {
		metrics.RecordDataWrite("per_node", "dropped_stale")
		return
	}

	s.mu.Lock()
	byKey[d.Key] = d
	s.refreshCounts()
	s.mu.Unlock()
	metrics.RecordDataWrite("per_node", "accepted")
	s.notifyPerNode(d.Key, prev, prevOK, d)
}

// AddShared applies CRDT merge when the payload implements crdt.Crdt,
// otherwise last-writer-wins as in AddPerNode. Serialized per Key.
func (s *Store) AddShared(d model.SharedDatum) {
	if _, ok := d.Payload.(crdt.Crdt); ok {
		s.Merge(d)
		return
	}

	unlock := s.sharedLocks.lock(d.Key)
	defer unlock()

	s.mu.Lock()
	prev, prevOK := s.shared[d.Key]
	s.mu.Unlock()

	if prevOK && !wins(d.Timestamp, d.Payload, prev.Timestamp, prev.Payload) {
		metrics.RecordDataWrite("shared", "dropped_stale")
		return
	}

	s.mu.Lock()
	s.shared[d.Key] = d
	s.refreshCounts()
	s.mu.Unlock()
	metrics.RecordDataWrite("shared", "accepted")
	s.notifyShared(d.Key, prev, prevOK, d, true)
}

// Merge combines a CRDT-carrying SharedDatum with the current value under a
// per-key lock: merged = current.Payload.Merge(datum.Payload), stored with
// Timestamp/ExpireAt = max(current, datum). Commutative, associative,
// idempotent, and safe to invoke concurrently — callers impose no ordering.
func (s *Store) Merge(d model.SharedDatum) crdt.Crdt {
	_, span := otel.Tracer(tracing.TracerStore).Start(context.Background(), tracing.SpanStoreMerge)
	defer span.End()

	incoming, ok := d.Payload.(crdt.Crdt)
	if !ok {
		// Not a CRDT payload; fall back to last-writer-wins so Merge is
		// still safe to call directly (used by the engine's public Merge).
		s.AddShared(d)
		if v, ok := s.FindShared(d.Key); ok {
			if c, ok := v.Payload.(crdt.Crdt); ok {
				return c
			}
		}
		return nil
	}

	unlock := s.sharedLocks.lock(d.Key)
	defer unlock()

	s.mu.Lock()
	prev, prevOK := s.shared[d.Key]
	s.mu.Unlock()

	merged := incoming
	ts := d.Timestamp
	expire := d.ExpireAt
	if prevOK {
		if prevCrdt, ok := prev.Payload.(crdt.Crdt); ok {
			merged = prevCrdt.Merge(incoming)
		}
		if prev.Timestamp > ts {
			ts = prev.Timestamp
		}
		expire = maxExpire(prev.ExpireAt, d.ExpireAt)
	}

	next := model.SharedDatum{Key: d.Key, NodeId: d.NodeId, Timestamp: ts, ExpireAt: expire, Payload: merged}
	s.mu.Lock()
	s.shared[d.Key] = next
	s.refreshCounts()
	s.mu.Unlock()
	metrics.RecordDataWrite("shared", "merged")
	s.notifyShared(d.Key, prev, prevOK, next, true)
	return merged
}

func maxExpire(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0 // either side never-expires, so the merge never expires
	}
	if a > b {
		return a
	}
	return b
}

// wins reports whether a candidate (ts, payload) should replace the current
// (curTs, curPayload) under last-writer-wins with fingerprint tie-break.
func wins(ts int64, payload any, curTs int64, curPayload any) bool {
	if ts != curTs {
		return ts > curTs
	}
	return model.Fingerprint(payload) > model.Fingerprint(curPayload)
}

// FindPerNode returns the datum for (nodeId, key) if present and not
// expired.
func (s *Store) FindPerNode(nodeId, key string) (model.PerNodeDatum, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey, ok := s.perNode[nodeId]
	if !ok {
		return model.PerNodeDatum{}, false
	}
	d, ok := byKey[key]
	if !ok || model.Expired(d.ExpireAt, s.clock.NowMs()) {
		return model.PerNodeDatum{}, false
	}
	return d, true
}

// FindShared returns the datum for key if present and not expired.
func (s *Store) FindShared(key string) (model.SharedDatum, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.shared[key]
	if !ok || model.Expired(d.ExpireAt, s.clock.NowMs()) {
		return model.SharedDatum{}, false
	}
	return d, true
}

// SnapshotPerNode returns a shallow copy of one node's data, for outbound
// gossip pushes.
func (s *Store) SnapshotPerNode(nodeId string) []model.PerNodeDatum {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey := s.perNode[nodeId]
	out := make([]model.PerNodeDatum, 0, len(byKey))
	for _, d := range byKey {
		out = append(out, d)
	}
	return out
}

// SnapshotShared returns a shallow copy of the full shared map, for
// outbound gossip pushes.
func (s *Store) SnapshotShared() []model.SharedDatum {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SharedDatum, 0, len(s.shared))
	for _, d := range s.shared {
		out = append(out, d)
	}
	return out
}

// ReapExpired deletes any per-node or shared entry whose ExpireAt has
// passed, notifying subscribers with (old, absent).
func (s *Store) ReapExpired(nowMs int64) {
	s.mu.Lock()
	var perNodeVictims []model.PerNodeDatum
	for nodeId, byKey := range s.perNode {
		for key, d := range byKey {
			if model.Expired(d.ExpireAt, nowMs) {
				delete(byKey, key)
				perNodeVictims = append(perNodeVictims, d)
			}
		}
		_ = nodeId
	}
	var sharedVictims []model.SharedDatum
	for key, d := range s.shared {
		if model.Expired(d.ExpireAt, nowMs) {
			delete(s.shared, key)
			sharedVictims = append(sharedVictims, d)
		}
	}
	s.refreshCounts()
	s.mu.Unlock()

	for _, d := range perNodeVictims {
		metrics.RecordReaperEviction("per_node")
		s.notifyPerNode(d.Key, d, true, model.PerNodeDatum{})
	}
	for _, d := range sharedVictims {
		metrics.RecordReaperEviction("shared")
		s.notifyShared(d.Key, d, true, model.SharedDatum{}, false)
	}
}

// RegisterPerNodeSubscriber registers h and returns an unregister func.
func (s *Store) RegisterPerNodeSubscriber(h PerNodeSubscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := len(s.perNodeSubs)
	s.perNodeSubs = append(s.perNodeSubs, h)
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if id < len(s.perNodeSubs) {
			s.perNodeSubs[id] = nil
		}
	}
}

// RegisterSharedSubscriber registers h and returns an unregister func.
func (s *Store) RegisterSharedSubscriber(h SharedSubscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := len(s.sharedSubs)
	s.sharedSubs = append(s.sharedSubs, h)
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if id < len(s.sharedSubs) {
			s.sharedSubs[id] = nil
		}
	}
}

func (s *Store) notifyPerNode(key string, prev model.PerNodeDatum, prevOK bool, next model.PerNodeDatum) {
	s.subMu.Lock()
	subs := make([]PerNodeSubscriber, len(s.perNodeSubs))
	copy(subs, s.perNodeSubs)
	s.subMu.Unlock()
	for _, h := range subs {
		if h != nil {
			h(key, prev, prevOK, next)
		}
	}
}

func (s *Store) notifyShared(key string, prev model.SharedDatum, prevOK bool, next model.SharedDatum, nextOK bool) {
	s.subMu.Lock()
	subs := make([]SharedSubscriber, len(s.sharedSubs))
	copy(subs, s.sharedSubs)
	s.subMu.Unlock()
	for _, h := range subs {
		if h != nil {
			h(key, prev, prevOK, next, nextOK)
		}
	}
}

// refreshCounts updates the size gauges; callers must hold s.mu.
func (s *Store) refreshCounts() {
	perNodeCount := 0
	for _, byKey := range s.perNode {
		perNodeCount += len(byKey)
	}
	metrics.SetDataEntries("per_node", float64(perNodeCount))
	metrics.SetDataEntries("shared", float64(len(s.shared)))
}
