// Package votelock implements the default lock manager: acquiring a named
// lock proposes a vote by adding the local NodeId to a grow-only set CRDT
// stored under a well-known shared-data key, then waits for the set to
// reach quorum over the live membership before declaring the lock held.
//
// Deliberately not built on hashicorp/raft: this lock protocol is a gossip
// vote over shared CRDT state, observed via subscription, not a consensus
// log with leader election.
package votelock

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/crdt"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/gerrors"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/membership"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/store"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/tracing"
)

const lockKeyPrefix = "lock:"

// QuorumFraction is the fraction of live members whose votes must appear in
// the merged GrowSet before a lock is considered acquired.
const QuorumFraction = 0.5

// Manager is the default LockManager: it never blocks the caller's
// goroutine beyond the requested timeout and reports VoteFailed rather than
// panicking or hanging when quorum is unreachable.
type Manager struct {
	logger     *slog.Logger
	selfNodeId string
	store      *store.Store
	table      *membership.Table
	nowMs      func() int64
}

// New creates a Manager.
func New(logger *slog.Logger, selfNodeId string, st *store.Store, table *membership.Table, nowMs func() int64) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "votelock"), selfNodeId: selfNodeId, store: st, table: table, nowMs: nowMs}
}

// Acquire proposes the local vote for lockName and blocks until the merged
// GrowSet reaches quorum over the current live membership, ctx is
// cancelled, or timeout elapses. Returns gerrors.ErrVoteFailed on timeout.
func (m *Manager) Acquire(ctx context.Context, lockName string, timeout time.Duration) error {
	ctx, span := otel.Tracer(tracing.TracerGossiper).Start(ctx, tracing.SpanVoteAcquire)
	defer span.End()

	key := lockKeyPrefix + lockName
	acquired := make(chan struct{}, 1)

	unregister := m.store.RegisterSharedSubscriber(func(k string, _ model.SharedDatum, _ bool, next model.SharedDatum, nextOK bool) {
		if k != key || !nextOK {
			return
		}
		set, ok := next.Payload.(*crdt.GrowSet)
		if !ok {
			return
		}
		if m.hasQuorum(set) {
			select {
			case acquired <- struct{}{}:
			default:
			}
		}
	})
	defer unregister()

	vote := crdt.NewGrowSet(m.selfNodeId)
	merged := m.store.Merge(model.SharedDatum{Key: key, NodeId: m.selfNodeId, Timestamp: m.nowMs(), Payload: vote})
	if set, ok := merged.(*crdt.GrowSet); ok && m.hasQuorum(set) {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-acquired:
		return nil
	case <-waitCtx.Done():
		return gerrors.VoteFailed(lockName)
	}
}

func (m *Manager) hasQuorum(set *crdt.GrowSet) bool {
	live := m.table.SnapshotLive()
	total := len(live) + 1 // live peers plus self
	if total == 0 {
		return false
	}
	votes := 0
	if set.Contains(m.selfNodeId) {
		votes++
	}
	for _, mem := range live {
		if set.Contains(mem.NodeId) {
			votes++
		}
	}
	return float64(votes)/float64(total) >= QuorumFraction
}
