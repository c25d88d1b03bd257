// Package engine wires the collaborators — membership table, failure
// detector, data store, dispatcher, active gossiper, transport, reaper,
// state refresher, discovery, and persistence — into the single
// composition root a caller constructs and starts, mirroring a classic
// init()/shutdown() lifecycle.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/clock"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/config"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/crdt"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/discovery"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/dispatch"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/failuredetector"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/gerrors"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/gossiper"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/membership"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/persist"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/reaper"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/refresher"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/store"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/tracing"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/transport"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/votelock"
	"go.opentelemetry.io/otel"
)

// GossipEngine is the composition root. Construct one with New, call Start
// once, and Stop when done; Stop is safe to call more than once.
type GossipEngine struct {
	logger *slog.Logger
	cfg    config.EngineConfig
	clock  clock.Clock

	self   model.Member
	selfMu sync.RWMutex

	table      *membership.Table
	store      *store.Store
	fd         *failuredetector.Detector
	dispatcher *dispatch.Dispatcher
	transport  *transport.UDP
	gossip     gossiper.Gossiper
	reaper     *reaper.Reaper
	refresher  *refresher.StateRefresher
	discovery  *discovery.Discovery
	persister  persist.Persister
	locks      *votelock.Manager

	running atomic.Bool

	persistCancel context.CancelFunc
	persistWg     sync.WaitGroup
}

// New validates cfg and wires every collaborator. It does not start any
// background activity; call Start for that.
func New(logger *slog.Logger, cfg config.EngineConfig) (*GossipEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := clock.System{}
	self := model.Member{ClusterName: cfg.ClusterName, NodeId: cfg.NodeId, Endpoint: cfg.Endpoint, Properties: cfg.Properties}

	fd := failuredetector.New(cfg.FailureDetector)
	table := membership.New(logger, fd)
	st := store.New(c)
	disp := dispatch.New(cfg.NodeId, table, st, c.NowNs)

	e := &GossipEngine{
		logger:     logger.With("component", "engine"),
		cfg:        cfg,
		clock:      c,
		self:       self,
		table:      table,
		store:      st,
		fd:         fd,
		dispatcher: disp,
	}

	for _, seed := range cfg.SeedMembers {
		table.Seed(seed)
	}

	e.transport = transport.New(logger, disp)
	sender := transport.NewSender(e.transport)
	e.gossip = gossiper.Build(logger, cfg.Gossiper, table, st, e.Self, c.NowNs, sender)
	e.reaper = reaper.New(logger, c, st, time.Duration(cfg.ReaperPeriodMs)*time.Millisecond)
	e.refresher = refresher.New(logger, fd, table, c.NowNs, time.Duration(cfg.RefresherPeriodMs)*time.Millisecond)
	e.locks = votelock.New(logger, cfg.NodeId, st, table, c.NowMs)

	if cfg.DiscoveryEnabled {
		e.discovery = discovery.New(logger, self)
	}
	if cfg.PersistenceEnabled {
		e.persister = persist.NewFilePersister(cfg.PersistencePath)
	}

	return e, nil
}

// Self returns the local Member with its current heartbeat.
func (e *GossipEngine) Self() model.Member {
	e.selfMu.RLock()
	self := e.self
	e.selfMu.RUnlock()
	self.HeartbeatCounter = e.clock.NowNs()
	return self
}

// Start performs the composition root's init() sequence: optionally
// advertise/browse mDNS, bind the transport endpoint, load a persisted
// snapshot, start the active gossiper's push schedule, then Reaper and
// StateRefresher, then (if enabled) the periodic persistence task.
func (e *GossipEngine) Start(ctx context.Context) error {
	if e.running.Load() {
		return nil
	}

	ctx, span := otel.Tracer(tracing.TracerEngine).Start(ctx, tracing.SpanEngineInit)
	defer span.End()

	if e.discovery != nil {
		if err := e.discovery.Advertise(); err != nil {
			e.logger.Warn("mdns advertise failed", "error", err)
		}
		found, err := e.discovery.Browse(ctx, time.Duration(e.cfg.DiscoveryTimeoutMs)*time.Millisecond)
		if err != nil {
			e.logger.Warn("mdns browse failed", "error", err)
		}
		for _, ep := range found {
			e.table.Seed(model.Member{ClusterName: e.cfg.ClusterName, Endpoint: ep})
		}
	}

	if err := e.transport.StartEndpoint(ctx, e.cfg.Endpoint); err != nil {
		return err
	}

	if e.persister != nil {
		if data, err := e.persister.Load(); err == nil {
			e.restoreSnapshot(data)
		}
	}

	e.transport.StartActiveGossiper(e.gossip)
	e.reaper.Start()
	e.refresher.Start()

	if e.persister != nil {
		e.startPersistenceLoop()
	}

	e.running.Store(true)
	e.logger.Info("engine started", "node", e.cfg.NodeId, "endpoint", e.cfg.Endpoint.String())
	return nil
}

// Stop is the idempotent shutdown() sequence: flips running false, stops
// mDNS discovery, the active gossiper (which drains its worker pool with a
// 5s grace and sends optimistic shutdown notices), the transport, reaper
// and refresher, then cancels the persistence task and waits up to one
// second for it to exit. The lock manager runs no background task and is
// not stopped.
func (e *GossipEngine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}

	_, span := otel.Tracer(tracing.TracerEngine).Start(context.Background(), tracing.SpanEngineStop)
	defer span.End()

	if e.discovery != nil {
		e.discovery.Shutdown()
	}

	e.gossip.Shutdown()
	e.transport.Shutdown()
	e.reaper.Stop()
	e.refresher.Stop()

	if e.persistCancel != nil {
		e.persistCancel()
		done := make(chan struct{})
		go func() { e.persistWg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}
	}

	e.logger.Info("engine stopped", "node", e.cfg.NodeId)
}

func (e *GossipEngine) startPersistenceLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	e.persistCancel = cancel
	e.persistWg.Add(1)
	go func() {
		defer e.persistWg.Done()
		period := time.Duration(e.cfg.PersistencePeriodMs) * time.Millisecond
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.snapshotNow()
			}
		}
	}()
}

// snapshotState is the JSON-serialized form the default FilePersister
// stores; only shared data is durable across restarts, matching the
// original's UserDataPersister scope (ring membership is rediscovered via
// seeds/gossip, not persisted).
type snapshotState struct {
	Shared []model.SharedDatum `json:"shared"`
}

func (e *GossipEngine) snapshotNow() {
	state := snapshotState{Shared: e.store.SnapshotShared()}
	data, err := json.Marshal(state)
	if err != nil {
		e.logger.Error("snapshot marshal failed", "error", err)
		return
	}
	if err := e.persister.Snapshot(data); err != nil {
		e.logger.Error("snapshot write failed", "error", err)
	}
}

func (e *GossipEngine) restoreSnapshot(data []byte) {
	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		e.logger.Error("snapshot restore failed", "error", err)
		return
	}
	for _, d := range state.Shared {
		e.store.AddShared(d)
	}
}

func (e *GossipEngine) requireRunning() error {
	if !e.running.Load() {
		return gerrors.ErrNotRunning
	}
	return nil
}

// GossipPerNodeData stamps NodeId=self and inserts datum into the local
// data store; it is picked up by the active gossiper's next push.
func (e *GossipEngine) GossipPerNodeData(datum model.PerNodeDatum) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	if datum.Key == "" || datum.Timestamp == 0 || datum.Payload == nil {
		return gerrors.InvalidPayload("per-node datum requires Key, Timestamp and Payload")
	}
	datum.NodeId = e.cfg.NodeId
	e.store.AddPerNode(datum)
	return nil
}

// GossipSharedData stamps NodeId=self and inserts datum into the shared
// data store, merging via CRDT semantics if the payload implements one.
func (e *GossipEngine) GossipSharedData(datum model.SharedDatum) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	if datum.Key == "" || datum.Timestamp == 0 || datum.Payload == nil {
		return gerrors.InvalidPayload("shared datum requires Key, Timestamp and Payload")
	}
	datum.NodeId = e.cfg.NodeId
	e.store.AddShared(datum)
	return nil
}

// FindCrdt returns the CRDT payload stored under key, if present,
// unexpired, and CRDT-typed.
func (e *GossipEngine) FindCrdt(key string) (crdt.Crdt, bool) {
	d, ok := e.store.FindShared(key)
	if !ok {
		return nil, false
	}
	c, ok := d.Payload.(crdt.Crdt)
	return c, ok
}

// FindPerNodeGossipData returns nodeId's datum for key, if present and
// unexpired.
func (e *GossipEngine) FindPerNodeGossipData(nodeId, key string) (model.PerNodeDatum, bool) {
	return e.store.FindPerNode(nodeId, key)
}

// FindSharedGossipData returns the shared datum for key, if present and
// unexpired.
func (e *GossipEngine) FindSharedGossipData(key string) (model.SharedDatum, bool) {
	return e.store.FindShared(key)
}

// Merge applies CRDT merge semantics to datum, failing InvalidPayload if
// its payload does not implement crdt.Crdt.
func (e *GossipEngine) Merge(datum model.SharedDatum) (crdt.Crdt, error) {
	if err := e.requireRunning(); err != nil {
		return nil, err
	}
	if _, ok := datum.Payload.(crdt.Crdt); !ok {
		return nil, gerrors.InvalidPayload(fmt.Sprintf("payload for key %q is not a CRDT", datum.Key))
	}
	datum.NodeId = e.cfg.NodeId
	return e.store.Merge(datum), nil
}

// RegisterPerNodeDataSubscriber registers h and returns an unregister func.
func (e *GossipEngine) RegisterPerNodeDataSubscriber(h store.PerNodeSubscriber) func() {
	return e.store.RegisterPerNodeSubscriber(h)
}

// RegisterSharedDataSubscriber registers h and returns an unregister func.
func (e *GossipEngine) RegisterSharedDataSubscriber(h store.SharedSubscriber) func() {
	return e.store.RegisterSharedSubscriber(h)
}

// RegisterGossipListener registers l for membership state transitions and
// returns an unregister func.
func (e *GossipEngine) RegisterGossipListener(l membership.Listener) func() {
	return e.table.Register(l)
}

// LiveMembers returns an ordered snapshot of UP peers.
func (e *GossipEngine) LiveMembers() []model.Member { return e.table.SnapshotLive() }

// DeadMembers returns an ordered snapshot of DOWN peers.
func (e *GossipEngine) DeadMembers() []model.Member { return e.table.SnapshotDead() }

// AcquireLock proposes a gossip vote for lockName, returning VoteFailed if
// quorum is not reached before timeout.
func (e *GossipEngine) AcquireLock(ctx context.Context, lockName string, timeout time.Duration) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	return e.locks.Acquire(ctx, lockName, timeout)
}
