// Package gossiper implements the periodic, topology-aware active push side
// of the protocol: for each of three network tiers (same rack, same
// datacenter, remote) it periodically selects a live partner and pushes
// membership, per-node and shared state, plus a fourth task that pings a
// random dead peer.
//
// base holds the push mechanics (message construction, worker pool,
// shutdown notice) and TopologyAware composes it by delegation to add tier
// filtering and scheduling on top.
package gossiper

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/dispatch"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/membership"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/metrics"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/store"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/tracing"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/workerpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Sender is the narrow transport contract the gossiper pushes through.
// Implementations must not block for long; the actual send happens on the
// worker pool.
type Sender interface {
	SendMembershipList(to model.Endpoint, msg dispatch.MembershipList) error
	SendPerNodeData(to model.Endpoint, msg dispatch.PerNodeData) error
	SendSharedData(to model.Endpoint, msg dispatch.SharedData) error
	SendShutdown(to model.Endpoint, msg dispatch.Shutdown) error
}

// Strategy selects which Gossiper implementation New builds.
type Strategy string

const (
	// StrategyTopologyAware selects TopologyAware: rack/datacenter/remote
	// tiers pushed at independent periods. The default; requires the local
	// member to carry datacenter/rack Properties to see any tier traffic.
	StrategyTopologyAware Strategy = "topology_aware"
	// StrategyFlat selects Flat: a single period, uniform partner selection
	// over the whole live set, ignoring datacenter/rack tags entirely.
	// Suited to single-rack deployments or clusters that never set
	// Properties.
	StrategyFlat Strategy = "flat"
)

// Config carries the gossiper strategy, its period knobs, and worker pool
// sizing.
type Config struct {
	Strategy Strategy

	SameRackMs   int
	SameDcMs     int
	RemoteMs     int
	DeadPeerMs   int
	PoolCapacity int
	MaxWorkers   int

	// FlatPeriodMs is the single push period Flat uses for all three
	// message kinds; ignored by TopologyAware.
	FlatPeriodMs int
}

// DefaultConfig returns conservative defaults for the topology-aware
// strategy and its knobs.
func DefaultConfig() Config {
	return Config{
		Strategy:     StrategyTopologyAware,
		SameRackMs:   100,
		SameDcMs:     500,
		RemoteMs:     1000,
		DeadPeerMs:   250,
		PoolCapacity: 1024,
		MaxWorkers:   30,
		FlatPeriodMs: 500,
	}
}

// Build constructs the Gossiper named by cfg.Strategy, defaulting to
// TopologyAware for the zero value.
func Build(logger *slog.Logger, cfg Config, table *membership.Table, st *store.Store, self func() model.Member, nowNs func() int64, sender Sender) Gossiper {
	if cfg.Strategy == StrategyFlat {
		return NewFlat(logger, cfg.FlatPeriodMs, cfg.DeadPeerMs, table, st, self, nowNs, sender)
	}
	return New(logger, cfg, table, st, self, nowNs, sender)
}

// Gossiper is the capability set the engine holds: any implementation can
// be swapped in by configuration, composed by delegation rather than
// selected through subclassing.
type Gossiper interface {
	Init()
	Shutdown()
}

// selfFunc returns the current local Member; the gossiper stamps the
// heartbeat with Clock.NowNs() itself before every push.
type selfFunc func() model.Member

type kind int

const (
	kindMembership kind = iota
	kindPerNode
	kindShared
)

// base owns the mechanics every ActiveGossiper needs regardless of
// partner-selection policy: message construction, the drop-oldest worker
// pool, and the optimistic shutdown notice. TopologyAware and any future
// strategy compose base by delegation rather than by inheriting from it.
type base struct {
	logger *slog.Logger

	table  *membership.Table
	store  *store.Store
	self   selfFunc
	nowNs  func() int64
	sender Sender

	pool *workerpool.Pool
	rng  *rand.Rand
	rngM sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newBase(logger *slog.Logger, cfg Config, table *membership.Table, st *store.Store, self selfFunc, nowNs func() int64, sender Sender) *base {
	return &base{
		logger: logger,
		table:  table,
		store:  st,
		self:   self,
		nowNs:  nowNs,
		sender: sender,
		pool:   workerpool.New(cfg.PoolCapacity, cfg.MaxWorkers),
		rng:    rand.New(rand.NewSource(1)),
	}
}

func (b *base) schedule(ctx context.Context, periodMs int, task func()) {
	if periodMs <= 0 {
		periodMs = 1000
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(time.Duration(periodMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.pool.Submit(task)
			}
		}
	}()
}

func (b *base) pickRand(n int) int {
	b.rngM.Lock()
	defer b.rngM.Unlock()
	return b.rng.Intn(n)
}

// selectPartner picks one member uniformly at random from a non-empty
// candidate list.
func selectPartner(pick func(n int) int, candidates []model.Member) *model.Member {
	if len(candidates) == 0 {
		return nil
	}
	m := candidates[pick(len(candidates))]
	return &m
}

func (b *base) pushDead(deadPeriodTier string) {
	dead := b.table.SnapshotDead()
	partner := selectPartner(b.pickRand, dead)
	if partner == nil {
		return
	}
	b.pushTo(deadPeriodTier, kindMembership, *partner)
}

func (b *base) pushTo(tier string, k kind, partner model.Member) {
	self := b.self()
	self.HeartbeatCounter = b.nowNs()

	switch k {
	case kindMembership:
		others := membershipSample(b.table, self.NodeId)
		msg := dispatch.MembershipList{Sender: self, SenderHeartbeat: self.HeartbeatCounter, Others: others}
		b.send(tier, "membership", func() error { return b.sender.SendMembershipList(partner.Endpoint, msg) })
	case kindPerNode:
		msg := dispatch.PerNodeData{Entries: b.store.SnapshotPerNode(self.NodeId)}
		b.send(tier, "per_node", func() error { return b.sender.SendPerNodeData(partner.Endpoint, msg) })
	case kindShared:
		msg := dispatch.SharedData{Entries: b.store.SnapshotShared()}
		b.send(tier, "shared", func() error { return b.sender.SendSharedData(partner.Endpoint, msg) })
	}
}

// membershipSample takes a small slice of other known members to piggyback
// on a MembershipList push, excluding the local node.
func membershipSample(table *membership.Table, selfId string) []dispatch.OtherMember {
	all := table.SnapshotAll()
	const maxSample = 5
	out := make([]dispatch.OtherMember, 0, maxSample)
	for _, m := range all {
		if m.NodeId == selfId {
			continue
		}
		out = append(out, dispatch.OtherMember{Member: m, Heartbeat: m.HeartbeatCounter})
		if len(out) >= maxSample {
			break
		}
	}
	return out
}

func (b *base) send(tier, msgKind string, fn func() error) {
	_, span := otel.Tracer(tracing.TracerGossiper).Start(context.Background(), tracing.SpanGossipPush)
	span.SetAttributes(attribute.String("gossip.tier", tier), attribute.String("gossip.kind", msgKind))
	defer span.End()

	metrics.RecordPush(tier, msgKind)
	if err := fn(); err != nil {
		b.logger.Debug("gossip send failed", "tier", tier, "kind", msgKind, "error", err)
	}
}

// shutdown cancels the scheduler, drains the worker pool with a 5-second
// grace, then sends an optimistic Shutdown message to max(1, liveCount/3)
// randomly picked live peers.
func (b *base) shutdown() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.pool.Drain(drainCtx)

	b.sendShutdownMessages()
}

func (b *base) sendShutdownMessages() {
	live := b.table.SnapshotLive()
	if len(live) == 0 {
		return
	}
	sendTo := len(live) / 3
	if sendTo < 1 {
		sendTo = 1
	}
	self := b.self()
	for i := 0; i < sendTo; i++ {
		partner := selectPartner(b.pickRand, live)
		if partner == nil {
			continue
		}
		p := *partner
		if err := b.sender.SendShutdown(p.Endpoint, dispatch.Shutdown{NodeId: self.NodeId}); err != nil {
			b.logger.Debug("shutdown notice failed", "peer", p.NodeId, "error", err)
		}
	}
}

// TopologyAware is the default Gossiper: it schedules ten fixed-delay tasks
// (three per tier x three tiers, plus one dead-peer ping), delegating the
// actual push mechanics to base and adding datacenter/rack-aware partner
// selection on top.
type TopologyAware struct {
	*base
	cfg Config
}

// New builds a TopologyAware gossiper. self must return the local Member
// with an up-to-date Properties map; the gossiper reads datacenter/rack
// tags from it on every tick.
func New(logger *slog.Logger, cfg Config, table *membership.Table, st *store.Store, self selfFunc, nowNs func() int64, sender Sender) *TopologyAware {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopologyAware{
		base: newBase(logger.With("component", "gossiper"), cfg, table, st, self, nowNs, sender),
		cfg:  cfg,
	}
}

// Init schedules the ten periodic tasks: three tiers x three message
// kinds, plus one dead-peer ping.
func (g *TopologyAware) Init() {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	tiers := []struct {
		name     string
		periodMs int
		filter   func(self model.Member, candidate model.Member) bool
	}{
		{"rack", g.cfg.SameRackMs, sameRack},
		{"dc", g.cfg.SameDcMs, sameDcDifferentRack},
		{"remote", g.cfg.RemoteMs, differentDc},
	}

	for _, tier := range tiers {
		tier := tier
		g.schedule(ctx, tier.periodMs, func() { g.pushTier(tier.name, tier.filter, kindMembership) })
		g.schedule(ctx, tier.periodMs, func() { g.pushTier(tier.name, tier.filter, kindPerNode) })
		g.schedule(ctx, tier.periodMs, func() { g.pushTier(tier.name, tier.filter, kindShared) })
	}
	g.schedule(ctx, g.cfg.DeadPeerMs, func() { g.pushDead("dead") })
}

// Shutdown delegates to base.shutdown.
func (g *TopologyAware) Shutdown() { g.shutdown() }

func (g *TopologyAware) pushTier(tier string, filter func(self, candidate model.Member) bool, k kind) {
	self := g.self()
	candidates := g.candidates(self, filter)
	partner := selectPartner(g.pickRand, candidates)
	if partner == nil {
		return
	}
	g.pushTo(tier, k, *partner)
}

// candidates computes the tier's live-member set fresh on every invocation,
// filtered by datacenter/rack Properties. If the local member lacks either
// tag, every tier-filtered set is empty.
func (g *TopologyAware) candidates(self model.Member, filter func(self, candidate model.Member) bool) []model.Member {
	if self.Properties[model.PropertyDatacenter] == "" || self.Properties[model.PropertyRack] == "" {
		return nil
	}
	live := g.table.SnapshotLive()
	out := make([]model.Member, 0, len(live))
	for _, m := range live {
		if filter(self, m) {
			out = append(out, m)
		}
	}
	return out
}

func sameRack(self, candidate model.Member) bool {
	return self.Properties[model.PropertyDatacenter] == candidate.Properties[model.PropertyDatacenter] &&
		self.Properties[model.PropertyRack] == candidate.Properties[model.PropertyRack]
}

func sameDcDifferentRack(self, candidate model.Member) bool {
	return self.Properties[model.PropertyDatacenter] == candidate.Properties[model.PropertyDatacenter] &&
		self.Properties[model.PropertyRack] != candidate.Properties[model.PropertyRack]
}

func differentDc(self, candidate model.Member) bool {
	return self.Properties[model.PropertyDatacenter] != candidate.Properties[model.PropertyDatacenter]
}

// Flat is a non-topology-aware Gossiper: it selects partners uniformly from
// the whole live set on a single period, ignoring datacenter/rack tags.
// Useful for single-tier deployments or tests where topology filtering
// would otherwise starve the schedule.
type Flat struct {
	*base
	periodMs   int
	deadPeriod int
}

// NewFlat builds a Flat gossiper using a single period for all pushes.
func NewFlat(logger *slog.Logger, periodMs, deadPeriodMs int, table *membership.Table, st *store.Store, self selfFunc, nowNs func() int64, sender Sender) *Flat {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Config{PoolCapacity: DefaultConfig().PoolCapacity, MaxWorkers: DefaultConfig().MaxWorkers}
	return &Flat{
		base:       newBase(logger.With("component", "gossiper_flat"), cfg, table, st, self, nowNs, sender),
		periodMs:   periodMs,
		deadPeriod: deadPeriodMs,
	}
}

// Init schedules membership/per-node/shared pushes to a uniformly random
// live peer, plus the dead-peer ping.
func (f *Flat) Init() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.schedule(ctx, f.periodMs, func() { f.pushFlat(kindMembership) })
	f.schedule(ctx, f.periodMs, func() { f.pushFlat(kindPerNode) })
	f.schedule(ctx, f.periodMs, func() { f.pushFlat(kindShared) })
	f.schedule(ctx, f.deadPeriod, func() { f.pushDead("dead") })
}

// Shutdown delegates to base.shutdown.
func (f *Flat) Shutdown() { f.shutdown() }

func (f *Flat) pushFlat(k kind) {
	live := f.table.SnapshotLive()
	partner := selectPartner(f.pickRand, live)
	if partner == nil {
		return
	}
	f.pushTo("flat", k, *partner)
}
