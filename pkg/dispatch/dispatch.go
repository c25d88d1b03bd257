// Package dispatch routes decoded inbound messages to the membership table
// and data store. It performs no I/O and is reentrant and thread-safe.
package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/membership"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/store"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/tracing"
)

// OtherMember is one entry in a MembershipList message's optional gossip of
// third-party members.
type OtherMember struct {
	Member    model.Member
	Heartbeat int64
}

// MembershipList carries the sender's own Member/heartbeat plus, optionally,
// a small list of other members the sender has learned of.
type MembershipList struct {
	Sender          model.Member
	SenderHeartbeat int64
	Others          []OtherMember
}

// PerNodeData carries a batch of per-node data entries.
type PerNodeData struct {
	Entries []model.PerNodeDatum
}

// SharedData carries a batch of shared data entries.
type SharedData struct {
	Entries []model.SharedDatum
}

// Shutdown is an optimistic notice that NodeId is going away.
type Shutdown struct {
	NodeId string
}

// Dispatcher mutates MembershipTable and Store in response to decoded
// inbound messages.
type Dispatcher struct {
	selfNodeId string
	table      *membership.Table
	store      *store.Store
	nowNs      func() int64
}

// New creates a Dispatcher. nowNs supplies the monotonic clock used to
// timestamp accepted heartbeats.
func New(selfNodeId string, table *membership.Table, st *store.Store, nowNs func() int64) *Dispatcher {
	return &Dispatcher{selfNodeId: selfNodeId, table: table, store: st, nowNs: nowNs}
}

// HandleMembershipList upserts the sender and any other members carried in
// the message, ignoring an entry for the local node's own id.
func (d *Dispatcher) HandleMembershipList(msg MembershipList) {
	_, span := d.startApply("membership_list")
	defer span.End()

	now := d.nowNs()
	if msg.Sender.NodeId != d.selfNodeId {
		d.table.UpsertFromHeartbeat(msg.Sender, msg.SenderHeartbeat, now)
	}
	for _, o := range msg.Others {
		if o.Member.NodeId == d.selfNodeId {
			continue
		}
		d.table.UpsertFromHeartbeat(o.Member, o.Heartbeat, now)
	}
}

// HandlePerNodeData applies each entry via Store.AddPerNode.
func (d *Dispatcher) HandlePerNodeData(msg PerNodeData) {
	_, span := d.startApply("per_node_data")
	defer span.End()

	for _, e := range msg.Entries {
		d.store.AddPerNode(e)
	}
}

// HandleSharedData applies each entry via Store.AddShared, which internally
// dispatches to CRDT merge when the payload is a CRDT.
func (d *Dispatcher) HandleSharedData(msg SharedData) {
	_, span := d.startApply("shared_data")
	defer span.End()

	for _, e := range msg.Entries {
		d.store.AddShared(e)
	}
}

// HandleShutdown forces the named peer to DOWN immediately, bypassing the
// failure detector. Optimistic: not required for correctness.
func (d *Dispatcher) HandleShutdown(msg Shutdown) {
	_, span := d.startApply("shutdown")
	defer span.End()

	if msg.NodeId == d.selfNodeId {
		return
	}
	d.table.SetState(msg.NodeId, model.Down)
}

func (d *Dispatcher) startApply(kind string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracing.TracerEngine).Start(context.Background(), tracing.SpanDispatchApply)
	span.SetAttributes(attribute.String("dispatch.kind", kind))
	return ctx, span
}
