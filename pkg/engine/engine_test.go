package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/config"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/crdt"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/gerrors"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
)

func newTestConfig(t *testing.T, nodeId string) config.EngineConfig {
	t.Helper()
	cfg := config.DefaultEngineConfig()
	cfg.ClusterName = "test-cluster"
	cfg.NodeId = nodeId
	cfg.Endpoint = model.Endpoint{Scheme: "udp", Host: "127.0.0.1", Port: 0}
	cfg.ReaperPeriodMs = 20
	cfg.RefresherPeriodMs = 20
	cfg.Gossiper.SameRackMs = 10
	cfg.Gossiper.SameDcMs = 10
	cfg.Gossiper.RemoteMs = 10
	cfg.Gossiper.DeadPeerMs = 10
	cfg.Gossiper.FlatPeriodMs = 10
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(nil, config.EngineConfig{}); err == nil {
		t.Fatal("expected New to reject a config missing required fields")
	}
}

func TestStartStopIsIdempotent(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	e.Stop()
	e.Stop() // must not panic or block
}

func TestGossipPerNodeDataRequiresRunning(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = e.GossipPerNodeData(model.PerNodeDatum{Key: "k", Timestamp: 1, Payload: "v"})
	if !errors.Is(err, gerrors.ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning before Start", err)
	}
}

func TestGossipPerNodeDataRejectsInvalidPayload(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	err = e.GossipPerNodeData(model.PerNodeDatum{Key: "", Timestamp: 1, Payload: "v"})
	if !errors.Is(err, gerrors.ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload for a missing key", err)
	}
}

func TestGossipPerNodeDataStampsNodeIdAndIsReadable(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if err := e.GossipPerNodeData(model.PerNodeDatum{Key: "k", Timestamp: 1, Payload: "v"}); err != nil {
		t.Fatalf("GossipPerNodeData: %v", err)
	}
	got, ok := e.FindPerNodeGossipData("n1", "k")
	if !ok || got.NodeId != "n1" || got.Payload != "v" {
		t.Fatalf("got %+v, ok=%v", got, ok)
	}
}

func TestMergeRejectsNonCrdtPayload(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	_, err = e.Merge(model.SharedDatum{Key: "k", Timestamp: 1, Payload: "not a crdt"})
	if !errors.Is(err, gerrors.ErrInvalidPayload) {
		t.Fatalf("err = %v, want ErrInvalidPayload", err)
	}
}

func TestMergeAppliesCrdtSemantics(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if _, err := e.Merge(model.SharedDatum{Key: "k", Timestamp: 1, Payload: crdt.NewGrowSet("a")}); err != nil {
		t.Fatalf("Merge 1: %v", err)
	}
	merged, err := e.Merge(model.SharedDatum{Key: "k", Timestamp: 1, Payload: crdt.NewGrowSet("b")})
	if err != nil {
		t.Fatalf("Merge 2: %v", err)
	}
	set := merged.(*crdt.GrowSet)
	if !set.Contains("a") || !set.Contains("b") {
		t.Fatalf("merged set missing elements: %v", set.Slice())
	}
}

func TestLiveAndDeadMembersReflectSeeds(t *testing.T) {
	cfg := newTestConfig(t, "n1")
	cfg.SeedMembers = []model.Member{{ClusterName: cfg.ClusterName, NodeId: "seed", Endpoint: model.Endpoint{Host: "127.0.0.1", Port: 1}}}
	e, err := New(nil, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	dead := e.DeadMembers()
	if len(dead) != 1 || dead[0].NodeId != "seed" {
		t.Fatalf("dead = %+v, want the seed to start DOWN", dead)
	}
	if live := e.LiveMembers(); len(live) != 0 {
		t.Fatalf("live = %+v, want none before any heartbeat is observed", live)
	}
}

func TestSelfReflectsConfiguredIdentity(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	self := e.Self()
	if self.NodeId != "n1" || self.ClusterName != "test-cluster" {
		t.Fatalf("Self() = %+v", self)
	}
}

func TestRegisterGossipListenerFiresOnStateChange(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	fired := make(chan model.PeerState, 1)
	unregister := e.RegisterGossipListener(func(_ model.Member, state model.PeerState) {
		select {
		case fired <- state:
		default:
		}
	})
	defer unregister()

	e.table.Seed(model.Member{NodeId: "peer"})
	e.table.SetState("peer", model.Up)

	select {
	case state := <-fired:
		if state != model.Up {
			t.Fatalf("state = %v, want Up", state)
		}
	case <-time.After(time.Second):
		t.Fatal("listener was not invoked")
	}
}

func TestAcquireLockRequiresRunning(t *testing.T) {
	e, err := New(nil, newTestConfig(t, "n1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = e.AcquireLock(context.Background(), "resource", 10*time.Millisecond)
	if !errors.Is(err, gerrors.ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning before Start", err)
	}
}
