package membership

import (
	"sync"
	"testing"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/failuredetector"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
)

func newTestTable() *Table {
	fd := failuredetector.New(failuredetector.Config{WindowSize: 10, MinimumSamples: 2, Distribution: failuredetector.Exponential, ConvictThreshold: 8})
	return New(nil, fd)
}

func TestSeedNeverOverwrites(t *testing.T) {
	tbl := newTestTable()
	m := model.Member{NodeId: "a", Endpoint: model.Endpoint{Host: "10.0.0.1", Port: 1}}
	tbl.Seed(m)
	tbl.Seed(model.Member{NodeId: "a", Endpoint: model.Endpoint{Host: "10.0.0.2", Port: 2}})

	got, state, ok := tbl.Get("a")
	if !ok {
		t.Fatal("expected seeded member to exist")
	}
	if state != model.Down {
		t.Fatalf("state = %v, want Down for a freshly seeded member", state)
	}
	if got.Endpoint.Host != "10.0.0.1" {
		t.Fatalf("Seed overwrote an existing entry: got host %q", got.Endpoint.Host)
	}
}

func TestUpsertFromHeartbeatIgnoresStale(t *testing.T) {
	tbl := newTestTable()
	m := model.Member{NodeId: "a", Endpoint: model.Endpoint{Host: "10.0.0.1", Port: 1}}
	tbl.UpsertFromHeartbeat(m, 100, 1)
	tbl.UpsertFromHeartbeat(model.Member{NodeId: "a", Endpoint: model.Endpoint{Host: "10.0.0.9", Port: 9}}, 50, 2)

	got, _, _ := tbl.Get("a")
	if got.HeartbeatCounter != 100 || got.Endpoint.Host != "10.0.0.1" {
		t.Fatalf("stale heartbeat was applied: got %+v", got)
	}
}

func TestUpsertFromHeartbeatAppliesNewer(t *testing.T) {
	tbl := newTestTable()
	m := model.Member{NodeId: "a", Endpoint: model.Endpoint{Host: "10.0.0.1", Port: 1}}
	tbl.UpsertFromHeartbeat(m, 100, 1)
	tbl.UpsertFromHeartbeat(model.Member{NodeId: "a", Endpoint: model.Endpoint{Host: "10.0.0.9", Port: 9}}, 200, 2)

	got, _, _ := tbl.Get("a")
	if got.HeartbeatCounter != 200 || got.Endpoint.Host != "10.0.0.9" {
		t.Fatalf("newer heartbeat was not applied: got %+v", got)
	}
}

func TestSetStateNotifiesListeners(t *testing.T) {
	tbl := newTestTable()
	tbl.Seed(model.Member{NodeId: "a"})

	var mu sync.Mutex
	var transitions []model.PeerState
	tbl.Register(func(_ model.Member, state model.PeerState) {
		mu.Lock()
		transitions = append(transitions, state)
		mu.Unlock()
	})

	tbl.SetState("a", model.Up)
	tbl.SetState("a", model.Up) // no-op, state unchanged
	tbl.SetState("a", model.Down)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 || transitions[0] != model.Up || transitions[1] != model.Down {
		t.Fatalf("transitions = %v, want [Up Down]", transitions)
	}
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	tbl := newTestTable()
	tbl.Seed(model.Member{NodeId: "a"})

	var called bool
	tbl.Register(func(model.Member, model.PeerState) { panic("boom") })
	tbl.Register(func(model.Member, model.PeerState) { called = true })

	tbl.SetState("a", model.Up)

	if !called {
		t.Fatal("second listener was not invoked after the first panicked")
	}
}

func TestSnapshotsAreOrdered(t *testing.T) {
	tbl := newTestTable()
	tbl.Seed(model.Member{NodeId: "c"})
	tbl.Seed(model.Member{NodeId: "a"})
	tbl.Seed(model.Member{NodeId: "b"})

	all := tbl.SnapshotAll()
	if len(all) != 3 || all[0].NodeId != "a" || all[1].NodeId != "b" || all[2].NodeId != "c" {
		t.Fatalf("SnapshotAll not lexicographically ordered: %+v", all)
	}
}

func TestUnregisterStopsNotifications(t *testing.T) {
	tbl := newTestTable()
	tbl.Seed(model.Member{NodeId: "a"})

	count := 0
	unregister := tbl.Register(func(model.Member, model.PeerState) { count++ })
	unregister()

	tbl.SetState("a", model.Up)
	if count != 0 {
		t.Fatalf("unregistered listener was still invoked, count = %d", count)
	}
}
