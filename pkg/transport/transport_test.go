package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/crdt"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/dispatch"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/protocol"
)

type recordingHandler struct {
	shutdown chan dispatch.Shutdown
	shared   chan dispatch.SharedData
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		shutdown: make(chan dispatch.Shutdown, 1),
		shared:   make(chan dispatch.SharedData, 1),
	}
}

func (h *recordingHandler) HandleMembershipList(dispatch.MembershipList) {}
func (h *recordingHandler) HandlePerNodeData(dispatch.PerNodeData)       {}
func (h *recordingHandler) HandleSharedData(msg dispatch.SharedData) {
	select {
	case h.shared <- msg:
	default:
	}
}
func (h *recordingHandler) HandleShutdown(msg dispatch.Shutdown) {
	select {
	case h.shutdown <- msg:
	default:
	}
}

// boundEndpoint binds a UDP transport to an ephemeral local port and returns
// the endpoint it is actually listening on.
func boundEndpoint(t *testing.T, u *UDP) model.Endpoint {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := u.StartEndpoint(ctx, model.Endpoint{Host: "127.0.0.1", Port: 0}); err != nil {
		t.Fatalf("StartEndpoint: %v", err)
	}
	t.Cleanup(u.Shutdown)
	return model.Endpoint{Host: "127.0.0.1", Port: u.conn.LocalAddr().(*net.UDPAddr).Port}
}

func TestSendDeliversDecodedMessageToHandler(t *testing.T) {
	handler := newRecordingHandler()
	receiver := New(nil, handler)
	receiverEp := boundEndpoint(t, receiver)

	sender := New(nil, newRecordingHandler())
	boundEndpoint(t, sender)

	payload, err := protocol.Encode(dispatch.Shutdown{NodeId: "n1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := sender.Send(receiverEp, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-handler.shutdown:
		if msg.NodeId != "n1" {
			t.Fatalf("NodeId = %q, want n1", msg.NodeId)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not decode the sent message in time")
	}
}

func TestSenderAdapterEncodesAndSends(t *testing.T) {
	handler := newRecordingHandler()
	receiver := New(nil, handler)
	receiverEp := boundEndpoint(t, receiver)

	sender := New(nil, newRecordingHandler())
	boundEndpoint(t, sender)

	adapter := NewSender(sender)
	if err := adapter.SendShutdown(receiverEp, dispatch.Shutdown{NodeId: "n2"}); err != nil {
		t.Fatalf("SendShutdown: %v", err)
	}

	select {
	case msg := <-handler.shutdown:
		if msg.NodeId != "n2" {
			t.Fatalf("NodeId = %q, want n2", msg.NodeId)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not decode the sent message in time")
	}
}

func TestSendDeliversCrdtSharedDatumIntactOverTheWire(t *testing.T) {
	handler := newRecordingHandler()
	receiver := New(nil, handler)
	receiverEp := boundEndpoint(t, receiver)

	sender := New(nil, newRecordingHandler())
	boundEndpoint(t, sender)

	payload, err := protocol.Encode(dispatch.SharedData{Entries: []model.SharedDatum{
		{Key: "lock:resource", Timestamp: 1, Payload: crdt.NewGrowSet("x", "y")},
	}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := sender.Send(receiverEp, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-handler.shared:
		if len(msg.Entries) != 1 {
			t.Fatalf("got %d entries, want 1", len(msg.Entries))
		}
		set, ok := msg.Entries[0].Payload.(*crdt.GrowSet)
		if !ok {
			t.Fatalf("Payload decoded as %T, want *crdt.GrowSet so the receiver's store.AddShared takes the merge path", msg.Entries[0].Payload)
		}
		if !set.Contains("x") || !set.Contains("y") {
			t.Fatalf("decoded GrowSet missing elements: %v", set.Slice())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not decode the sent message in time")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	u := New(nil, newRecordingHandler())
	boundEndpoint(t, u)
	u.Shutdown()
	u.Shutdown()
}
