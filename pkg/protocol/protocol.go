// Package protocol implements the JSON wire codec for the four gossip
// message kinds. Wire compatibility across versions is not a goal; this
// codec exists so the module ships a runnable transport, not to fix a wire
// format for interop with any other implementation.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/dispatch"
)

// Kind names the four message kinds carried in an Envelope.
type Kind string

const (
	KindMembershipList Kind = "membership_list"
	KindPerNodeData    Kind = "per_node_data"
	KindSharedData     Kind = "shared_data"
	KindShutdown       Kind = "shutdown"
)

// Envelope wraps a message body with its kind tag so the receiver can
// dispatch decoding without out-of-band framing.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Encode marshals msg (one of the dispatch package's four message structs)
// into an Envelope-framed byte slice.
func Encode(msg any) ([]byte, error) {
	var kind Kind
	switch msg.(type) {
	case dispatch.MembershipList:
		kind = KindMembershipList
	case dispatch.PerNodeData:
		kind = KindPerNodeData
	case dispatch.SharedData:
		kind = KindSharedData
	case dispatch.Shutdown:
		kind = KindShutdown
	default:
		return nil, fmt.Errorf("protocol: unsupported message type %T", msg)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode body: %w", err)
	}
	return json.Marshal(Envelope{Kind: kind, Body: body})
}

// Handler receives decoded messages: Decode unmarshals an Envelope-framed
// byte slice and dispatches into exactly one of its methods. Handler mirrors
// dispatch.Dispatcher so Decode never depends on the concrete type, keeping the codec
// reusable against any dispatcher-shaped receiver (tests use a fake).
type Handler interface {
	HandleMembershipList(dispatch.MembershipList)
	HandlePerNodeData(dispatch.PerNodeData)
	HandleSharedData(dispatch.SharedData)
	HandleShutdown(dispatch.Shutdown)
}

// Decode parses raw and delivers the decoded message to h. Malformed input
// is reported as an error and never delivered.
func Decode(raw []byte, h Handler) error {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("protocol: decode envelope: %w", err)
	}
	switch env.Kind {
	case KindMembershipList:
		var msg dispatch.MembershipList
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return fmt.Errorf("protocol: decode membership_list: %w", err)
		}
		h.HandleMembershipList(msg)
	case KindPerNodeData:
		var msg dispatch.PerNodeData
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return fmt.Errorf("protocol: decode per_node_data: %w", err)
		}
		h.HandlePerNodeData(msg)
	case KindSharedData:
		var msg dispatch.SharedData
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return fmt.Errorf("protocol: decode shared_data: %w", err)
		}
		h.HandleSharedData(msg)
	case KindShutdown:
		var msg dispatch.Shutdown
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			return fmt.Errorf("protocol: decode shutdown: %w", err)
		}
		h.HandleShutdown(msg)
	default:
		return fmt.Errorf("protocol: unknown message kind %q", env.Kind)
	}
	return nil
}
