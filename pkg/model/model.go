// Package model holds the wire-agnostic data types shared by every
// subsystem of the core: membership records and the two payload shapes
// (per-node and shared) that flow through the DataStore.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/crdt"
)

// Reserved Properties keys used by topology-aware gossip rate selection.
const (
	PropertyDatacenter = "datacenter"
	PropertyRack       = "rack"
)

// Endpoint is a reachable address for a Member. Immutable once a peer is
// known.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

func (e Endpoint) String() string {
	if e.Scheme == "" {
		return e.Host + ":" + strconv.Itoa(e.Port)
	}
	return e.Scheme + "://" + e.Host + ":" + strconv.Itoa(e.Port)
}

// Member identifies a peer within a cluster.
type Member struct {
	ClusterName      string            `json:"clusterName"`
	NodeId           string            `json:"nodeId"`
	Endpoint         Endpoint          `json:"endpoint"`
	Properties       map[string]string `json:"properties,omitempty"`
	HeartbeatCounter int64             `json:"heartbeatCounter"`
}

// Less orders members lexicographically on ClusterName, then NodeId, so
// MembershipTable snapshots are reproducible.
func Less(a, b Member) bool {
	if a.ClusterName != b.ClusterName {
		return a.ClusterName < b.ClusterName
	}
	return a.NodeId < b.NodeId
}

// PeerState is UP or DOWN.
type PeerState int

const (
	Down PeerState = iota
	Up
)

func (s PeerState) String() string {
	if s == Up {
		return "UP"
	}
	return "DOWN"
}

// PerNodeDatum is a key-value payload scoped to its originating node,
// uniquely identified by (NodeId, Key).
type PerNodeDatum struct {
	NodeId    string `json:"nodeId"`
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
	ExpireAt  int64  `json:"expireAt,omitempty"` // 0 means never expires
	Payload   any    `json:"payload"`
}

// SharedDatum is a key-value payload whose key space is shared across the
// cluster and may carry a CRDT payload, uniquely identified by Key alone.
type SharedDatum struct {
	Key       string `json:"key"`
	NodeId    string `json:"nodeId"`
	Timestamp int64  `json:"timestamp"`
	ExpireAt  int64  `json:"expireAt,omitempty"`
	Payload   any    `json:"payload"`
}

// sharedDatumWire is SharedDatum's on-the-wire shape. Payload alone isn't
// enough to round-trip a CRDT: json.Unmarshal into an any field always
// produces a map[string]any, never the concrete type, so a CRDT payload
// merged locally would decode on the peer as a plain map and never take the
// crdt.Merge path again. CrdtType tags which concrete type Payload holds,
// the same type-name-plus-json.RawMessage shape protocol.Envelope uses to
// distinguish message kinds on the wire.
type sharedDatumWire struct {
	Key       string          `json:"key"`
	NodeId    string          `json:"nodeId"`
	Timestamp int64           `json:"timestamp"`
	ExpireAt  int64           `json:"expireAt,omitempty"`
	CrdtType  string          `json:"crdtType,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON tags the payload with its CRDT type name, if any, so Decode on
// the receiving process can reconstruct the concrete type.
func (d SharedDatum) MarshalJSON() ([]byte, error) {
	w := sharedDatumWire{Key: d.Key, NodeId: d.NodeId, Timestamp: d.Timestamp, ExpireAt: d.ExpireAt}
	if c, ok := d.Payload.(crdt.Crdt); ok {
		name, ok := crdt.TypeName(c)
		if !ok {
			return nil, fmt.Errorf("model: no wire tag registered for crdt type %T", c)
		}
		w.CrdtType = name
	}
	raw, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("model: marshal shared payload: %w", err)
	}
	w.Payload = raw
	return json.Marshal(w)
}

// UnmarshalJSON reconstructs the concrete CRDT type named by CrdtType, if
// present, instead of leaving Payload as a bare map[string]any.
func (d *SharedDatum) UnmarshalJSON(b []byte) error {
	var w sharedDatumWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	d.Key, d.NodeId, d.Timestamp, d.ExpireAt = w.Key, w.NodeId, w.Timestamp, w.ExpireAt

	if w.CrdtType == "" {
		if len(w.Payload) == 0 {
			d.Payload = nil
			return nil
		}
		var v any
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return fmt.Errorf("model: unmarshal shared payload: %w", err)
		}
		d.Payload = v
		return nil
	}

	c, ok := crdt.FromTypeName(w.CrdtType)
	if !ok {
		return fmt.Errorf("model: unknown crdt wire tag %q", w.CrdtType)
	}
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, c); err != nil {
			return fmt.Errorf("model: unmarshal crdt payload: %w", err)
		}
	}
	d.Payload = c
	return nil
}

// Expired reports whether the datum is unreadable at nowMs. ExpireAt == 0
// means the datum never expires.
func Expired(expireAt, nowMs int64) bool {
	return expireAt != 0 && expireAt <= nowMs
}

// Fingerprint computes a stable content hash used to break timestamp ties
// deterministically: the datum with the lexicographically greater
// fingerprint wins.
func Fingerprint(payload any) uint64 {
	b, err := json.Marshal(canonicalize(payload))
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// canonicalize sorts map keys recursively so structurally-equal payloads
// with different marshal orderings still fingerprint identically.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k, canonicalize(t[k]))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}
