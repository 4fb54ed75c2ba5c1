// Package topology holds the immutable shard-map snapshot: the total
// mapping from hash slot to shard (one master plus zero or more replicas).
package topology

import (
	"fmt"
	"net"
	"strconv"

	"redicore/internal/slotkey"
)

// Role is the kind of a cluster node.
type Role int

const (
	Master Role = iota
	Replica
)

func (r Role) String() string {
	if r == Master {
		return "master"
	}
	return "replica"
}

// NodeID is the comparable identity of a Node, derived from its ID bytes.
// Node equality and ordering are defined by ID alone.
type NodeID string

// Node describes one cluster member.
type Node struct {
	ID   NodeID
	Role Role
	Host string
	Port uint16
}

// Addr renders host:port.
func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(int(n.Port)))
}

// Equal compares nodes by ID alone.
func (n Node) Equal(other Node) bool {
	return n.ID == other.ID
}

// Shard is a master and its replicas. Invariant: Master.Role == Master and
// every entry in Replicas has Role == Replica.
type Shard struct {
	Master   Node
	Replicas []Node
}

// ShardMap is an immutable total mapping from hash slot to shard. It is
// replaced wholesale on topology refresh, never mutated in place.
type ShardMap struct {
	bySlot [slotkey.SlotCount]*Shard
}

// Builder accumulates slot assignments before producing an immutable
// ShardMap. Using a builder keeps ShardMap itself free of mutation methods.
type Builder struct {
	m ShardMap
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AssignRange maps every slot in [start, end] (inclusive) to shard.
func (b *Builder) AssignRange(start, end slotkey.Slot, shard *Shard) *Builder {
	for s := start; s <= end; s++ {
		b.m.bySlot[s] = shard
	}
	return b
}

// Assign maps a single slot to shard.
func (b *Builder) Assign(slot slotkey.Slot, shard *Shard) *Builder {
	b.m.bySlot[slot] = shard
	return b
}

// Build finalizes the map. The returned value must not be mutated by the
// caller; ShardMap is shared by pointer across goroutines.
func (b *Builder) Build() *ShardMap {
	built := b.m
	return &built
}

// LookupSlot returns the shard owning slot, or nil if the slot is
// currently unassigned (a gap permitted only during transient
// reconfiguration; callers should treat a miss as "refresh needed").
func (m *ShardMap) LookupSlot(slot slotkey.Slot) *Shard {
	if m == nil {
		return nil
	}
	return m.bySlot[slot]
}

// AllNodes returns every master and replica across the map, deduplicated
// by NodeID.
func (m *ShardMap) AllNodes() []Node {
	if m == nil {
		return nil
	}
	seen := make(map[NodeID]struct{})
	var out []Node
	add := func(n Node) {
		if _, ok := seen[n.ID]; ok {
			return
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	for _, shard := range m.bySlot {
		if shard == nil {
			continue
		}
		add(shard.Master)
		for _, r := range shard.Replicas {
			add(r)
		}
	}
	return out
}

// NodeWithHostPort finds a known node by host:port. Linear search is
// acceptable here: this is only called on ASK redirection, never on the
// command hot path.
func (m *ShardMap) NodeWithHostPort(host string, port uint16) (Node, bool) {
	for _, n := range m.AllNodes() {
		if n.Host == host && n.Port == port {
			return n, true
		}
	}
	return Node{}, false
}

// String renders a compact one-line-per-shard summary, used by the CLI's
// "topology" subcommand.
func (m *ShardMap) String() string {
	if m == nil {
		return "<nil shard map>"
	}
	seen := make(map[NodeID]*Shard)
	for _, shard := range m.bySlot {
		if shard == nil {
			continue
		}
		seen[shard.Master.ID] = shard
	}
	out := ""
	for _, shard := range seen {
		out += fmt.Sprintf("master=%s", shard.Master.Addr())
		for _, r := range shard.Replicas {
			out += fmt.Sprintf(" replica=%s", r.Addr())
		}
		out += "\n"
	}
	return out
}
