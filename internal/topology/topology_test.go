package topology

import (
	"strings"
	"testing"

	"redicore/internal/slotkey"
)

func TestBuilderAssignRangeAndLookupSlot(t *testing.T) {
	shard := &Shard{Master: Node{ID: "n1", Role: Master, Host: "h1", Port: 7000}}
	m := NewBuilder().AssignRange(0, 99, shard).Build()

	if got := m.LookupSlot(50); got != shard {
		t.Fatalf("expected slot 50 to resolve to shard, got %+v", got)
	}
	if got := m.LookupSlot(100); got != nil {
		t.Fatalf("expected slot 100 to be unassigned, got %+v", got)
	}
}

func TestBuilderAssignSingleSlot(t *testing.T) {
	shard := &Shard{Master: Node{ID: "n1", Role: Master}}
	m := NewBuilder().Assign(42, shard).Build()
	if m.LookupSlot(42) != shard {
		t.Fatal("expected slot 42 assigned")
	}
	if m.LookupSlot(41) != nil {
		t.Fatal("expected slot 41 to remain unassigned")
	}
}

func TestLookupSlotOnNilMapReturnsNil(t *testing.T) {
	var m *ShardMap
	if got := m.LookupSlot(0); got != nil {
		t.Fatalf("expected nil lookup on nil map, got %+v", got)
	}
}

func TestAllNodesDeduplicatesAcrossSlots(t *testing.T) {
	shard := &Shard{
		Master:   Node{ID: "master1", Role: Master, Host: "h1", Port: 7000},
		Replicas: []Node{{ID: "replica1", Role: Replica, Host: "h2", Port: 7001}},
	}
	m := NewBuilder().AssignRange(0, slotkey.SlotCount-1, shard).Build()

	nodes := m.AllNodes()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 distinct nodes despite every slot pointing at the same shard, got %d", len(nodes))
	}
}

func TestAllNodesAcrossMultipleShards(t *testing.T) {
	shardA := &Shard{Master: Node{ID: "a", Role: Master, Host: "ha", Port: 1}}
	shardB := &Shard{Master: Node{ID: "b", Role: Master, Host: "hb", Port: 2}}
	half := slotkey.Slot(slotkey.SlotCount / 2)
	m := NewBuilder().AssignRange(0, half-1, shardA).AssignRange(half, slotkey.SlotCount-1, shardB).Build()

	nodes := m.AllNodes()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d: %+v", len(nodes), nodes)
	}
}

func TestNodeWithHostPort(t *testing.T) {
	shard := &Shard{Master: Node{ID: "a", Role: Master, Host: "10.0.0.1", Port: 7000}}
	m := NewBuilder().AssignRange(0, slotkey.SlotCount-1, shard).Build()

	n, ok := m.NodeWithHostPort("10.0.0.1", 7000)
	if !ok || n.ID != "a" {
		t.Fatalf("expected to find node a, got %+v ok=%v", n, ok)
	}
	if _, ok := m.NodeWithHostPort("10.0.0.1", 9999); ok {
		t.Fatal("expected no match for wrong port")
	}
}

func TestNodeEqualByIDOnly(t *testing.T) {
	a := Node{ID: "x", Host: "h1", Port: 1}
	b := Node{ID: "x", Host: "h2", Port: 2}
	if !a.Equal(b) {
		t.Fatal("expected nodes with the same ID to be equal regardless of host/port")
	}
}

func TestNodeAddr(t *testing.T) {
	n := Node{Host: "127.0.0.1", Port: 6379}
	if got, want := n.Addr(), "127.0.0.1:6379"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRoleString(t *testing.T) {
	if Master.String() != "master" || Replica.String() != "replica" {
		t.Fatalf("unexpected role strings: %q %q", Master.String(), Replica.String())
	}
}

func TestShardMapStringRendersEveryShardOnce(t *testing.T) {
	shard := &Shard{
		Master:   Node{ID: "m", Role: Master, Host: "h1", Port: 7000},
		Replicas: []Node{{ID: "r", Role: Replica, Host: "h2", Port: 7001}},
	}
	m := NewBuilder().AssignRange(0, slotkey.SlotCount-1, shard).Build()

	s := m.String()
	if strings.Count(s, "master=") != 1 {
		t.Fatalf("expected exactly one master line despite every slot pointing at the same shard, got:\n%s", s)
	}
	if !strings.Contains(s, "replica=h2:7001") {
		t.Fatalf("expected replica address rendered, got:\n%s", s)
	}
}

func TestShardMapStringOnNil(t *testing.T) {
	var m *ShardMap
	if m.String() != "<nil shard map>" {
		t.Fatalf("unexpected nil rendering: %q", m.String())
	}
}
