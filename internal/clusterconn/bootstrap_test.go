package clusterconn

import (
	"testing"

	"redicore/internal/respwire"
	"redicore/internal/topology"
)

func intRep(n int64) respwire.Reply {
	return respwire.Reply{Kind: respwire.KindInteger, Int: n}
}

func bulkRep(s string) respwire.Reply {
	return respwire.Reply{Kind: respwire.KindBulk, Bulk: []byte(s), BulkOK: true}
}

func nodeEntry(host string, port int64, id string) respwire.Reply {
	arr := []respwire.Reply{bulkRep(host), intRep(port)}
	if id != "" {
		arr = append(arr, bulkRep(id))
	}
	return respwire.Reply{Kind: respwire.KindArray, ArrayOK: true, Array: arr}
}

func TestParseSlotEntryWithReplica(t *testing.T) {
	entry := respwire.Reply{
		Kind:    respwire.KindArray,
		ArrayOK: true,
		Array: []respwire.Reply{
			intRep(0),
			intRep(5460),
			nodeEntry("10.0.0.1", 7000, "master-id"),
			nodeEntry("10.0.0.2", 7000, "replica-id"),
		},
	}

	shard, start, end, err := parseSlotEntry(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 0 || end != 5460 {
		t.Fatalf("unexpected slot range: %d-%d", start, end)
	}
	if shard.Master.ID != "master-id" || shard.Master.Host != "10.0.0.1" || shard.Master.Port != 7000 {
		t.Fatalf("unexpected master: %+v", shard.Master)
	}
	if shard.Master.Role != topology.Master {
		t.Fatalf("expected master role, got %v", shard.Master.Role)
	}
	if len(shard.Replicas) != 1 || shard.Replicas[0].ID != "replica-id" || shard.Replicas[0].Role != topology.Replica {
		t.Fatalf("unexpected replicas: %+v", shard.Replicas)
	}
}

func TestParseSlotEntryWithoutReplicas(t *testing.T) {
	entry := respwire.Reply{
		Kind:    respwire.KindArray,
		ArrayOK: true,
		Array: []respwire.Reply{
			intRep(5461),
			intRep(10922),
			nodeEntry("10.0.0.3", 7001, ""),
		},
	}

	shard, start, end, err := parseSlotEntry(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != 5461 || end != 10922 {
		t.Fatalf("unexpected slot range: %d-%d", start, end)
	}
	if len(shard.Replicas) != 0 {
		t.Fatalf("expected no replicas, got %+v", shard.Replicas)
	}
	// no explicit node ID falls back to host:port.
	if shard.Master.ID != "10.0.0.3:7001" {
		t.Fatalf("expected synthesized node ID, got %s", shard.Master.ID)
	}
}

func TestParseSlotEntryMalformedFails(t *testing.T) {
	entry := respwire.Reply{Kind: respwire.KindArray, ArrayOK: true, Array: []respwire.Reply{intRep(0)}}
	if _, _, _, err := parseSlotEntry(entry); err == nil {
		t.Fatal("expected error for malformed entry")
	}
}

func TestIntReplyRejectsNonInteger(t *testing.T) {
	if _, err := intReply(bulkRep("nope")); err == nil {
		t.Fatal("expected error for non-integer reply")
	}
}

func TestParseSlotNodeRejectsMalformed(t *testing.T) {
	bad := respwire.Reply{Kind: respwire.KindArray, ArrayOK: true, Array: []respwire.Reply{bulkRep("host-only")}}
	if _, err := parseSlotNode(bad, topology.Master); err == nil {
		t.Fatal("expected error for malformed node entry")
	}
}
