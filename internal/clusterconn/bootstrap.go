package clusterconn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"redicore/internal/clienterr"
	"redicore/internal/nodeconn"
	"redicore/internal/respwire"
	"redicore/internal/slotkey"
	"redicore/internal/topology"
)

// DialTCP is the default OpenSocket: a plain TCP dial bounded by timeout.
func DialTCP(ctx context.Context, host string, port uint16, timeout time.Duration) (nodeconn.Transport, error) {
	d := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// FetchShardMap is the default RefreshShardMap: it issues CLUSTER SLOTS on
// an already connected node and builds a ShardMap from the reply.
//
// CLUSTER SLOTS replies with one array entry per contiguous slot range:
// [start, end, [master_ip, master_port, master_id, ...], [replica_ip,
// replica_port, replica_id, ...], ...]. A standalone server (no cluster
// support) returns an empty array, which FetchShardMap rejects as
// MissingNode — this client has nothing to route against without slots.
func FetchShardMap(nc *nodeconn.NodeConn) (*topology.ShardMap, error) {
	replies, err := nc.RequestNode(context.Background(), [][][]byte{
		{[]byte("CLUSTER"), []byte("SLOTS")},
	}, 5*time.Second)
	if err != nil {
		return nil, err
	}
	reply := replies[0]
	if reply.IsError() {
		return nil, clienterr.New(clienterr.MissingNode, "CLUSTER SLOTS failed: "+reply.ErrText)
	}
	if reply.Kind != respwire.KindArray || !reply.ArrayOK || len(reply.Array) == 0 {
		return nil, clienterr.New(clienterr.MissingNode, "CLUSTER SLOTS returned no slot ranges")
	}

	builder := topology.NewBuilder()
	for _, entry := range reply.Array {
		shard, start, end, err := parseSlotEntry(entry)
		if err != nil {
			return nil, clienterr.Wrap(clienterr.MissingNode, "parsing CLUSTER SLOTS reply", err)
		}
		builder.AssignRange(start, end, shard)
	}
	return builder.Build(), nil
}

func parseSlotEntry(entry respwire.Reply) (shard *topology.Shard, start, end slotkey.Slot, err error) {
	if entry.Kind != respwire.KindArray || len(entry.Array) < 3 {
		return nil, 0, 0, fmt.Errorf("malformed slot range entry")
	}
	startSlot, err := intReply(entry.Array[0])
	if err != nil {
		return nil, 0, 0, err
	}
	endSlot, err := intReply(entry.Array[1])
	if err != nil {
		return nil, 0, 0, err
	}
	master, err := parseSlotNode(entry.Array[2], topology.Master)
	if err != nil {
		return nil, 0, 0, err
	}
	s := &topology.Shard{Master: master}
	for _, r := range entry.Array[3:] {
		replica, err := parseSlotNode(r, topology.Replica)
		if err != nil {
			return nil, 0, 0, err
		}
		s.Replicas = append(s.Replicas, replica)
	}
	return s, slotkey.Slot(startSlot), slotkey.Slot(endSlot), nil
}

func intReply(r respwire.Reply) (int, error) {
	if r.Kind != respwire.KindInteger {
		return 0, fmt.Errorf("expected integer, got kind %d", r.Kind)
	}
	return int(r.Int), nil
}

func parseSlotNode(r respwire.Reply, role topology.Role) (topology.Node, error) {
	if r.Kind != respwire.KindArray || len(r.Array) < 2 {
		return topology.Node{}, fmt.Errorf("malformed node entry")
	}
	if r.Array[0].Kind != respwire.KindBulk {
		return topology.Node{}, fmt.Errorf("expected bulk host")
	}
	host := string(r.Array[0].Bulk)
	port, err := intReply(r.Array[1])
	if err != nil {
		return topology.Node{}, err
	}
	id := topology.NodeID(host + ":" + strconv.Itoa(port))
	if len(r.Array) >= 3 && r.Array[2].Kind == respwire.KindBulk {
		id = topology.NodeID(r.Array[2].Bulk)
	}
	return topology.Node{ID: id, Role: role, Host: host, Port: uint16(port)}, nil
}
