// Package router computes, for one command, which NodeConn must serve it:
// extract keys, map to slots, enforce single-slot, and pick master or
// replica according to the read-only policy.
package router

import (
	"strings"

	"redicore/internal/clienterr"
	"redicore/internal/cmdinfo"
	"redicore/internal/nodeconn"
	"redicore/internal/slotkey"
	"redicore/internal/topology"
)

// Request is one command: the command name plus its arguments, as raw
// byte strings ready for RESP encoding.
type Request struct {
	Name string
	Args [][]byte // excludes the command name
}

// FullArgs returns the command name followed by its arguments, the shape
// nodeconn.RequestNode expects.
func (r Request) FullArgs() [][]byte {
	out := make([][]byte, 0, len(r.Args)+1)
	out = append(out, []byte(r.Name))
	out = append(out, r.Args...)
	return out
}

// Nodes is the lookup the router needs from the owning Connection: the
// live NodeConn table keyed by NodeID.
type Nodes interface {
	Lookup(id topology.NodeID) (*nodeconn.NodeConn, bool)
}

// Route resolves req to the NodeConn that must serve it, given the
// current shard map, command-info registry, and the client's read-only
// preference. MULTI/EXEC are special-cased: their second token is the
// routing key, bypassing the info map, reflecting how a transaction is
// pinned to a single slot by the caller.
func Route(nodes Nodes, shardMap *topology.ShardMap, info *cmdinfo.Registry, readOnly bool, req Request) (*nodeconn.NodeConn, error) {
	keys, err := routingKeys(info, req)
	if err != nil {
		return nil, err
	}

	shards := make(map[topology.NodeID]*topology.Shard)
	for _, key := range keys {
		slot := slotkey.KeyToSlot(key)
		shard := shardMap.LookupSlot(slot)
		if shard == nil {
			continue
		}
		shards[shard.Master.ID] = shard
	}

	switch len(shards) {
	case 0:
		return nil, clienterr.New(clienterr.MissingNode, "no shard owns the routed key(s)")
	case 1:
		var shard *topology.Shard
		for _, s := range shards {
			shard = s
		}
		node := pickNode(shard, readOnly, info.IsReadOnly(req.Name))
		nc, ok := nodes.Lookup(node.ID)
		if !ok {
			return nil, clienterr.New(clienterr.MissingNode, "no connection for node "+node.Addr())
		}
		return nc, nil
	default:
		return nil, clienterr.New(clienterr.CrossSlot, "request's keys hash to more than one shard")
	}
}

// pickNode implements the deterministic master-or-replica selection
// policy: no round-robin, always the first replica when one applies.
func pickNode(shard *topology.Shard, readOnly, cmdReadOnly bool) topology.Node {
	if !readOnly {
		return shard.Master
	}
	if len(shard.Replicas) == 0 {
		return shard.Master
	}
	if !cmdReadOnly {
		return shard.Master
	}
	return shard.Replicas[0]
}

// routingKeys extracts the routing keys for req, handling the MULTI/EXEC
// override. An empty keys list from a known command fails fast with
// UnsupportedCommand, not a silent empty route.
func routingKeys(info *cmdinfo.Registry, req Request) ([][]byte, error) {
	upper := strings.ToUpper(req.Name)
	if upper == "MULTI" || upper == "EXEC" {
		if len(req.Args) < 1 {
			return nil, clienterr.New(clienterr.UnsupportedCommand, upper+" submitted without a pin key")
		}
		return [][]byte{req.Args[0]}, nil
	}

	keys, ok := info.KeysForRequest(req.Name, req.Args)
	if !ok {
		return nil, clienterr.New(clienterr.UnsupportedCommand, "unknown command "+req.Name)
	}
	if len(keys) == 0 {
		return nil, clienterr.New(clienterr.UnsupportedCommand, "command "+req.Name+" has no routing keys")
	}
	return keys, nil
}
