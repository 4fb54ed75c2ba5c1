// Package cmdinfo is a read-only lookup from lowercased command name to
// its key-argument positions and read-only flag, built once from
// externally supplied command metadata records.
package cmdinfo

import "strings"

// Info describes one command's routing metadata.
type Info struct {
	Name         string
	KeyPositions []int // 1-based argument positions that hold keys
	ReadOnly     bool
}

// Registry is an immutable lookup table, keyed by lowercased command name.
type Registry struct {
	byName map[string]Info
}

// New builds a Registry from externally supplied records. Later entries
// with the same (case-insensitive) name overwrite earlier ones.
func New(records []Info) *Registry {
	r := &Registry{byName: make(map[string]Info, len(records))}
	for _, rec := range records {
		rec.Name = strings.ToLower(rec.Name)
		r.byName[rec.Name] = rec
	}
	return r
}

// Lookup returns the Info for name (case-insensitive), and whether it was
// found.
func (r *Registry) Lookup(name string) (Info, bool) {
	if r == nil {
		return Info{}, false
	}
	info, ok := r.byName[strings.ToLower(name)]
	return info, ok
}

// KeysForRequest extracts the key arguments named by the command's
// KeyPositions from args (args excludes the command name itself, so
// position 1 means args[0]). Returns (nil, false) for an unknown command,
// which callers must treat as "cannot route".
func (r *Registry) KeysForRequest(name string, args [][]byte) ([][]byte, bool) {
	info, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	if len(info.KeyPositions) == 0 {
		return nil, true
	}
	keys := make([][]byte, 0, len(info.KeyPositions))
	for _, pos := range info.KeyPositions {
		idx := pos - 1
		if idx < 0 || idx >= len(args) {
			continue
		}
		keys = append(keys, args[idx])
	}
	return keys, true
}

// IsReadOnly reports whether name is known to be a read-only command.
// Unknown commands default to false (not read-only), per the routing
// policy's conservative default.
func (r *Registry) IsReadOnly(name string) bool {
	info, ok := r.Lookup(name)
	return ok && info.ReadOnly
}

// Default returns a registry covering the common string, hash, list, set,
// sorted-set and generic commands, plus the MULTI/EXEC/ASKING control
// commands. It is a convenience starting point; production callers
// typically supply their own table sourced from the server's COMMAND
// output.
func Default() *Registry {
	return New([]Info{
		{Name: "get", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "strlen", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "set", KeyPositions: []int{1}},
		{Name: "setnx", KeyPositions: []int{1}},
		{Name: "setex", KeyPositions: []int{1}},
		{Name: "psetex", KeyPositions: []int{1}},
		{Name: "append", KeyPositions: []int{1}},
		{Name: "getset", KeyPositions: []int{1}},
		{Name: "getdel", KeyPositions: []int{1}},
		{Name: "incr", KeyPositions: []int{1}},
		{Name: "decr", KeyPositions: []int{1}},
		{Name: "incrby", KeyPositions: []int{1}},
		{Name: "decrby", KeyPositions: []int{1}},
		{Name: "incrbyfloat", KeyPositions: []int{1}},
		{Name: "mget", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "mset", KeyPositions: []int{1, 3}},
		{Name: "msetnx", KeyPositions: []int{1, 3}},
		{Name: "del", KeyPositions: []int{1}},
		{Name: "unlink", KeyPositions: []int{1}},
		{Name: "exists", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "expire", KeyPositions: []int{1}},
		{Name: "pexpire", KeyPositions: []int{1}},
		{Name: "ttl", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "pttl", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "type", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "dump", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "restore", KeyPositions: []int{1}},
		{Name: "hget", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "hset", KeyPositions: []int{1}},
		{Name: "hsetnx", KeyPositions: []int{1}},
		{Name: "hdel", KeyPositions: []int{1}},
		{Name: "hgetall", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "hmget", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "hmset", KeyPositions: []int{1}},
		{Name: "hincrby", KeyPositions: []int{1}},
		{Name: "hincrbyfloat", KeyPositions: []int{1}},
		{Name: "hexists", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "hkeys", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "hvals", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "hlen", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "lpush", KeyPositions: []int{1}},
		{Name: "rpush", KeyPositions: []int{1}},
		{Name: "lpop", KeyPositions: []int{1}},
		{Name: "rpop", KeyPositions: []int{1}},
		{Name: "lrange", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "llen", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "lindex", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "lset", KeyPositions: []int{1}},
		{Name: "ltrim", KeyPositions: []int{1}},
		{Name: "sadd", KeyPositions: []int{1}},
		{Name: "srem", KeyPositions: []int{1}},
		{Name: "smembers", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "sismember", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "scard", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "zadd", KeyPositions: []int{1}},
		{Name: "zrem", KeyPositions: []int{1}},
		{Name: "zrange", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "zrangebyscore", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "zscore", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "zcard", KeyPositions: []int{1}, ReadOnly: true},
		{Name: "zincrby", KeyPositions: []int{1}},
		{Name: "expireat", KeyPositions: []int{1}},
		{Name: "persist", KeyPositions: []int{1}},
		{Name: "ping", KeyPositions: nil, ReadOnly: true},
		{Name: "asking", KeyPositions: nil},
		{Name: "multi", KeyPositions: nil},
		{Name: "exec", KeyPositions: nil},
		{Name: "discard", KeyPositions: nil},
	})
}
