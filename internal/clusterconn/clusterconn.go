// Package clusterconn ties the routing and pipelining core together:
// it owns the live node-connection table, the current ShardMap snapshot,
// and the pipeline generation cell, and implements evaluate() — routing
// each buffered request to a NodeConn, dispatching per-node batches with
// a retry-on-alternate-node fault boundary, and running the MOVED/ASK
// redirection passes described by the router and pipeline components.
package clusterconn

import (
	"context"
	"strconv"
	"sync"
	"time"

	"redicore/internal/clienterr"
	"redicore/internal/cmdinfo"
	"redicore/internal/config"
	"redicore/internal/lockguard"
	"redicore/internal/logging"
	"redicore/internal/nodeconn"
	"redicore/internal/respwire"
	"redicore/internal/router"
	"redicore/internal/rpipeline"
	"redicore/internal/topology"
	"redicore/internal/tracecap"
)

// completed pairs one group's reply with the submission index it must
// land at in the final, oldest-first reply vector.
type completed struct {
	index int
	reply respwire.Reply
}

// OpenSocket dials a node, returning a Transport the Connection will wrap
// in a NodeConn. Supplied externally so this package never imports "net"
// directly.
type OpenSocket func(ctx context.Context, host string, port uint16, timeout time.Duration) (nodeconn.Transport, error)

// RefreshShardMap fetches a fresh topology snapshot by asking an already
// connected node for CLUSTER SLOTS.
type RefreshShardMap func(nc *nodeconn.NodeConn) (*topology.ShardMap, error)

// ConnectOptions configures a new Connection.
type ConnectOptions struct {
	Seed            OpenSocket
	Commands        *cmdinfo.Registry
	InitialShardMap *topology.ShardMap
	Config          config.Config
	RefreshShardMap RefreshShardMap
	Sink            logging.Sink
}

// Connection is the top-level client handle: the node table, the current
// ShardMap, and the current pipeline generation.
type Connection struct {
	seed     OpenSocket
	refresh  RefreshShardMap
	info     *cmdinfo.Registry
	cfg      config.Config
	sink     logging.Sink
	trace    *tracecap.Writer

	nodesMu sync.RWMutex
	nodes   map[topology.NodeID]*nodeconn.NodeConn

	shardMap atomicShardMap

	pipelineMu sync.Mutex
	pipeline   *rpipeline.Pipeline
}

// atomicShardMap protects atomic replacement of the immutable shard map
// snapshot with a plain mutex rather than atomic.Pointer, matching how
// this codebase guards its other shared state.
type atomicShardMap struct {
	mu   sync.RWMutex
	m    *topology.ShardMap
	sink logging.Sink // optional; nil means no dead-lock diagnostic
}

func (a *atomicShardMap) Load() *topology.ShardMap {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.m
}

func (a *atomicShardMap) Store(m *topology.ShardMap) {
	lockguard.AcquireWrite(&a.mu, "shardmap", a.sink)
	defer a.mu.Unlock()
	a.m = m
}

// Connect dials every node in the initial ShardMap. If some (but not all)
// nodes fail, it refreshes the ShardMap from one surviving connection and
// reconnects the node set of the new map. If no connection succeeds at
// all, it fails with NoNode.
func Connect(ctx context.Context, opts ConnectOptions) (*Connection, error) {
	sink := opts.Sink
	if sink == nil {
		sink = logging.Noop{}
	}
	var trace *tracecap.Writer
	if opts.Config.Trace != nil && opts.Config.Trace.Path != "" {
		w, err := tracecap.Open(opts.Config.Trace.Path)
		if err != nil {
			return nil, clienterr.Wrap(clienterr.NoNode, "opening trace file", err)
		}
		trace = w
	}

	c := &Connection{
		seed:    opts.Seed,
		refresh: opts.RefreshShardMap,
		info:    opts.Commands,
		cfg:     opts.Config,
		sink:    sink,
		trace:   trace,
		nodes:   make(map[topology.NodeID]*nodeconn.NodeConn),
	}
	c.pipeline = rpipeline.NewPipeline(c.evaluate).SetSink(sink)
	c.shardMap.sink = sink
	c.shardMap.Store(opts.InitialShardMap)

	wanted := opts.InitialShardMap.AllNodes()
	connected, failed := c.dialAll(ctx, wanted)

	if len(connected) == 0 {
		return nil, clienterr.New(clienterr.NoNode, "failed to connect to any seed node")
	}

	if len(failed) > 0 {
		sink.Warnf("%d of %d seed nodes unreachable, refreshing shard map", len(failed), len(wanted))
		var any *nodeconn.NodeConn
		for _, nc := range connected {
			any = nc
			break
		}
		fresh, err := c.refresh(any)
		if err == nil {
			c.shardMap.Store(fresh)
			wanted = fresh.AllNodes()
			more, _ := c.dialAll(ctx, wanted)
			for id, nc := range more {
				connected[id] = nc
			}
		}
	}

	lockguard.AcquireWrite(&c.nodesMu, "nodetable", c.sink)
	c.nodes = connected
	c.nodesMu.Unlock()
	return c, nil
}

func (c *Connection) dialAll(ctx context.Context, nodes []topology.Node) (connected map[topology.NodeID]*nodeconn.NodeConn, failed []topology.Node) {
	connected = make(map[topology.NodeID]*nodeconn.NodeConn)
	seen := make(map[topology.NodeID]struct{})
	for _, n := range nodes {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		transport, err := c.seed(ctx, n.Host, n.Port, c.cfg.NodeRequestDeadline)
		if err != nil {
			c.sink.Warnf("connect to %s failed: %v", n.Addr(), err)
			failed = append(failed, n)
			continue
		}
		nc := nodeconn.New(n.ID, n.Addr(), transport).WithSink(c.sink)
		if c.cfg.RateLimit != nil && c.cfg.RateLimit.RequestsPerSecond > 0 {
			nc = nc.WithRateLimit(c.cfg.RateLimit.RequestsPerSecond, c.cfg.RateLimit.Burst)
		}
		connected[n.ID] = nc
	}
	return connected, failed
}

// Disconnect closes every NodeConn, best-effort.
func (c *Connection) Disconnect() {
	lockguard.AcquireWrite(&c.nodesMu, "nodetable", c.sink)
	defer c.nodesMu.Unlock()
	for _, nc := range c.nodes {
		_ = nc.Close()
	}
	c.nodes = make(map[topology.NodeID]*nodeconn.NodeConn)
	if c.trace != nil {
		_ = c.trace.Close()
	}
}

// ShardMap returns the currently loaded topology snapshot.
func (c *Connection) ShardMap() *topology.ShardMap {
	return c.shardMap.Load()
}

// FlushThreshold returns the configured auto-flush pending count.
func (c *Connection) FlushThreshold() int {
	return c.cfg.PipelineFlushThreshold
}

// Lookup implements router.Nodes.
func (c *Connection) Lookup(id topology.NodeID) (*nodeconn.NodeConn, bool) {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	nc, ok := c.nodes[id]
	return nc, ok
}

// RequestPipelined buffers req on the current pipeline generation and
// returns a deferred reply, rotating to a fresh generation when the
// current one is already executed or the auto-flush threshold is hit.
func (c *Connection) RequestPipelined(req router.Request) (*rpipeline.Deferred, error) {
	lockguard.Acquire(&c.pipelineMu, "pipeline-cell", c.sink)
	defer c.pipelineMu.Unlock()

	idx, executed, alreadyExecuted := c.pipeline.AppendAndMaybeFlush(req, c.cfg.PipelineFlushThreshold)
	if alreadyExecuted {
		fresh := rpipeline.NewPipeline(c.evaluate).SetSink(c.sink)
		idx, _ = fresh.Append(req)
		c.pipeline = fresh
		return rpipeline.NewDeferred(fresh, idx), nil
	}
	cur := c.pipeline
	if executed {
		// in-line flush happened against cur; any further submission must
		// rotate, but this submission's own reply still lives on cur.
		c.pipeline = rpipeline.NewPipeline(c.evaluate).SetSink(c.sink)
	}
	return rpipeline.NewDeferred(cur, idx), nil
}

// RequestMasterNodes fans req out to every master node unconditionally
// (used for administrative commands like PING health checks), bypassing
// the router and the pipeline entirely.
func (c *Connection) RequestMasterNodes(req router.Request) ([]respwire.Reply, error) {
	shardMap := c.shardMap.Load()
	if shardMap == nil {
		return nil, clienterr.New(clienterr.MissingNode, "no shard map loaded")
	}
	seen := make(map[topology.NodeID]struct{})
	var replies []respwire.Reply
	for _, n := range shardMap.AllNodes() {
		if n.Role != topology.Master {
			continue
		}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		nc, ok := c.Lookup(n.ID)
		if !ok {
			return nil, clienterr.New(clienterr.MissingNode, "no connection for node "+n.Addr())
		}
		out, err := nc.RequestNode(context.Background(), [][][]byte{req.FullArgs()}, c.cfg.NodeRequestDeadline)
		if err != nil {
			return nil, err
		}
		replies = append(replies, out...)
	}
	return replies, nil
}

// Nodes returns every node known to m, matching the package-level helper
// named in the external interfaces.
func Nodes(m *topology.ShardMap) []topology.Node {
	return m.AllNodes()
}

// evaluate implements the pipeline engine's evaluation algorithm: route,
// group by node, dispatch with a retry-once-on-alternate-node fault
// boundary, then run the MOVED/ASK redirection passes.
func (c *Connection) evaluate(pending []rpipeline.PendingRequest) ([]respwire.Reply, error) {
	shardMap := c.shardMap.Load()

	groups := make(map[topology.NodeID][]rpipeline.PendingRequest)
	var order []topology.NodeID
	for _, pr := range pending {
		nc, err := router.Route(c, shardMap, c.info, c.cfg.ReadOnly, pr.Req)
		if err != nil {
			return nil, err
		}
		if _, ok := groups[nc.ID]; !ok {
			order = append(order, nc.ID)
		}
		groups[nc.ID] = append(groups[nc.ID], pr)
	}

	results := make([]completed, 0, len(pending))
	for _, id := range order {
		group := groups[id]
		nc, _ := c.Lookup(id)
		out, err := c.dispatchGroup(nc, group)
		if err != nil {
			alt := c.anyOtherNode(id)
			if alt == nil {
				return nil, err
			}
			c.sink.Warnf("node %s failed (%v), retrying group on %s", nc.Addr, err, alt.Addr)
			out, err = c.dispatchGroup(alt, group)
			if err != nil {
				return nil, err
			}
		}
		results = append(results, out...)
	}

	if c.trace != nil {
		ordered := make([]respwire.Reply, len(results))
		for _, r := range results {
			ordered[r.index] = r.reply
		}
		c.trace.Record(pending, ordered)
	}

	needsRefresh := false
	for _, r := range results {
		if r.reply.IsError() {
			if kind, _, _, _, ok := respwire.ParseRedirect(r.reply.ErrText); ok && kind == respwire.RedirectMoved {
				needsRefresh = true
				break
			}
		}
	}
	if needsRefresh && c.refresh != nil {
		if nc := c.anyNode(); nc != nil {
			if fresh, err := c.refresh(nc); err == nil {
				c.shardMap.Store(fresh)
				shardMap = fresh
			} else {
				c.sink.Errorf("shard map refresh failed: %v", err)
			}
		}
	}

	final := make([]respwire.Reply, len(pending))
	for _, r := range results {
		final[r.index] = r.reply
	}

	for i := range final {
		reply, err := c.retryOne(shardMap, pending[i].Req, final[i], 0)
		if err != nil {
			return nil, err
		}
		final[i] = reply
	}

	return final, nil
}

// dispatchGroup sends one node's batch and pairs replies back up with
// their submission indices, preserving relative order within the group.
func (c *Connection) dispatchGroup(nc *nodeconn.NodeConn, group []rpipeline.PendingRequest) ([]completed, error) {
	requests := make([][][]byte, len(group))
	for i, pr := range group {
		requests[i] = pr.Req.FullArgs()
	}
	replies, err := nc.RequestNode(context.Background(), requests, c.cfg.NodeRequestDeadline)
	if err != nil {
		return nil, err
	}
	out := make([]completed, len(group))
	for i, pr := range group {
		out[i] = completed{index: pr.Index, reply: replies[i]}
	}
	return out, nil
}

// anyOtherNode returns a connected node different from exclude, for the
// retry-once-against-an-alternate-node fault boundary. Arbitrary: the
// first table entry map iteration yields that is not equal to exclude;
// Go randomizes that order, so the choice can differ between calls.
func (c *Connection) anyOtherNode(exclude topology.NodeID) *nodeconn.NodeConn {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	for id, nc := range c.nodes {
		if id != exclude {
			return nc
		}
	}
	return nil
}

func (c *Connection) anyNode() *nodeconn.NodeConn {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	for _, nc := range c.nodes {
		return nc
	}
	return nil
}

// retryOne implements the retry-pass for one CompletedRequest: MOVED
// re-routes the single request, ASK dispatches a two-command
// ["ASKING", request] mini-pipeline against the indicated node, and
// anything else passes through unchanged.
func (c *Connection) retryOne(shardMap *topology.ShardMap, req router.Request, reply respwire.Reply, retryCount int) (respwire.Reply, error) {
	if !reply.IsError() {
		return reply, nil
	}
	kind, slot, host, port, ok := respwire.ParseRedirect(reply.ErrText)
	if !ok {
		return reply, nil
	}
	_ = slot

	switch kind {
	case respwire.RedirectMoved:
		nc, err := router.Route(c, shardMap, c.info, c.cfg.ReadOnly, req)
		if err != nil {
			return respwire.Reply{}, err
		}
		out, err := nc.RequestNode(context.Background(), [][][]byte{req.FullArgs()}, c.cfg.NodeRequestDeadline)
		if err != nil {
			return respwire.Reply{}, err
		}
		return out[0], nil

	case respwire.RedirectAsk:
		node, found := shardMap.NodeWithHostPort(host, port)
		var nc *nodeconn.NodeConn
		if found {
			nc, found = c.Lookup(node.ID)
		}
		if !found {
			if retryCount == 0 && c.refresh != nil {
				if any := c.anyNode(); any != nil {
					if fresh, err := c.refresh(any); err == nil {
						c.shardMap.Store(fresh)
						return c.retryOne(fresh, req, reply, retryCount+1)
					}
				}
			}
			return respwire.Reply{}, clienterr.New(clienterr.MissingNode, "ASK target "+host+":"+strconv.Itoa(int(port))+" not found")
		}
		out, err := nc.RequestNode(context.Background(), [][][]byte{
			{[]byte("ASKING")},
			req.FullArgs(),
		}, c.cfg.NodeRequestDeadline)
		if err != nil {
			return respwire.Reply{}, err
		}
		return out[1], nil

	default:
		return reply, nil
	}
}
