// Package nodeconn wraps a single node's socket with a buffered
// reader/writer for streaming RESP frame decoding, and implements the
// request-cleaning + deadline-bounded dispatch rule for a batch of
// requests sent to one node.
package nodeconn

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"redicore/internal/clienterr"
	"redicore/internal/lockguard"
	"redicore/internal/logging"
	"redicore/internal/respwire"
	"redicore/internal/topology"
)

// Transport is the raw socket collaborator: connect/send/recv/close
// primitives are out of scope for this module and supplied externally.
type Transport interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
	SetDeadline(t time.Time) error
}

// NodeConn is a per-node connection: one live Transport exclusively owned
// by this value, plus the buffered reader whose internal buffer plays the
// role of the "last_recv_buffer" carry-over between frame decodes.
type NodeConn struct {
	ID        topology.NodeID
	Addr      string
	transport Transport
	reader    *bufio.Reader
	writer    *bufio.Writer
	limiter   *rate.Limiter // optional; nil means unthrottled

	mu   sync.Mutex
	sink logging.Sink // optional; nil means no dead-lock diagnostic
}

// New wraps an already-connected Transport.
func New(id topology.NodeID, addr string, t Transport) *NodeConn {
	return &NodeConn{
		ID:        id,
		Addr:      addr,
		transport: t,
		reader:    bufio.NewReader(t),
		writer:    bufio.NewWriter(t),
	}
}

// WithRateLimit installs an optional dispatch rate limiter (requests per
// second, with the given burst), guarding against hammering a node during
// a MOVED/ASK storm or mass reconnection.
func (nc *NodeConn) WithRateLimit(requestsPerSecond float64, burst int) *NodeConn {
	if requestsPerSecond > 0 {
		nc.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return nc
}

// WithSink installs the diagnostic sink used to report a possible
// dead-lock on this node's dispatch lock. Returns the receiver for
// chaining at construction time.
func (nc *NodeConn) WithSink(sink logging.Sink) *NodeConn {
	nc.sink = sink
	return nc
}

// Close releases the underlying transport. Best-effort: callers that only
// care about releasing resources should ignore the error.
func (nc *NodeConn) Close() error {
	return nc.transport.Close()
}

// cleanRequest reduces "MULTI <pin-key>" to the bare "MULTI" token and
// "EXEC <pin-key>" to the bare "EXEC" token: the extra token exists only
// to pin a transaction to one slot at the router, and must not reach the
// server. All other requests pass through unchanged.
//
// cleanRequest is idempotent: cleanRequest(cleanRequest(r)) == cleanRequest(r).
func cleanRequest(args [][]byte) [][]byte {
	if len(args) == 0 {
		return args
	}
	switch strings.ToUpper(string(args[0])) {
	case "MULTI":
		return args[:1]
	case "EXEC":
		return args[:1]
	default:
		return args
	}
}

// RequestNode sends each cleaned request to the node and reads exactly
// len(requests) reply frames, bounded by deadline. A parser hard-failure
// (malformed frame, EOF mid-frame) surfaces as ConnectionClosed; exceeding
// the deadline surfaces as NoNode.
//
// The whole call is bounded by a single absolute deadline applied to the
// transport: a net.Conn cannot have a blocking Read/Write interrupted by
// context cancellation alone, so ctx is honored only up front (a
// caller whose context is already done gets NoNode without touching the
// socket) and the deadline itself does the rest.
//
// The send/recv pair is serialized under this NodeConn's own lock: more
// than one pipeline generation can be evaluating concurrently (a rotated
// generation still being forced by a late caller while a fresh one is
// already dispatching), and without this lock two such groups could
// interleave writes or steal each other's reply frames off the shared
// reader.
func (nc *NodeConn) RequestNode(ctx context.Context, requests [][][]byte, deadline time.Duration) ([]respwire.Reply, error) {
	lockguard.Acquire(&nc.mu, fmt.Sprintf("nodeconn:%s", nc.Addr), nc.sink)
	defer nc.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, clienterr.Wrap(clienterr.NoNode, fmt.Sprintf("node %s", nc.Addr), err)
	}
	if nc.limiter != nil {
		for range requests {
			_ = nc.limiter.Wait(ctx)
		}
	}

	deadlineAt := time.Now().Add(deadline)
	if err := nc.transport.SetDeadline(deadlineAt); err != nil {
		return nil, clienterr.Wrap(clienterr.NoNode, fmt.Sprintf("set deadline on node %s", nc.Addr), err)
	}

	for _, req := range requests {
		if err := respwire.Encode(nc.writer, cleanRequest(req)); err != nil {
			return nil, clienterr.Wrap(clienterr.NoNode, fmt.Sprintf("write to node %s", nc.Addr), err)
		}
	}
	if err := nc.writer.Flush(); err != nil {
		return nil, clienterr.Wrap(clienterr.NoNode, fmt.Sprintf("flush to node %s", nc.Addr), err)
	}

	replies := make([]respwire.Reply, 0, len(requests))
	for range requests {
		reply, err := respwire.Decode(nc.reader)
		if err != nil {
			// respwire.Decode reports transport errors as text under
			// ErrConnectionClosed, so a read timeout is also recognized by
			// the deadline having passed.
			if isTimeout(err) || !time.Now().Before(deadlineAt) {
				return nil, clienterr.Wrap(clienterr.NoNode, fmt.Sprintf("node %s exceeded deadline", nc.Addr), err)
			}
			return nil, clienterr.Wrap(clienterr.ConnectionClosed, fmt.Sprintf("read from node %s", nc.Addr), err)
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	for err != nil {
		if t, ok := err.(timeouter); ok && t.Timeout() {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
