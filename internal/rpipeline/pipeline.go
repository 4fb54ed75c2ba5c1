// Package rpipeline implements the lazy pipeline state machine: requests
// are buffered cheaply, and the whole buffered batch is evaluated exactly
// once, on first observation of any one of its deferred replies.
//
// There is no lazy-evaluation runtime backing this in Go, so "return a
// reply that flushes the pipeline on touch" is realized with an explicit
// handle (Deferred) whose Force method performs the same under-lock
// Pending-to-Executed transition that call-by-need semantics would give
// for free.
package rpipeline

import (
	"fmt"
	"sync"

	"redicore/internal/lockguard"
	"redicore/internal/logging"
	"redicore/internal/respwire"
	"redicore/internal/router"
)

// Request is one submitted command.
type Request = router.Request

// Reply is one RESP reply.
type Reply = respwire.Reply

// PendingRequest carries a request plus the submission-order index it was
// given when buffered.
type PendingRequest struct {
	Req   Request
	Index int
}

// EvalFunc evaluates one full batch of buffered requests (in submission
// order) and returns their replies in the same order. It is supplied by
// the owning Connection, which is where routing, dispatch, and
// redirection retry live (see the router and clusterconn packages).
type EvalFunc func([]PendingRequest) ([]Reply, error)

type state struct {
	executed bool
	pending  []PendingRequest
	replies  []Reply
	err      error
}

// Pipeline is one generation's mutable cell: either accumulating pending
// requests, or finalized with a reply vector. Once executed, a Pipeline
// never transitions back; a new generation is allocated instead.
//
// The inner transition lock (mu) is intentionally the only lock a
// Pipeline needs: "one lock per pipeline generation" is folded into the
// Pipeline value itself, since a fresh Pipeline is allocated on every
// rotation anyway.
type Pipeline struct {
	mu   sync.Mutex
	st   state
	eval EvalFunc
	sink logging.Sink // optional; nil means no dead-lock diagnostic
}

// NewPipeline starts a fresh, empty Pending generation.
func NewPipeline(eval EvalFunc) *Pipeline {
	return &Pipeline{eval: eval}
}

// SetSink installs the diagnostic sink used to report a possible
// dead-lock on this generation's lock. Returns the receiver for chaining
// at construction time.
func (p *Pipeline) SetSink(sink logging.Sink) *Pipeline {
	p.sink = sink
	return p
}

func (p *Pipeline) lock() {
	lockguard.Acquire(&p.mu, "pipeline", p.sink)
}

// Append adds req to this generation's pending list and returns both the
// submission-order index and whether the append landed on an already
// executed generation (the caller must rotate to a new Pipeline in that
// case — Append never does so itself, since only the caller holds the
// outer cell that says which Pipeline is "current").
//
// A reverse (newest-first) list would suit a cons-list runtime; a Go
// slice's append is already O(1) amortized, so pending is kept in plain
// submission order instead — the index invariant (submission order ==
// replies[0..]) holds either way, without a reverse step before
// evaluation.
func (p *Pipeline) Append(req Request) (idx int, alreadyExecuted bool) {
	p.lock()
	defer p.mu.Unlock()
	if p.st.executed {
		return 0, true
	}
	idx = len(p.st.pending)
	p.st.pending = append(p.st.pending, PendingRequest{Req: req, Index: idx})
	return idx, false
}

// Len reports the number of requests currently buffered in this
// generation (0 once executed).
func (p *Pipeline) Len() int {
	p.lock()
	defer p.mu.Unlock()
	return len(p.st.pending)
}

// forceLocked runs the evaluation for this generation if it hasn't
// already, transitioning Pending -> Executed exactly once regardless of
// how many callers race to force it; the first caller to acquire mu wins
// the evaluation, every other caller observes the already-Executed state.
// Called from AppendAndMaybeFlush's threshold branch and from
// Deferred.Force, both of which take mu first — forceLocked assumes the
// caller holds p.mu.
func (p *Pipeline) forceLocked() ([]Reply, error) {
	if !p.st.executed {
		replies, err := p.eval(p.st.pending)
		p.st.executed = true
		p.st.pending = nil
		p.st.replies = replies
		p.st.err = err
	}
	return p.st.replies, p.st.err
}

// AppendAndMaybeFlush appends req and, if threshold requests were already
// pending before this append (so the pending count now exceeds threshold),
// evaluates immediately in-line (still under this generation's lock)
// rather than waiting for a caller to force a deferred reply. With a
// threshold of 1000, the 1001st submission triggers the flush. It returns
// the submission index and whether this generation is (now) executed.
func (p *Pipeline) AppendAndMaybeFlush(req Request, threshold int) (idx int, executed bool, alreadyExecuted bool) {
	p.lock()
	defer p.mu.Unlock()
	if p.st.executed {
		return 0, true, true
	}
	idx = len(p.st.pending)
	p.st.pending = append(p.st.pending, PendingRequest{Req: req, Index: idx})
	if len(p.st.pending) > threshold {
		p.forceLocked()
		return idx, true, false
	}
	return idx, false, false
}

// Deferred is a handle to one submission's eventual reply: a reference to
// its generation's Pipeline plus its submission index. Forcing it is
// idempotent and safe from any goroutine; the first force for a
// generation performs the evaluation, every other force (for that
// generation or any of its sibling submissions) observes the result.
type Deferred struct {
	pipeline *Pipeline
	index    int
}

// NewDeferred builds a Deferred referencing index within pipeline.
func NewDeferred(pipeline *Pipeline, index int) *Deferred {
	return &Deferred{pipeline: pipeline, index: index}
}

// Force realizes the reply, evaluating the pipeline's pending batch if
// this is the first observation of any reply from that generation.
func (d *Deferred) Force() (Reply, error) {
	d.pipeline.lock()
	defer d.pipeline.mu.Unlock()
	replies, err := d.pipeline.forceLocked()
	if err != nil {
		return Reply{}, err
	}
	if d.index < 0 || d.index >= len(replies) {
		return Reply{}, fmt.Errorf("rpipeline: submission index %d out of range (%d replies)", d.index, len(replies))
	}
	return replies[d.index], nil
}
