// Package lockguard wraps mutex acquisition with a bounded TryLock retry
// loop: if a lock can't be taken after a handful of backed-off attempts,
// it's reported as a possible dead-lock on the named site before falling
// through to a plain blocking Lock. Go's runtime exposes no true
// dead-lock detection to a library, so this is a heuristic diagnostic,
// not a correctness mechanism — a lock that is merely held a long time
// (not deadlocked) will trip the same warning and then succeed once the
// holder releases it.
package lockguard

import (
	"sync"
	"time"

	"redicore/internal/logging"
)

const (
	maxAttempts  = 6
	initialDelay = time.Millisecond
	maxDelay     = 32 * time.Millisecond
)

// tryLocker is satisfied by both *sync.Mutex and *sync.RWMutex (for its
// write lock).
type tryLocker interface {
	TryLock() bool
	Lock()
}

// acquire takes mu, retrying with exponential backoff via TryLock before
// falling back to a blocking Lock. site names the lock for the
// diagnostic (e.g. "pipeline", "shardmap", "nodeconn:<addr>"). sink may
// be nil, in which case no diagnostic is emitted.
func acquire(mu tryLocker, site string, sink logging.Sink) {
	delay := initialDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if mu.TryLock() {
			return
		}
		time.Sleep(delay)
		if delay < maxDelay {
			delay *= 2
		}
	}
	if sink != nil {
		sink.Errorf("lock %q not acquired after %d attempts, possible dead-lock; blocking", site, maxAttempts)
	}
	mu.Lock()
}

// Acquire takes a plain mutex under the dead-lock diagnostic.
func Acquire(mu *sync.Mutex, site string, sink logging.Sink) {
	acquire(mu, site, sink)
}

// AcquireWrite takes an RWMutex's write lock under the dead-lock
// diagnostic.
func AcquireWrite(mu *sync.RWMutex, site string, sink logging.Sink) {
	acquire(mu, site, sink)
}
