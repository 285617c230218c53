package nsserver

import "sync"

// enoughServers implements the "enough servers" gate from spec.md §4.4: a
// semaphore initialized to -(BACKUP_SERVERS) where the first BACKUP_SERVERS+1
// registrations unblock every handler waiting on it. A plain counting
// semaphore with a negative initial value has no direct stdlib or
// golang.org/x/sync equivalent (sync.WaitGroup can't grow after going to
// zero, and semaphore.Weighted's Acquire/Release pair doesn't model "block
// until N distinct posts have happened, then never block again"), so this
// is a small threshold latch built on sync.Cond instead.
type enoughServers struct {
	mu        sync.Mutex
	cond      *sync.Cond
	count     int
	threshold int
}

func newEnoughServers(threshold int) *enoughServers {
	e := &enoughServers{threshold: threshold}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// post records a server registration (or, for a below-threshold fleet, the
// handshake of the connecting server itself counting toward the quota).
func (e *enoughServers) post() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count++
	if e.count >= e.threshold {
		e.cond.Broadcast()
	}
}

// wait blocks until threshold posts have happened.
func (e *enoughServers) wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.count < e.threshold {
		e.cond.Wait()
	}
}
