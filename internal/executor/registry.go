package executor

import "sync"

// flight tracks one in-progress build identity. Followers wait on done and
// adopt the published result. aborted means the leader was canceled before
// starting; a follower then re-acquires and takes over.
type flight struct {
	done    chan struct{}
	refs    int
	ran     bool
	err     error
	aborted bool
}

// registry maps node identities to in-flight builds. It is shared across
// concurrent runs so two targets needing the same conversion produce exactly
// one invocation.
type registry struct {
	mu      sync.Mutex
	entries map[string]*flight
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*flight)}
}

// acquire registers interest in id. The first caller becomes the leader and
// must eventually call complete; every other caller gets leader == false and
// waits on the flight.
func (rg *registry) acquire(id string) (f *flight, leader bool) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	if f, ok := rg.entries[id]; ok {
		f.refs++
		return f, false
	}
	f = &flight{done: make(chan struct{}), refs: 1}
	rg.entries[id] = f
	return f, true
}

// release withdraws one follower's interest, typically on cancellation.
func (rg *registry) release(f *flight) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	f.refs--
}

// othersInterested reports whether anyone besides the leader still waits on
// id. A canceled leader commits anyway when this is true, so live waiters
// adopt a committed result.
func (rg *registry) othersInterested(id string) bool {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	f, ok := rg.entries[id]
	return ok && f.refs > 1
}

// complete publishes the leader's result, removes the entry, and wakes
// followers.
func (rg *registry) complete(f *flight, id string, ran bool, err error, aborted bool) {
	rg.mu.Lock()
	f.ran, f.err, f.aborted = ran, err, aborted
	delete(rg.entries, id)
	rg.mu.Unlock()
	close(f.done)
}
