// Package lock serializes basket finalizations that touch the same purchase requests.
//
// Two baskets holding twins of one request may race to RECEIVED; each finalization
// takes the lock of every request its lines reference, so the second one re-reads the
// line set after the first has purged or persisted and sees the conflict.
package lock

import (
	"context"
	"sort"
	"sync"

	"procurement-reconciler/internal/core"
)

// Local is an in-process keyed mutex. It is sufficient when a single server instance
// owns the store.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{} // buffered(1): holding the token means holding the lock
	refs int
}

// NewLocal returns an empty keyed mutex.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

var _ core.RequestLocker = (*Local)(nil)

// LockRequests acquires every request id in sorted order. It blocks until all are held
// or ctx is done; on failure the locks taken so far are released.
func (l *Local) LockRequests(ctx context.Context, requestIDs []string) (func(), error) {
	ids := sortedUnique(requestIDs)
	held := make([]string, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}

	for _, id := range ids {
		e := l.acquireRef(id)
		select {
		case e.ch <- struct{}{}:
			held = append(held, id)
		case <-ctx.Done():
			l.dropRef(id)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *Local) acquireRef(id string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[id]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[id] = e
	}
	e.refs++
	return e
}

func (l *Local) dropRef(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.locks[id]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *Local) release(id string) {
	l.mu.Lock()
	e := l.locks[id]
	l.mu.Unlock()
	<-e.ch
	l.dropRef(id)
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
