package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// lockTable hands out one weighted semaphore per session id. Entries are
// reference counted and dropped when nobody holds or waits for them.
type lockTable struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newLockTable() *lockTable { return &lockTable{m: make(map[string]*lockEntry)} }

// acquire waits for the session lock. wait <= 0 waits until ctx is done;
// otherwise ErrLockTimeout is returned once wait elapses.
func (t *lockTable) acquire(ctx context.Context, id string, wait time.Duration) (func(), error) {
	t.mu.Lock()
	e := t.m[id]
	if e == nil {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		t.m[id] = e
	}
	e.refs++
	t.mu.Unlock()

	actx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	if err := e.sem.Acquire(actx, 1); err != nil {
		t.unref(id, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrLockTimeout
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			t.unref(id, e)
		})
	}, nil
}

func (t *lockTable) unref(id string, e *lockEntry) {
	t.mu.Lock()
	e.refs--
	if e.refs == 0 && t.m[id] == e {
		delete(t.m, id)
	}
	t.mu.Unlock()
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
