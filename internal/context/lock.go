package context

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// keyedLock serializes work per conversation inside one process. Entries
// are dropped once nobody holds or waits for them.
type keyedLock struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: map[int64]*lockEntry{}}
}

func (l *keyedLock) acquire(ctx context.Context, id int64) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.release(id, e)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.release(id, e)
		})
	}, nil
}

func (l *keyedLock) release(id int64, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, id)
	}
}

func (l *keyedLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
