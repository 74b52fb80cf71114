package orchestrator

import (
	"context"
	"fmt"
	"sync"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	"golang.org/x/sync/semaphore"
)

type threadLock struct {
	sem  *semaphore.Weighted
	refs int
}

// threadLocks serializes turns per thread. Entries are dropped once no turn holds or waits on them.
type threadLocks struct {
	mu sync.Mutex
	m  map[string]*threadLock
}

func newThreadLocks() *threadLocks {
	return &threadLocks{m: make(map[string]*threadLock)}
}

func (l *threadLocks) acquire(ctx context.Context, threadID string, reject bool) (func(), error) {
	l.mu.Lock()
	lock, ok := l.m[threadID]
	if !ok {
		lock = &threadLock{sem: semaphore.NewWeighted(1)}
		l.m[threadID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	var err error
	if reject {
		if !lock.sem.TryAcquire(1) {
			err = fmt.Errorf("%w: thread=%s", contractx.ErrThreadBusy, threadID)
		}
	} else {
		err = lock.sem.Acquire(ctx, 1)
	}
	if err != nil {
		l.unref(threadID, lock)
		return nil, err
	}

	return func() {
		lock.sem.Release(1)
		l.unref(threadID, lock)
	}, nil
}

func (l *threadLocks) unref(threadID string, lock *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.m, threadID)
	}
}

func (l *threadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
