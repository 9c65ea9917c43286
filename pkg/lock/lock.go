// Package lock provides the per-thread execution lock that keeps at most one
// run of a thread in flight.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when the thread is already locked by another run.
var ErrHeld = errors.New("thread lock is held")

// Locker acquires exclusive per-thread locks without blocking.
type Locker interface {
	// TryLock takes the lock for threadID or returns ErrHeld. The returned
	// function releases it.
	TryLock(ctx context.Context, threadID string) (func(), error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(_ context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[threadID]; ok {
		return nil, ErrHeld
	}

	l.held[threadID] = struct{}{}

	var once sync.Once

	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, threadID)
			l.mu.Unlock()
		})
	}, nil
}
