package memory

import (
	"context"
	"sync"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// Locker is a keyed mutex: callers for the same student queue up, callers
// for different students never block each other. Waiting respects ctx.
type Locker struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates a new Locker.
func NewLocker() *Locker {
	return &Locker{keys: make(map[string]*keyLock)}
}

// Lock implements progression.Locker.
func (l *Locker) Lock(ctx context.Context, studentID string) (func(), error) {
	l.mu.Lock()
	k, ok := l.keys[studentID]
	if !ok {
		k = &keyLock{ch: make(chan struct{}, 1)}
		l.keys[studentID] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(studentID, k)
		return nil, shared.WrapError("progression", "Lock", shared.ErrConcurrentPromotionConflict, studentID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-k.ch
			l.release(studentID, k)
		})
	}, nil
}

func (l *Locker) release(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}

// held reports the number of keys with holders or waiters.
func (l *Locker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
