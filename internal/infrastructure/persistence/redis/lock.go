package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/teamcruz/graduation-engine/internal/domain/shared"
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired holder never frees a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockConfig tunes StudentLocker.
type LockConfig struct {
	// TTL bounds how long a crashed holder blocks the student.
	TTL time.Duration

	// Wait is how long Lock keeps retrying before reporting contention.
	// Zero means a single attempt.
	Wait time.Duration

	// RetryInterval is the pause between attempts.
	RetryInterval time.Duration
}

// DefaultLockConfig returns lock defaults.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:           TTLDistributedLock,
		Wait:          2 * time.Second,
		RetryInterval: 50 * time.Millisecond,
	}
}

// StudentLocker implements progression.Locker with SET NX PX.
// It serializes one student across every worker process sharing Redis.
type StudentLocker struct {
	cache  *Cache
	config LockConfig
}

// NewStudentLocker creates a new StudentLocker.
func NewStudentLocker(cache *Cache, cfg LockConfig) *StudentLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = TTLDistributedLock
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	return &StudentLocker{cache: cache, config: cfg}
}

// Lock acquires the student's lock or returns ErrStudentLocked once Wait
// has elapsed.
func (l *StudentLocker) Lock(ctx context.Context, studentID string) (func(), error) {
	key := LockKey(studentID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.config.Wait)

	for {
		ok, err := l.cache.Client().SetNX(ctx, key, token, l.config.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return l.unlocker(key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, shared.ErrStudentLocked
		}

		timer := time.NewTimer(l.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, shared.WrapError("progression", "Lock", shared.ErrConcurrentPromotionConflict, studentID, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *StudentLocker) unlocker(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// the caller's ctx may already be cancelled; release anyway
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			// lock expires by TTL
			return
		}
	}
}
