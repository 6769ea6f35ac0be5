// Package locks provides distributed locks on the Redlock algorithm
// implementation from go-redsync/redsync/v4. The bridge uses one lock to make
// sure a single instance per deployment holds the upstream stream, since the
// upstream allows only one connection per credential.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/redis"
)

// StreamLockKey guards the upstream stream connection.
const StreamLockKey = "stream-bridge:stream"

// Lock is a held distributed lock.
type Lock interface {
	// Key returns the unique identifier for this lock.
	Key() string

	// Release stops renewal and removes the lock from Redis.
	Release(ctx context.Context) error

	// IsHeld reports local state and does not query Redis.
	IsHeld() bool

	// Lost is closed when renewal fails and another instance may now hold
	// the lock.
	Lost() <-chan struct{}
}

// RedsyncManager acquires and renews redsync mutexes.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	logger     logging.Logger
	localLocks map[string]*RedsyncLock
	mutex      sync.RWMutex
}

// RedsyncLock wraps a redsync.Mutex with automatic renewal.
type RedsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	acquired   time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	lost       chan struct{}
	lostOnce   sync.Once
	manager    *RedsyncManager
}

// NewRedsyncManager creates a lock manager on redisClient.
func NewRedsyncManager(redisClient *redis.Client, logger logging.Logger) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		logger:     logger.WithFields(logging.String("component", "locks")),
		localLocks: make(map[string]*RedsyncLock),
	}, nil
}

// TryAcquire makes a single attempt to take key. The lock is renewed at a
// third of expiration until released or lost.
func (rm *RedsyncManager) TryAcquire(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key), redsync.WithExpiry(expiration))

	if err := mutex.TryLockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err).WithContext("key", key)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		acquired:   time.Now(),
		ctx:        lockCtx,
		cancel:     cancel,
		lost:       make(chan struct{}),
		manager:    rm,
	}

	rm.mutex.Lock()
	rm.localLocks[key] = lock
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

// WaitForLock retries TryAcquire every retry interval until the lock is
// taken or ctx is done. Standby instances block here while another instance
// holds the stream.
func (rm *RedsyncManager) WaitForLock(ctx context.Context, key string, expiration, retry time.Duration) (Lock, error) {
	if retry <= 0 {
		retry = time.Second
	}

	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	logged := false
	for {
		lock, err := rm.TryAcquire(ctx, key, expiration)
		if err == nil {
			rm.logger.Info("Acquired distributed lock", logging.String("key", key))
			return lock, nil
		}
		if !logged {
			rm.logger.Info("Lock held by another instance, waiting", logging.String("key", key))
			logged = true
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(lock.ctx, 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if lock.ctx.Err() != nil {
				return
			}
			if err != nil || !ok {
				rm.logger.Error("Lost distributed lock", err, logging.String("key", lock.key))
				rm.forget(lock)
				lock.cancel()
				lock.lostOnce.Do(func() { close(lock.lost) })
				return
			}
		}
	}
}

func (rm *RedsyncManager) forget(lock *RedsyncLock) {
	rm.mutex.Lock()
	if rm.localLocks[lock.key] == lock {
		delete(rm.localLocks, lock.key)
	}
	rm.mutex.Unlock()
}

// Close releases every lock this manager holds.
func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	held := make([]*RedsyncLock, 0, len(rm.localLocks))
	for _, lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mutex.Unlock()

	for _, lock := range held {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = lock.Release(ctx)
		cancel()
	}
	return nil
}

func (rl *RedsyncLock) Key() string {
	return rl.key
}

func (rl *RedsyncLock) Release(ctx context.Context) error {
	if !rl.IsHeld() {
		return nil
	}
	rl.cancel()
	rl.manager.forget(rl)

	if _, err := rl.mutex.UnlockContext(ctx); err != nil {
		return errors.InternalError("failed to release distributed lock", err).WithContext("key", rl.key)
	}
	return nil
}

func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}

func (rl *RedsyncLock) Lost() <-chan struct{} {
	return rl.lost
}

var _ Lock = (*RedsyncLock)(nil)
