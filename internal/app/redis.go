package app

import (
	"context"
	"strconv"
	"time"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/lifecycle"
	"stream-bridge/internal/locks"
	"stream-bridge/internal/redis"
)

// StatusKey holds the latest connection state when Redis is configured.
const StatusKey = "stream-bridge:status"

const statusPublishTimeout = 2 * time.Second

var errLockLost = errors.ConnectionError("stream lock lost to another instance", nil)

// initializeRedis connects when REDIS_ADDRESS is set. A configured but
// unreachable Redis is an error: without it the single-stream lock cannot
// be honoured.
func (app *App) initializeRedis(ctx context.Context) error {
	if !app.Config.RedisEnabled() {
		app.Logger.Info("Redis: Not configured (stream lock and redis mirror disabled)")
		return nil
	}

	redisDB, _ := strconv.Atoi(app.Config.RedisDB)
	redisPoolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)

	client, err := redis.NewClient(ctx, redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       redisDB,
		PoolSize: redisPoolSize,
	})
	if err != nil {
		return err
	}
	app.RedisClient = client
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))

	lockManager, err := locks.NewRedsyncManager(client, app.Logger)
	if err != nil {
		return err
	}
	app.Locks = lockManager
	app.Logger.Info("Distributed Locks: Enabled")
	return nil
}

// publishStatus stores the current connection state in Redis so other
// instances and operators can see who holds the stream.
func (app *App) publishStatus(_, _ lifecycle.State) {
	if app.RedisClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusPublishTimeout)
	defer cancel()

	if err := app.RedisClient.SetJSON(ctx, StatusKey, app.Manager.State(), 0); err != nil {
		app.Logger.Warn("Failed to publish status to Redis", logging.String("error", err.Error()))
	}
}

// acquireStreamLock blocks until this instance holds the stream lock. When
// the lock is later lost the manager is aborted so two instances never
// stream at once. Without Redis it returns nil, nil.
func (app *App) acquireStreamLock(ctx context.Context) (locks.Lock, error) {
	if app.Locks == nil {
		return nil, nil
	}

	ttl := app.Config.RedisLockTTL
	lock, err := app.Locks.WaitForLock(ctx, locks.StreamLockKey, ttl, ttl/3)
	if err != nil {
		return nil, err
	}

	go func() {
		select {
		case <-lock.Lost():
			app.Manager.Abort(errLockLost)
		case <-ctx.Done():
		}
	}()
	return lock, nil
}
