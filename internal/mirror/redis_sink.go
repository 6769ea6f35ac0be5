package mirror

import (
	"context"
	"encoding/json"
	"strings"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/redis"
)

// DefaultStreamMaxLen bounds the mirrored Redis stream.
const DefaultStreamMaxLen = 10000

// RedisStreamSink appends messages to a Redis stream with XADD.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink writing to stream. maxLen <= 0 uses
// DefaultStreamMaxLen.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string {
	return "redis"
}

func (s *RedisStreamSink) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.InternalError("failed to encode mirror message", err)
	}

	_, err = s.client.XAdd(ctx, s.stream, s.maxLen, map[string]interface{}{
		"tweet_id": msg.TweetID,
		"accounts": strings.Join(msg.Accounts, ","),
		"message":  string(body),
	})
	if err != nil {
		return errors.ConnectionError("failed to mirror to redis stream", err)
	}
	return nil
}

// Close is a no-op; the Redis client is shared and closed by its owner.
func (s *RedisStreamSink) Close() error {
	return nil
}
