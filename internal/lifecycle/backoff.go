package lifecycle

import (
	"math"
	"time"

	"stream-bridge/internal/common/errors"
)

// backoffDelay returns base * multiplier^attempt capped at max. A
// connection-limit failure waits at least limitFloor so the upstream can
// release the previous connection.
func (c Config) backoffDelay(attempt int, cause error) time.Duration {
	delay := float64(c.BackoffBase) * math.Pow(c.BackoffMultiplier, float64(attempt))
	d := time.Duration(delay)
	if delay > float64(c.BackoffMax) || d <= 0 {
		d = c.BackoffMax
	}
	if errors.IsType(cause, errors.ErrTypeConnectionLimit) && d < c.ConnectionLimitBackoff {
		d = c.ConnectionLimitBackoff
	}
	return d
}
