// Package ratelimit provides keyed token-bucket limiters on top of
// golang.org/x/time/rate. Webhook destinations and admin API callers each get
// their own bucket.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxKeys bounds the number of buckets kept before idle ones are evicted.
const maxKeys = 10000

type Config struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	Enabled           bool    `json:"enabled"`
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  Config
}

func NewLimiter(config *Config) *Limiter {
	if config == nil {
		config = &Config{
			RequestsPerSecond: 5,
			Burst:             5,
			Enabled:           true,
		}
	}
	if config.Burst < 1 {
		config.Burst = 1
	}

	return &Limiter{
		entries: make(map[string]*entry),
		config:  *config,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, exists := l.entries[key]
	if !exists {
		if len(l.entries) >= maxKeys {
			l.evictIdle(now)
		}
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// evictIdle drops buckets unused for a minute, or half the map when none are.
func (l *Limiter) evictIdle(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.lastSeen) > time.Minute {
			delete(l.entries, key)
		}
	}
	if len(l.entries) < maxKeys {
		return
	}
	count := 0
	for key := range l.entries {
		delete(l.entries, key)
		count++
		if count >= maxKeys/2 {
			break
		}
	}
}

// Allow reports whether a request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}
	return l.get(key).Allow()
}

// Wait blocks until a request for key may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.config.Enabled {
		return nil
	}
	return l.get(key).Wait(ctx)
}

// Stats returns rate limiter statistics
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"enabled":             l.config.Enabled,
		"limiters_count":      len(l.entries),
		"requests_per_second": l.config.RequestsPerSecond,
		"burst":               l.config.Burst,
	}
}

// HTTPMiddleware rejects requests over the limit with 429.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.config.Burst))
			if !l.Allow(key) {
				retry := 1
				if l.config.RequestsPerSecond > 0 && l.config.RequestsPerSecond < 1 {
					retry = int(1/l.config.RequestsPerSecond + 0.5)
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys requests by client address.
func IPBasedKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return fmt.Sprintf("ip:%s", ip)
}
