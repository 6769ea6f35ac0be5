// Package circuitbreaker skips webhook destinations that keep failing, so a
// dead endpoint costs one fast rejection per event instead of a full
// request timeout. Breakers are Sony's gobreaker, one per destination URL.
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// State is gobreaker's state; its String form is what Stats reports.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Config is shared by every destination breaker.
type Config struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures int
	// Cooldown is how long a tripped breaker rejects before allowing trial deliveries.
	Cooldown time.Duration
	// HalfOpenRequests is the number of trial deliveries allowed while half-open.
	HalfOpenRequests int
}

// DefaultConfig is used for webhook destinations.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		Cooldown:            30 * time.Second,
		HalfOpenRequests:    1,
	}
}

func (c Config) Validate() error {
	switch {
	case c.ConsecutiveFailures < 1:
		return fmt.Errorf("consecutive failures must be positive, got %d", c.ConsecutiveFailures)
	case c.Cooldown <= 0:
		return fmt.Errorf("cooldown must be positive, got %v", c.Cooldown)
	case c.HalfOpenRequests < 1:
		return fmt.Errorf("half-open requests must be positive, got %d", c.HalfOpenRequests)
	}
	return nil
}

// Stats is the per-destination snapshot exposed on the status endpoint.
type Stats struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            int    `json:"requests"`
	Failures            int    `json:"failures"`
	Successes           int    `json:"successes"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}
