// Package webhook delivers notifications to webhook destinations. Each
// destination has its own circuit breaker and token bucket so a failing or
// slow destination does not affect the others.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"stream-bridge/internal/circuitbreaker"
	"stream-bridge/internal/common/errors"
	httpclient "stream-bridge/internal/common/http"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/ratelimit"
)

// Notification is the JSON body posted to a destination.
type Notification struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	Content   string `json:"content"`
}

// Result is the outcome of one delivery.
type Result struct {
	Destination string
	StatusCode  int
	Body        string
	Duration    time.Duration
}

// Config tunes delivery.
type Config struct {
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	UserAgent     string
	// SuccessStatus is the only status treated as delivered.
	SuccessStatus int
}

// DefaultConfig returns the delivery defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		RatePerSecond: 5,
		Burst:         5,
		SuccessStatus: http.StatusNoContent,
	}
}

// Dispatcher posts notifications to destinations.
type Dispatcher struct {
	cfg      Config
	client   *http.Client
	breakers *circuitbreaker.GoBreakerManager
	limiter  *ratelimit.Limiter
	logger   logging.Logger
}

// NewDispatcher creates a Dispatcher. A nil client gets one bounded by
// cfg.Timeout.
func NewDispatcher(cfg Config, client *http.Client, logger logging.Logger) *Dispatcher {
	if cfg.SuccessStatus == 0 {
		cfg.SuccessStatus = http.StatusNoContent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if client == nil {
		client = httpclient.NewHTTPClient(httpclient.WithTimeout(cfg.Timeout))
	}
	logger = logger.WithFields(logging.String("component", "webhook"))

	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		breakers: circuitbreaker.NewGoBreakerManager(circuitbreaker.DefaultConfig(), logger),
		limiter: ratelimit.NewLimiter(&ratelimit.Config{
			RequestsPerSecond: cfg.RatePerSecond,
			Burst:             cfg.Burst,
			Enabled:           cfg.RatePerSecond > 0,
		}),
		logger: logger,
	}
}

// Send posts n to destination. Any status other than the success status is
// returned as a dispatch error carrying the status and response body.
func (d *Dispatcher) Send(ctx context.Context, destination string, n Notification) (*Result, error) {
	result := &Result{Destination: destination}

	payload, err := json.Marshal(n)
	if err != nil {
		return result, errors.DispatchError(destination, 0, err)
	}

	if err := d.limiter.Wait(ctx, destination); err != nil {
		return result, errors.DispatchError(destination, 0, err)
	}

	start := time.Now()
	err = d.breakers.Execute(ctx, destination, func() error {
		return d.post(ctx, destination, payload, result)
	})
	result.Duration = time.Since(start)

	if err == nil {
		return result, nil
	}
	if errors.IsType(err, errors.ErrTypeDispatch) {
		return result, err
	}
	return result, errors.DispatchError(destination, result.StatusCode, err)
}

func (d *Dispatcher) post(ctx context.Context, destination string, payload []byte, result *Result) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(payload))
	if err != nil {
		return errors.ValidationError("invalid destination URL: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.DispatchError(destination, 0, err)
	}
	defer resp.Body.Close()

	body, _ := httpclient.ReadBody(resp.Body, 16<<10)
	result.StatusCode = resp.StatusCode
	result.Body = string(body)

	if resp.StatusCode != d.cfg.SuccessStatus {
		return errors.DispatchError(destination, resp.StatusCode, nil).
			WithContext("body", result.Body)
	}
	return nil
}

// Forget drops per-destination state for destinations no longer configured.
func (d *Dispatcher) Forget(active []string) {
	d.breakers.Retain(active)
}

// BreakerStats reports the state of every destination breaker.
func (d *Dispatcher) BreakerStats() []circuitbreaker.Stats {
	return d.breakers.AllStats()
}
