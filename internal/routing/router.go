package routing

import (
	"context"
	"sync"
	"time"

	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/rules"
	"stream-bridge/internal/stream"
	"stream-bridge/internal/webhook"
)

// Sender delivers one notification to one destination.
type Sender interface {
	Send(ctx context.Context, destination string, n webhook.Notification) (*webhook.Result, error)
}

// Observer is told about every delivery attempt.
type Observer interface {
	ObserveDelivery(destination string, status int, err error, elapsed time.Duration)
	ObserveUnrouted()
}

// DispatchResult is the outcome for one destination.
type DispatchResult struct {
	Destination string
	StatusCode  int
	Duration    time.Duration
	Err         error
}

// Router resolves and dispatches data events.
type Router struct {
	sender   Sender
	observer Observer
	logger   logging.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(r *Router) {
		r.observer = o
	}
}

// NewRouter creates a Router.
func NewRouter(sender Sender, logger logging.Logger, opts ...Option) *Router {
	r := &Router{
		sender: sender,
		logger: logger.WithFields(logging.String("component", "router")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the destinations for ev, deduplicated, in the order the
// matched accounts and their destinations were configured.
func Resolve(ev stream.Event, table *rules.RoutingTable) []string {
	var out []string
	seen := map[string]bool{}
	for _, account := range ev.Accounts {
		for _, dest := range table.Destinations(account) {
			if !seen[dest] {
				seen[dest] = true
				out = append(out, dest)
			}
		}
	}
	return out
}

// Route delivers ev to every destination it resolves to and waits for all
// deliveries. Results are in destination order. An event with no
// destinations is dropped with a debug log.
func (r *Router) Route(ctx context.Context, ev stream.Event, table *rules.RoutingTable) []DispatchResult {
	destinations := Resolve(ev, table)
	tweetID := ""
	if ev.Tweet != nil {
		tweetID = ev.Tweet.ID
	}

	if len(destinations) == 0 {
		r.logger.Debug("No destinations for event",
			logging.String("tweet_id", tweetID),
			logging.Strings("accounts", ev.Accounts),
		)
		if r.observer != nil {
			r.observer.ObserveUnrouted()
		}
		return nil
	}

	notification := FormatNotification(ev)
	results := make([]DispatchResult, len(destinations))

	var wg sync.WaitGroup
	for i, dest := range destinations {
		wg.Add(1)
		go func(i int, dest string) {
			defer wg.Done()
			results[i] = r.deliver(ctx, dest, notification, tweetID)
		}(i, dest)
	}
	wg.Wait()

	return results
}

func (r *Router) deliver(ctx context.Context, dest string, n webhook.Notification, tweetID string) DispatchResult {
	res := DispatchResult{Destination: dest}

	sent, err := r.sender.Send(ctx, dest, n)
	if sent != nil {
		res.StatusCode = sent.StatusCode
		res.Duration = sent.Duration
	}
	res.Err = err

	if r.observer != nil {
		r.observer.ObserveDelivery(dest, res.StatusCode, err, res.Duration)
	}

	if err != nil {
		body := ""
		if sent != nil {
			body = sent.Body
		}
		r.logger.Error("Webhook delivery failed", err,
			logging.String("destination", dest),
			logging.Int("status", res.StatusCode),
			logging.String("body", body),
			logging.String("tweet_id", tweetID),
		)
		return res
	}

	r.logger.Debug("Webhook delivered",
		logging.String("destination", dest),
		logging.String("tweet_id", tweetID),
		logging.Duration("duration", res.Duration),
	)
	return res
}
