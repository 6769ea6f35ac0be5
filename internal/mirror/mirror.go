// Package mirror copies every routed data event to optional sinks (a Redis
// stream, an AMQP exchange) so other systems can consume the feed. Sinks
// publish in the background with a timeout; failures are logged and counted
// but never block webhook delivery.
package mirror

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/routing"
	"stream-bridge/internal/rules"
	"stream-bridge/internal/stream"
)

// Message is the mirrored form of a data event.
type Message struct {
	TweetID      string          `json:"tweet_id"`
	AuthorID     string          `json:"author_id,omitempty"`
	Username     string          `json:"username,omitempty"`
	Accounts     []string        `json:"accounts"`
	Destinations int             `json:"destinations"`
	ReceivedAt   time.Time       `json:"received_at"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a Message from ev. Destinations is the number of
// webhooks ev resolves to; the URLs themselves are never mirrored.
func NewMessage(ev stream.Event, destinations int) Message {
	msg := Message{
		Accounts:     ev.Accounts,
		Destinations: destinations,
		ReceivedAt:   ev.ReceivedAt,
		Payload:      ev.Raw,
	}
	if ev.Tweet != nil {
		msg.TweetID = ev.Tweet.ID
		msg.AuthorID = ev.Tweet.AuthorID
	}
	if ev.Author != nil {
		msg.Username = ev.Author.Username
	}
	if msg.Accounts == nil {
		msg.Accounts = []string{}
	}
	return msg
}

// Sink publishes mirrored messages.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// EventRouter is the delivery step the mirror wraps.
type EventRouter interface {
	Route(ctx context.Context, ev stream.Event, table *rules.RoutingTable) []routing.DispatchResult
}

// Observer is told about every publish.
type Observer interface {
	ObserveMirror(sink string, err error)
}

// Publishing defaults. A sink slower than DefaultPublishTimeout loses the
// message; a sink with DefaultMaxInFlight publishes outstanding skips new
// messages until one finishes.
const (
	DefaultPublishTimeout = 5 * time.Second
	DefaultMaxInFlight    = 64
)

// ErrBacklog is reported to the observer when a sink has too many
// publishes outstanding and a message is skipped.
var ErrBacklog = stderrors.New("mirror sink backlog full")

// Router hands each event to the wrapped router and publishes it to the
// sinks in the background, so a stalled sink never delays delivery.
type Router struct {
	next     EventRouter
	sinks    []Sink
	slots    []chan struct{}
	observer Observer
	logger   logging.Logger
	timeout  time.Duration
	inFlight sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithPublishTimeout bounds each sink publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxInFlight bounds outstanding publishes per sink.
func WithMaxInFlight(n int) Option {
	return func(r *Router) {
		if n > 0 {
			for i := range r.slots {
				r.slots[i] = make(chan struct{}, n)
			}
		}
	}
}

// NewRouter wraps next. observer may be nil.
func NewRouter(next EventRouter, sinks []Sink, observer Observer, logger logging.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Router{
		next:     next,
		sinks:    sinks,
		slots:    make([]chan struct{}, len(sinks)),
		observer: observer,
		logger:   logger.WithFields(logging.String("component", "mirror")),
		timeout:  DefaultPublishTimeout,
	}
	for i := range r.slots {
		r.slots[i] = make(chan struct{}, DefaultMaxInFlight)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route implements the lifecycle event router.
func (r *Router) Route(ctx context.Context, ev stream.Event, table *rules.RoutingTable) []routing.DispatchResult {
	if len(r.sinks) > 0 {
		msg := NewMessage(ev, len(routing.Resolve(ev, table)))
		for i, sink := range r.sinks {
			select {
			case r.slots[i] <- struct{}{}:
			default:
				r.report(sink.Name(), msg.TweetID, ErrBacklog)
				continue
			}
			r.inFlight.Add(1)
			go r.publish(context.WithoutCancel(ctx), i, sink, msg)
		}
	}
	return r.next.Route(ctx, ev, table)
}

func (r *Router) publish(ctx context.Context, i int, sink Sink, msg Message) {
	defer r.inFlight.Done()
	defer func() { <-r.slots[i] }()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	r.report(sink.Name(), msg.TweetID, sink.Publish(ctx, msg))
}

func (r *Router) report(sink, tweetID string, err error) {
	if r.observer != nil {
		r.observer.ObserveMirror(sink, err)
	}
	if err != nil {
		r.logger.Warn("Failed to mirror event",
			logging.String("sink", sink),
			logging.String("tweet_id", tweetID),
			logging.String("error", err.Error()),
		)
	}
}

// Close waits for outstanding publishes, then closes every sink and
// returns the first error.
func (r *Router) Close() error {
	r.inFlight.Wait()
	var first error
	for _, sink := range r.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
