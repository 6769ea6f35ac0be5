// Package lifecycle runs the stream connection state machine:
//
//	Idle -> SyncingRules -> Connecting -> Connected -> Disconnected -> Backoff -> Connecting ...
//
// Any state may end in Terminated when a fatal condition occurs. The
// Manager owns the connection state and the routing table; everything else
// reads snapshots.
package lifecycle

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/routing"
	"stream-bridge/internal/rules"
	"stream-bridge/internal/stream"
	"stream-bridge/internal/upstream"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = stderrors.New("lifecycle manager already started")

// ErrNotRunning is returned by Reload before Run has synced rules.
var ErrNotRunning = stderrors.New("lifecycle manager is not running")

// ChannelSource provides the current channel configuration.
type ChannelSource interface {
	Channels(ctx context.Context) ([]rules.Channel, error)
}

// RuleSyncer replaces the upstream rule set.
type RuleSyncer interface {
	Sync(ctx context.Context, filterRules []rules.FilterRule) (*upstream.SyncResult, error)
}

// Opener opens a new stream connection.
type Opener interface {
	Open(ctx context.Context) (stream.Source, error)
}

// EventRouter delivers a data event.
type EventRouter interface {
	Route(ctx context.Context, ev stream.Event, table *rules.RoutingTable) []routing.DispatchResult
}

// Observer receives lifecycle measurements. All methods must be cheap and
// non-blocking; they are called from the ingestion goroutine.
type Observer interface {
	ObserveTransition(from, to State)
	ObserveFrame(kind stream.Kind)
	ObserveParseError()
	ObserveDropped()
	ObserveQueueDepth(depth int)
	ObserveRules(active, truncated int)
	ObserveLastAlive(t time.Time)
}

// Config tunes the manager.
type Config struct {
	Rules                  rules.BuildOptions
	BackoffBase            time.Duration
	BackoffMultiplier      float64
	BackoffMax             time.Duration
	ConnectionLimitBackoff time.Duration
	MaxReconnectAttempts   int
	WatchdogInterval       time.Duration
	SilenceThreshold       time.Duration
	DispatchWorkers        int
	DispatchQueueSize      int
	// DrainTimeout bounds how long queued events may still be delivered
	// after Run decides to stop.
	DrainTimeout time.Duration
}

// DefaultConfig returns the reference timings.
func DefaultConfig() Config {
	return Config{
		BackoffBase:            100 * time.Millisecond,
		BackoffMultiplier:      5,
		BackoffMax:             2 * time.Minute,
		ConnectionLimitBackoff: 30 * time.Second,
		MaxReconnectAttempts:   5,
		WatchdogInterval:       5 * time.Minute,
		SilenceThreshold:       5 * time.Minute,
		DispatchWorkers:        4,
		DispatchQueueSize:      256,
		DrainTimeout:           5 * time.Second,
	}
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Channels ChannelSource
	Syncer   RuleSyncer
	Opener   Opener
	Router   EventRouter
	Observer Observer
	Logger   logging.Logger
}

// Manager drives one stream at a time.
type Manager struct {
	cfg  Config
	deps Deps
	log  logging.Logger

	mu    sync.RWMutex
	state ConnectionState
	conn  stream.Source
	// openedAt is when conn was opened; zero while no connection is open.
	openedAt time.Time

	table atomic.Pointer[rules.RoutingTable]

	hooksMu sync.RWMutex
	hooks   []func(from, to State)

	started   atomic.Bool
	synced    atomic.Bool
	reloadMu  sync.Mutex
	queue     chan stream.Event
	failOnce  sync.Once
	fatalErr  atomic.Pointer[error]
	cancelRun atomic.Pointer[context.CancelFunc]
}

// New creates a Manager. Zero timing fields take DefaultConfig values.
func New(deps Deps, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = def.WatchdogInterval
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = def.DispatchWorkers
	}
	if cfg.DispatchQueueSize <= 0 {
		cfg.DispatchQueueSize = def.DispatchQueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	m := &Manager{
		cfg:  cfg,
		deps: deps,
		log:  deps.Logger.WithFields(logging.String("component", "lifecycle")),
	}
	m.state = ConnectionState{State: Idle, StateName: Idle.String(), Since: time.Now()}
	m.table.Store(rules.EmptyTable())
	return m
}

// OnTransition registers fn to be called after every state change. fn runs
// synchronously on the goroutine making the change.
func (m *Manager) OnTransition(fn func(from, to State)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// State returns a snapshot of the connection state.
func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Table returns the routing table in use.
func (m *Manager) Table() *rules.RoutingTable {
	return m.table.Load()
}

// Abort terminates a running Manager with err. Run returns err.
func (m *Manager) Abort(err error) {
	m.fail(err)
}

// Run syncs rules, then holds a stream open until ctx is cancelled (returns
// nil) or a fatal condition occurs (returns the fatal error).
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.cancelRun.Store(&cancel)
	if err := m.fatal(); err != nil {
		return m.terminate(err)
	}

	m.transition(SyncingRules)
	if err := m.syncRules(runCtx); err != nil {
		if fatal := m.fatal(); fatal != nil {
			return m.terminate(fatal)
		}
		if ctx.Err() != nil {
			m.transition(Idle)
			return nil
		}
		return m.terminate(err)
	}
	m.synced.Store(true)

	m.queue = make(chan stream.Event, m.cfg.DispatchQueueSize)
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	var workers sync.WaitGroup
	for i := 0; i < m.cfg.DispatchWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			m.dispatchLoop(dispatchCtx)
		}()
	}
	defer m.drain(&workers, cancelDispatch)

	go m.watchdog(runCtx)

	err := m.connectLoop(runCtx)
	if fatal := m.fatal(); fatal != nil {
		return m.terminate(fatal)
	}
	if err != nil {
		return m.terminate(err)
	}
	m.transition(Idle)
	m.log.Info("Stream lifecycle stopped")
	return nil
}

func (m *Manager) connectLoop(ctx context.Context) error {
	for {
		m.transition(Connecting)
		cause := m.consume(ctx)

		if ctx.Err() != nil {
			return nil
		}

		m.transition(Disconnected)
		m.logDisconnect(cause)

		attempt := m.State().AttemptCount
		delay := m.cfg.backoffDelay(attempt, cause)
		attempt = m.incrementAttempt(cause)
		m.transition(Backoff)

		if attempt > m.cfg.MaxReconnectAttempts {
			return errors.MaxRetriesError(attempt-1, cause)
		}

		m.log.Info("Reconnecting after backoff",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

// consume opens one connection and reads it until it ends. It returns the
// reason the connection ended.
func (m *Manager) consume(ctx context.Context) error {
	src, err := m.deps.Opener.Open(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conn = src
	m.openedAt = time.Now()
	m.mu.Unlock()

	defer func() {
		_ = src.Close()
		m.mu.Lock()
		m.conn = nil
		m.openedAt = time.Time{}
		m.state.Connected = false
		m.mu.Unlock()
	}()

	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if errors.IsType(err, errors.ErrTypeParse) {
				m.touch()
				m.deps.Observer.ObserveParseError()
				m.log.Warn("Skipping malformed frame", logging.String("error", err.Error()))
				continue
			}
			return err
		}

		m.deps.Observer.ObserveFrame(ev.Kind)

		switch ev.Kind {
		case stream.KindConnectionLimit:
			m.touch()
			return errors.ConnectionLimitError(ev.Detail).WithContext("title", ev.Title)
		case stream.KindError:
			m.markAlive()
			m.log.Warn("Upstream reported a stream error",
				logging.String("title", ev.Title),
				logging.String("detail", ev.Detail),
			)
		case stream.KindData:
			m.markAlive()
			m.enqueue(ev)
		default:
			m.markAlive()
		}
	}
}

// markAlive records a frame: the stream is connected and healthy.
func (m *Manager) markAlive() {
	now := time.Now()
	m.mu.Lock()
	first := m.state.State == Connecting
	m.state.Connected = true
	m.state.AttemptCount = 0
	m.state.LastAlive = now
	m.state.LastError = ""
	m.mu.Unlock()

	m.deps.Observer.ObserveLastAlive(now)
	if first {
		m.transition(Connected)
	}
}

// touch records liveness without treating the connection as healthy.
func (m *Manager) touch() {
	now := time.Now()
	m.mu.Lock()
	m.state.LastAlive = now
	m.mu.Unlock()
	m.deps.Observer.ObserveLastAlive(now)
}

func (m *Manager) incrementAttempt(cause error) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.AttemptCount++
	if cause != nil {
		m.state.LastError = cause.Error()
	}
	return m.state.AttemptCount
}

func (m *Manager) enqueue(ev stream.Event) {
	select {
	case m.queue <- ev:
		m.deps.Observer.ObserveQueueDepth(len(m.queue))
	default:
		m.deps.Observer.ObserveDropped()
		tweetID := ""
		if ev.Tweet != nil {
			tweetID = ev.Tweet.ID
		}
		m.log.Warn("Dispatch queue full, dropping event",
			logging.String("tweet_id", tweetID),
			logging.Int("queue_size", cap(m.queue)),
		)
	}
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.queue:
			if !ok {
				return
			}
			m.deps.Observer.ObserveQueueDepth(len(m.queue))
			m.deps.Router.Route(ctx, ev, m.table.Load())
		}
	}
}

// drain stops accepting events and gives workers DrainTimeout to finish the
// queue before their deliveries are cancelled.
func (m *Manager) drain(workers *sync.WaitGroup, cancel context.CancelFunc) {
	close(m.queue)

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()

	timer := time.NewTimer(m.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.log.Warn("Dispatch drain timed out", logging.Int("pending", len(m.queue)))
	}
	cancel()
	<-done
}

// watchdog terminates the run when an open stream has been silent for
// longer than the threshold. A connection that has not yet delivered its
// first frame counts from the moment it was opened.
func (m *Manager) watchdog(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			since, watched := m.silentSince()
			if !watched {
				continue
			}
			if silence := now.Sub(since); silence > m.cfg.SilenceThreshold {
				m.log.Error("Stream went silent", nil,
					logging.Duration("silence", silence),
					logging.Time("last_alive", m.State().LastAlive),
				)
				m.fail(errors.SilentDisconnectError(silence.Round(time.Second).String()))
				return
			}
		}
	}
}

// silentSince returns the time silence is measured from, and false when no
// connection is open to be silent.
func (m *Manager) silentSince() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.state.State == Connected && m.state.Connected:
		return m.state.LastAlive, true
	case m.state.State == Connecting && !m.openedAt.IsZero():
		if m.state.LastAlive.After(m.openedAt) {
			return m.state.LastAlive, true
		}
		return m.openedAt, true
	}
	return time.Time{}, false
}

func (m *Manager) syncRules(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	set, err := m.buildRules(ctx)
	if err != nil {
		return err
	}
	return m.pushRules(ctx, set)
}

func (m *Manager) buildRules(ctx context.Context) (*rules.RuleSet, error) {
	channels, err := m.deps.Channels.Channels(ctx)
	if err != nil {
		return nil, errors.InternalError("failed to load channels", err)
	}

	set, err := rules.Build(channels, m.cfg.Rules)
	if err != nil {
		return nil, err
	}
	if set.Truncated > 0 {
		m.log.Warn("Rule set truncated, some accounts will not be streamed",
			logging.Int("dropped_rules", set.Truncated),
			logging.Strings("dropped_accounts", set.DroppedAccounts),
		)
	}
	return set, nil
}

func (m *Manager) pushRules(ctx context.Context, set *rules.RuleSet) error {
	if _, err := m.deps.Syncer.Sync(ctx, set.Rules); err != nil {
		return err
	}

	m.table.Store(set.Table)
	now := time.Now()
	m.mu.Lock()
	m.state.RuleCount = len(set.Rules)
	m.state.Accounts = set.Table.Len()
	m.state.LastSync = now
	m.mu.Unlock()

	m.deps.Observer.ObserveRules(len(set.Rules), set.Truncated)
	m.log.Info("Rules synchronized",
		logging.Int("rules", len(set.Rules)),
		logging.Int("accounts", set.Table.Len()),
	)
	return nil
}

// Reload rebuilds rules from the channel source and pushes them upstream
// while the stream stays open. A configuration that cannot be turned into
// rules is rejected and leaves everything unchanged. A failed upstream sync
// leaves the upstream state unknown and terminates the run.
func (m *Manager) Reload(ctx context.Context) error {
	if !m.synced.Load() {
		return ErrNotRunning
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	set, err := m.buildRules(ctx)
	if err != nil {
		m.log.Error("Rejected channel reload", err)
		return err
	}
	if err := m.pushRules(ctx, set); err != nil {
		m.fail(err)
		return err
	}
	return nil
}

func (m *Manager) fail(err error) {
	m.failOnce.Do(func() {
		m.fatalErr.Store(&err)
		if cancel := m.cancelRun.Load(); cancel != nil {
			(*cancel)()
		}
	})
}

func (m *Manager) fatal() error {
	if p := m.fatalErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Manager) terminate(err error) error {
	fatal := errors.IsFatal(err)
	m.mu.Lock()
	m.state.Connected = false
	m.state.LastError = err.Error()
	m.state.Fatal = fatal
	m.mu.Unlock()

	m.transition(Terminated)
	m.log.Error("Stream lifecycle terminated", err,
		logging.String("error_type", string(errors.GetType(err))),
		logging.Bool("fatal", fatal),
	)
	return err
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state.State
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state.State = to
	m.state.StateName = to.String()
	m.state.Since = time.Now()
	m.mu.Unlock()

	m.log.Debug("State transition", logging.String("from", from.String()), logging.String("to", to.String()))
	m.deps.Observer.ObserveTransition(from, to)

	m.hooksMu.RLock()
	hooks := append([]func(from, to State){}, m.hooks...)
	m.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(from, to)
	}
}

func (m *Manager) logDisconnect(cause error) {
	var disconnected *stream.DisconnectedError
	switch {
	case stderrors.Is(cause, stream.ErrStreamClosed):
		m.log.Warn("Stream closed by server")
	case stderrors.As(cause, &disconnected):
		m.log.Warn("Stream disconnected", logging.String("error", disconnected.Cause.Error()))
	case errors.IsType(cause, errors.ErrTypeConnectionLimit):
		m.log.Warn("Upstream connection limit reached", logging.String("error", cause.Error()))
	case cause != nil:
		m.log.Warn("Stream connection failed", logging.String("error", cause.Error()))
	}
}

type nopObserver struct{}

func (nopObserver) ObserveTransition(State, State) {}
func (nopObserver) ObserveFrame(stream.Kind)       {}
func (nopObserver) ObserveParseError()             {}
func (nopObserver) ObserveDropped()                {}
func (nopObserver) ObserveQueueDepth(int)          {}
func (nopObserver) ObserveRules(int, int)          {}
func (nopObserver) ObserveLastAlive(time.Time)     {}
