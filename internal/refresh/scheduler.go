// Package refresh reloads the channel configuration on a cron schedule so
// rule changes made directly in the database reach the upstream service
// without a restart.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
)

// DefaultTimeout bounds a single reload.
const DefaultTimeout = 30 * time.Second

// Reloader re-reads channels and resynchronizes rules.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Scheduler runs Reload on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron     *cron.Cron
	entry    cron.EntryID
	reloader Reloader
	timeout  time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	runs    int
	lastErr error
}

// New parses schedule (standard five-field syntax or descriptors such as
// "@every 10m") and returns a stopped Scheduler.
func New(schedule string, reloader Reloader, logger logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithFields(logging.String("component", "refresh"))

	s := &Scheduler{
		reloader: reloader,
		timeout:  DefaultTimeout,
		logger:   logger,
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	entry, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid refresh schedule %q: %v", schedule, err))
	}
	s.entry = entry
	return s, nil
}

// Start begins scheduling in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Rule refresh scheduled", logging.Time("next_run", s.Next()))
}

// Stop stops scheduling and waits for a running reload to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Runs returns how many reloads have completed and the error of the last.
func (s *Scheduler) Runs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.lastErr
}

// RunOnce performs one reload immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.reloader.Reload(ctx)

	s.mu.Lock()
	s.runs++
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled rule refresh failed", err)
		return err
	}
	s.logger.Info("Scheduled rule refresh completed", logging.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Scheduler) run() {
	_ = s.RunOnce(context.Background())
}

// cronLogger routes cron's own logging through the application logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvFields(keysAndValues)...)
}

func kvFields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields = append(fields, logging.Any(key, keysAndValues[i+1]))
	}
	return fields
}
