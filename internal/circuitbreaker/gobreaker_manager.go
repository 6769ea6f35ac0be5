package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"stream-bridge/internal/common/logging"
)

// GoBreakerManager holds one breaker per destination URL. Breakers are
// created lazily on the first delivery to a destination and dropped when
// a reload removes it.
type GoBreakerManager struct {
	config Config
	logger logging.Logger

	mu       sync.Mutex
	breakers map[string]*GoBreakerAdapter
}

func NewGoBreakerManager(config Config, logger logging.Logger) *GoBreakerManager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &GoBreakerManager{
		config:   config,
		logger:   logger.WithFields(logging.String("component", "circuitbreaker")),
		breakers: map[string]*GoBreakerAdapter{},
	}
}

// GetOrCreate returns the breaker for destination.
func (m *GoBreakerManager) GetOrCreate(destination string) *GoBreakerAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[destination]
	if !ok {
		b = NewGoBreaker(destination, m.config, m.logger)
		m.breakers[destination] = b
	}
	return b
}

// Execute runs fn through the destination's breaker.
func (m *GoBreakerManager) Execute(ctx context.Context, destination string, fn func() error) error {
	return m.GetOrCreate(destination).Execute(ctx, fn)
}

// AllStats snapshots every breaker, sorted by destination.
func (m *GoBreakerManager) AllStats() []Stats {
	m.mu.Lock()
	snapshot := make([]*GoBreakerAdapter, 0, len(m.breakers))
	for _, b := range m.breakers {
		snapshot = append(snapshot, b)
	}
	m.mu.Unlock()

	stats := make([]Stats, len(snapshot))
	for i, b := range snapshot {
		stats[i] = b.Stats()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Retain forgets every destination not in active.
func (m *GoBreakerManager) Retain(active []string) {
	keep := make(map[string]struct{}, len(active))
	for _, d := range active {
		keep[d] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for d := range m.breakers {
		if _, ok := keep[d]; !ok {
			delete(m.breakers, d)
		}
	}
}

// IsOpen is false for destinations that have never been used.
func (m *GoBreakerManager) IsOpen(destination string) bool {
	m.mu.Lock()
	b, ok := m.breakers[destination]
	m.mu.Unlock()
	return ok && b.IsOpen()
}
