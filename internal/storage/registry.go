package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"stream-bridge/internal/common/errors"
)

// Registry maps a database type to the factory that opens it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]StorageFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]StorageFactory)}
}

// Register panics on a nil factory or a type registered twice. Adapters
// call it from init, so either mistake is a build-time wiring bug.
func (r *Registry) Register(dbType string, factory StorageFactory) {
	if factory == nil {
		panic("storage: Register factory is nil for " + dbType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[dbType]; dup {
		panic("storage: Register called twice for " + dbType)
	}
	r.factories[dbType] = factory
}

// Open builds a store with the factory registered for dbType. An unknown
// type is a config error naming the types that are available.
func (r *Registry) Open(dbType string, config StorageConfig) (ChannelStore, error) {
	r.mu.RLock()
	factory, ok := r.factories[dbType]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("storage type %q not registered (available: %s)",
			dbType, strings.Join(r.Types(), ", ")))
	}
	return factory.Create(config)
}

// Types lists registered database types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

var defaultRegistry = NewRegistry()

// Register adds a factory to the process-wide registry.
func Register(dbType string, factory StorageFactory) {
	defaultRegistry.Register(dbType, factory)
}

// Open uses the process-wide registry.
func Open(dbType string, config StorageConfig) (ChannelStore, error) {
	return defaultRegistry.Open(dbType, config)
}

// Types lists the database types linked into this binary.
func Types() []string {
	return defaultRegistry.Types()
}
