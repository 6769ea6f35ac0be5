package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/config"
)

type memoryStore struct {
	ChannelStore
	path string
}

func (m *memoryStore) Close() error { return nil }

type memoryFactory struct{}

func (memoryFactory) Create(cfg StorageConfig) (ChannelStore, error) {
	return &memoryStore{path: cfg.(GenericConfig)["path"]}, nil
}

func (memoryFactory) GetType() string { return "memory" }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("memory", memoryFactory{})
	r.Register("alpha", memoryFactory{})

	assert.Equal(t, []string{"alpha", "memory"}, r.Types())

	store, err := r.Open("memory", GenericConfig{"type": "memory", "path": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", store.(*memoryStore).path)

	_, err = r.Open("mysql", GenericConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	assert.Contains(t, err.Error(), "alpha, memory")

	assert.Panics(t, func() { r.Register("memory", memoryFactory{}) })
	assert.Panics(t, func() { r.Register("nil", nil) })
}

func TestNewStorage_UnsupportedType(t *testing.T) {
	_, err := NewStorage(&config.Config{DatabaseType: "mysql"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestNewStorage_NotLinked(t *testing.T) {
	// Adapters register from their own packages, which this test does not import.
	_, err := NewStorage(&config.Config{DatabaseType: "postgres", DatabaseURL: "postgres://localhost/x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}
