package postgres

import (
	"context"
	"fmt"

	"stream-bridge/internal/storage"
)

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.ChannelStore, error) {
	switch c := config.(type) {
	case *Config:
		return NewAdapter(context.Background(), c)
	case storage.GenericConfig:
		return NewAdapter(context.Background(), &Config{URL: c["url"]})
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
