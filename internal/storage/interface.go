// Package storage persists channel configuration: which webhook destination
// receives events for which accounts. Adapters register themselves with the
// default Registry under their database type.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Channel is one webhook destination and the accounts it follows.
type Channel struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Destination string    `json:"destination"`
	Accounts    []string  `json:"accounts"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChannelStore is implemented by every storage adapter.
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]*Channel, error)
	GetChannel(ctx context.Context, id string) (*Channel, error)
	// CreateChannel assigns ID and timestamps when they are empty.
	CreateChannel(ctx context.Context, channel *Channel) error
	// UpdateChannel replaces name, destination, accounts and enabled, and
	// refreshes UpdatedAt.
	UpdateChannel(ctx context.Context, channel *Channel) error
	DeleteChannel(ctx context.Context, id string) error
	CountChannels(ctx context.Context) (int, error)

	Health(ctx context.Context) error
	Close() error
}

// StorageConfig is the adapter-specific configuration passed to a Factory.
type StorageConfig interface {
	Validate() error
	GetType() string
}

// StorageFactory creates a ChannelStore from its configuration.
type StorageFactory interface {
	Create(config StorageConfig) (ChannelStore, error)
	GetType() string
}

// PrepareForCreate fills ID and timestamps that the caller left empty.
func (c *Channel) PrepareForCreate(now time.Time) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	if c.Accounts == nil {
		c.Accounts = []string{}
	}
}
