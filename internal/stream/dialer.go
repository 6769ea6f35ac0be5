package stream

import (
	"context"
	"net/http"
)

// Source produces events until it returns a terminal error.
type Source interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Dialer opens a fresh Connection on every call.
type Dialer struct {
	Client *http.Client
	Config Config
}

// NewDialer creates a Dialer. client should have no overall timeout.
func NewDialer(client *http.Client, cfg Config) *Dialer {
	return &Dialer{Client: client, Config: cfg}
}

// Open implements the opener used by the lifecycle manager.
func (d *Dialer) Open(ctx context.Context) (Source, error) {
	conn, err := Open(ctx, d.Client, d.Config)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
