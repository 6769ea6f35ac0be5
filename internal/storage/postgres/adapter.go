package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/storage"
)

type Adapter struct {
	pool   *pgxpool.Pool
	config *Config
}

func NewAdapter(ctx context.Context, config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		pool:   pool,
		config: config,
	}

	if err := adapter.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			seq BIGSERIAL UNIQUE,
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			destination TEXT NOT NULL,
			accounts TEXT[] NOT NULL DEFAULT '{}',
			enabled BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := a.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

const selectChannel = `SELECT id::text, name, destination, accounts, enabled, created_at, updated_at FROM channels`

func (a *Adapter) ListChannels(ctx context.Context) ([]*storage.Channel, error) {
	rows, err := a.pool.Query(ctx, selectChannel+` ORDER BY seq`)
	if err != nil {
		return nil, errors.InternalError("failed to list channels", err)
	}
	defer rows.Close()

	channels := []*storage.Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to list channels", err)
	}
	return channels, nil
}

func (a *Adapter) GetChannel(ctx context.Context, id string) (*storage.Channel, error) {
	ch, err := scanChannel(a.pool.QueryRow(ctx, selectChannel+` WHERE id::text = $1`, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundError("channel")
	}
	return ch, err
}

func (a *Adapter) CreateChannel(ctx context.Context, channel *storage.Channel) error {
	channel.PrepareForCreate(time.Now().UTC())

	_, err := a.pool.Exec(ctx,
		`INSERT INTO channels (id, name, destination, accounts, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		channel.ID, channel.Name, channel.Destination, channel.Accounts, channel.Enabled,
		channel.CreatedAt, channel.UpdatedAt,
	)
	if err != nil {
		return errors.InternalError("failed to create channel", err)
	}
	return nil
}

func (a *Adapter) UpdateChannel(ctx context.Context, channel *storage.Channel) error {
	if channel.Accounts == nil {
		channel.Accounts = []string{}
	}
	channel.UpdatedAt = time.Now().UTC()

	tag, err := a.pool.Exec(ctx,
		`UPDATE channels SET name = $1, destination = $2, accounts = $3, enabled = $4, updated_at = $5 WHERE id::text = $6`,
		channel.Name, channel.Destination, channel.Accounts, channel.Enabled, channel.UpdatedAt, channel.ID,
	)
	if err != nil {
		return errors.InternalError("failed to update channel", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError("channel")
	}
	return nil
}

func (a *Adapter) DeleteChannel(ctx context.Context, id string) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM channels WHERE id::text = $1`, id)
	if err != nil {
		return errors.InternalError("failed to delete channel", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError("channel")
	}
	return nil
}

func (a *Adapter) CountChannels(ctx context.Context) (int, error) {
	var count int
	if err := a.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels`).Scan(&count); err != nil {
		return 0, errors.InternalError("failed to count channels", err)
	}
	return count, nil
}

func scanChannel(row pgx.Row) (*storage.Channel, error) {
	var ch storage.Channel
	err := row.Scan(&ch.ID, &ch.Name, &ch.Destination, &ch.Accounts, &ch.Enabled, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.InternalError("failed to read channel", err)
	}
	if ch.Accounts == nil {
		ch.Accounts = []string{}
	}
	return &ch, nil
}
