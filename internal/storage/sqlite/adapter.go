package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases
	// from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			destination TEXT NOT NULL,
			accounts TEXT NOT NULL DEFAULT '[]',
			enabled BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_created_at ON channels(created_at)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

const selectChannel = `SELECT id, name, destination, accounts, enabled, created_at, updated_at FROM channels`

func (a *Adapter) ListChannels(ctx context.Context) ([]*storage.Channel, error) {
	rows, err := a.db.QueryContext(ctx, selectChannel+` ORDER BY created_at, rowid`)
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
	row := a.db.QueryRowContext(ctx, selectChannel+` WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("channel")
	}
	return ch, err
}

func (a *Adapter) CreateChannel(ctx context.Context, channel *storage.Channel) error {
	channel.PrepareForCreate(time.Now().UTC())

	accounts, err := json.Marshal(channel.Accounts)
	if err != nil {
		return errors.InternalError("failed to encode accounts", err)
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO channels (id, name, destination, accounts, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		channel.ID, channel.Name, channel.Destination, string(accounts), channel.Enabled,
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
	accounts, err := json.Marshal(channel.Accounts)
	if err != nil {
		return errors.InternalError("failed to encode accounts", err)
	}

	channel.UpdatedAt = time.Now().UTC()
	res, err := a.db.ExecContext(ctx,
		`UPDATE channels SET name = ?, destination = ?, accounts = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		channel.Name, channel.Destination, string(accounts), channel.Enabled, channel.UpdatedAt, channel.ID,
	)
	if err != nil {
		return errors.InternalError("failed to update channel", err)
	}
	return requireAffected(res)
}

func (a *Adapter) DeleteChannel(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	if err != nil {
		return errors.InternalError("failed to delete channel", err)
	}
	return requireAffected(res)
}

func (a *Adapter) CountChannels(ctx context.Context) (int, error) {
	var count int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&count); err != nil {
		return 0, errors.InternalError("failed to count channels", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChannel(s scanner) (*storage.Channel, error) {
	var (
		ch       storage.Channel
		accounts string
	)
	err := s.Scan(&ch.ID, &ch.Name, &ch.Destination, &accounts, &ch.Enabled, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.InternalError("failed to read channel", err)
	}
	if err := json.Unmarshal([]byte(accounts), &ch.Accounts); err != nil {
		return nil, errors.InternalError("failed to decode accounts", err)
	}
	return &ch, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.InternalError("failed to read affected rows", err)
	}
	if n == 0 {
		return errors.NotFoundError("channel")
	}
	return nil
}
