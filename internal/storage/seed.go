package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
)

// SeedChannel is one entry of a seed file.
type SeedChannel struct {
	Name        string   `json:"name"`
	Destination string   `json:"destination"`
	Accounts    []string `json:"accounts"`
	Enabled     *bool    `json:"enabled,omitempty"`
}

// Seed imports channels from a JSON array file into an empty store. A store
// that already holds channels is left alone. It returns the number imported.
func Seed(ctx context.Context, store ChannelStore, path string, logger logging.Logger) (int, error) {
	count, err := store.CountChannels(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logger.Debug("Channel store already populated, skipping seed", logging.Int("channels", count))
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.ConfigError(fmt.Sprintf("failed to read seed file %s: %v", path, err))
	}

	var seeds []SeedChannel
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, errors.ConfigError(fmt.Sprintf("invalid seed file %s: %v", path, err))
	}

	for i, s := range seeds {
		enabled := true
		if s.Enabled != nil {
			enabled = *s.Enabled
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("channel-%d", i+1)
		}

		ch := &Channel{
			Name:        name,
			Destination: s.Destination,
			Accounts:    s.Accounts,
			Enabled:     enabled,
		}
		if err := store.CreateChannel(ctx, ch); err != nil {
			return i, err
		}
	}

	logger.Info("Seeded channel store", logging.Int("channels", len(seeds)), logging.String("file", path))
	return len(seeds), nil
}
