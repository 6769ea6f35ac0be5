package storage

import (
	"context"

	"stream-bridge/internal/rules"
)

// ChannelSource reads the configured channels for rule building.
type ChannelSource struct {
	store ChannelStore
}

// NewChannelSource creates a ChannelSource over store.
func NewChannelSource(store ChannelStore) *ChannelSource {
	return &ChannelSource{store: store}
}

// Channels returns every channel in store order. Disabled channels are
// included and marked so the rule builder can skip them.
func (s *ChannelSource) Channels(ctx context.Context) ([]rules.Channel, error) {
	stored, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}

	channels := make([]rules.Channel, 0, len(stored))
	for _, ch := range stored {
		channels = append(channels, rules.Channel{
			Destination: ch.Destination,
			Accounts:    append([]string(nil), ch.Accounts...),
			Disabled:    !ch.Enabled,
		})
	}
	return channels, nil
}
