package app

import (
	"context"
	"fmt"

	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/storage"

	// Adapters register themselves with the storage registry.
	_ "stream-bridge/internal/storage/postgres"
	_ "stream-bridge/internal/storage/sqlite"
)

func (app *App) initializeStorage(ctx context.Context) error {
	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL")
	default:
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	store, err := storage.NewStorage(app.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.Store = store

	if app.Config.SeedChannelsFile == "" {
		return nil
	}
	seeded, err := storage.Seed(ctx, store, app.Config.SeedChannelsFile, app.Logger)
	if err != nil {
		return err
	}
	if seeded > 0 {
		app.Logger.Info("Seeded channel store",
			logging.Int("channels", seeded),
			logging.String("file", app.Config.SeedChannelsFile),
		)
	}
	return nil
}
