package storage

import (
	"fmt"
	"strings"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/config"
)

// GenericConfig carries adapter settings as plain key/value pairs so the
// factory does not need to import the adapters.
type GenericConfig map[string]string

func (g GenericConfig) Validate() error {
	return nil
}

func (g GenericConfig) GetType() string {
	return g["type"]
}

// NewStorage creates the channel store selected by DATABASE_TYPE. The
// adapter package must be imported for its factory to be registered.
func NewStorage(cfg *config.Config) (ChannelStore, error) {
	var storageConfig GenericConfig

	dbType := strings.ToLower(cfg.DatabaseType)
	switch dbType {
	case "sqlite":
		storageConfig = GenericConfig{
			"type": "sqlite",
			"path": cfg.DatabasePath,
		}

	case "postgres", "postgresql":
		dbType = "postgres"
		storageConfig = GenericConfig{
			"type": "postgres",
			"url":  cfg.DatabaseURL,
		}

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	return Open(dbType, storageConfig)
}
