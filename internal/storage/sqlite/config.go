package sqlite

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config selects the SQLite database file. ":memory:" keeps channels in
// process memory only.
type Config struct {
	DatabasePath string
	// BusyTimeout bounds how long a write waits on a locked database.
	BusyTimeout time.Duration
}

const inMemory = ":memory:"

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("sqlite database path is required")
	}
	if c.DatabasePath == inMemory {
		return nil
	}
	if info, err := os.Stat(filepath.Dir(c.DatabasePath)); err != nil || !info.IsDir() {
		return fmt.Errorf("sqlite database directory %s does not exist", filepath.Dir(c.DatabasePath))
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

// GetConnectionString builds the go-sqlite3 DSN. File databases use WAL so
// status reads are not blocked by admin writes.
func (c *Config) GetConnectionString() string {
	if c.DatabasePath == inMemory {
		return inMemory
	}
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))
	return c.DatabasePath + "?" + params.Encode()
}
