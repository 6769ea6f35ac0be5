package postgres

import (
	"fmt"
	"net/url"
)

type Config struct {
	URL      string
	MaxConns int32
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("PostgreSQL URL is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid PostgreSQL URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("PostgreSQL URL must use the postgres:// scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("PostgreSQL host is required")
	}

	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}

func (c *Config) GetConnectionString() string {
	return c.URL
}
