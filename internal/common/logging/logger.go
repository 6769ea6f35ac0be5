package logging

import (
	"fmt"
	"os"
)

// NewFromEnv builds the process logger from LOG_LEVEL, LOG_FORMAT and
// LOG_FILE values. An empty file logs to stdout.
func NewFromEnv(level, format, file string) (*ZapAdapter, error) {
	config := LogConfig{Level: ParseLevel(level), Format: ParseFormat(format)}

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", file, err)
		}
		config.Output = f
	}

	return NewZapLogger(config)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field)        {}
func (nopLogger) Info(string, ...Field)         {}
func (nopLogger) Warn(string, ...Field)         {}
func (nopLogger) Error(string, error, ...Field) {}
func (n nopLogger) WithFields(...Field) Logger  { return n }
