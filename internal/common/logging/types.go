// Package logging provides the structured logging facade used across the
// bridge. Components depend on the Logger interface; the zap adapter is the
// only production implementation.
package logging

import (
	"io"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is what every component receives through its constructor.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
}

// Format selects the encoder.
type Format string

const (
	// FormatConsole is human-readable, one line per entry.
	FormatConsole Format = "console"
	// FormatJSON emits one JSON object per entry for log shippers.
	FormatJSON Format = "json"
)

// LogConfig holds logger configuration
type LogConfig struct {
	Level  zapcore.Level
	Format Format
	// Output defaults to stdout.
	Output io.Writer
	// Name is attached to every entry as the logger name.
	Name string
}

// ParseLevel maps LOG_LEVEL values onto zap levels. "warning" is accepted
// as an alias and anything unrecognized is info.
func ParseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		return zapcore.WarnLevel
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil || s == "" {
		return zapcore.InfoLevel
	}
	if level > zapcore.ErrorLevel {
		return zapcore.ErrorLevel
	}
	return level
}

// ParseFormat maps LOG_FORMAT values; anything but "json" is console.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatConsole
}
