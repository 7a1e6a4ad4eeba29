// Package logger provides the service-wide zerolog setup.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level       string // trace|debug|info|warn|error; defaults to info
	Environment string // "development" enables console output
	ServiceName string
	Version     string
}

// Logger embeds zerolog.Logger so call sites use the fluent API directly.
type Logger struct {
	zerolog.Logger
}

// New builds a Logger writing JSON to stdout, or pretty console output in
// development.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out = zerolog.New(os.Stdout)
	if cfg.Environment == "development" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	l := out.Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Logger()

	return &Logger{Logger: l}
}

// Nop returns a disabled logger for tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}
