// Package logger provides the configured zerolog logger for the relay.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger tagged with serviceName. Development builds get the console writer,
// everything else writes JSON to stdout.
func New(serviceName, env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(lvl).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}
