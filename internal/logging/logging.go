// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (os.Stderr in production, a
// buffer in tests). levelName follows zerolog's level strings
// ("debug", "info", "warn", "error"); an unrecognized value falls back
// to info.
func New(w io.Writer, levelName string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// NewConsole builds a human-readable logger for local/CLI use.
func NewConsole(levelName string) zerolog.Logger {
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}
