// Package xlog provides the shared zerolog logger used across pelorus's
// components. It is an internal package: applications set the minimum level
// through SetGlobalLevel (or zerolog.SetGlobalLevel); output always goes to
// stderr through a zerolog console writer.
package xlog

import (
	"os"

	"github.com/rs/zerolog"
)

// base is the root logger. Components derive a named sub-logger from it via
// For, so every log line carries a "component" field.
var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
	With().Timestamp().Logger()

// For returns a logger tagged with the given component name.
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// SetGlobalLevel adjusts the minimum level logged across all components.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
