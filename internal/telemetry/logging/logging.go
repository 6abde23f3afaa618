// Package logging provides the structured logger shared by every
// component. It replaces the teacher's bare log.Printf("[%s] ...", id)
// style with scoped zerolog child loggers, following the pattern used by
// the PBS ad-exchange server's pkg/logger package in the retrieval pack.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide base logger, configured once by Init.
var Log zerolog.Logger

// Config controls the base logger's verbosity and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console, json
}

// DefaultConfig mirrors the teacher's terse, human-facing console output.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

// Init configures the global logger. Call once from main.
func Init(cfg Config) {
	var out io.Writer = os.Stdout
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	Log = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Replica returns a logger scoped to one replica's own id.
func Replica(id int) zerolog.Logger {
	return Log.With().Int("replica_id", id).Logger()
}

// Ring returns a logger scoped to the ring coordinator component (C3).
func Ring(id int) zerolog.Logger {
	return Log.With().Int("replica_id", id).Str("component", "ring").Logger()
}

// Session returns a logger scoped to the session controller (C5).
func Session(id int) zerolog.Logger {
	return Log.With().Int("replica_id", id).Str("component", "session").Logger()
}

// Handler returns a logger scoped to one bidder session handler (C4).
func Handler(id int, addr string) zerolog.Logger {
	return Log.With().Int("replica_id", id).Str("component", "handler").Str("bidder_addr", addr).Logger()
}

// Client returns a logger scoped to the client runtime (Cx).
func Client() zerolog.Logger {
	return Log.With().Str("component", "client").Logger()
}
