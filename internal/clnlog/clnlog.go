// Package clnlog configures the zerolog logger shared by every
// component of cln.
package clnlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured by Init.
var Logger zerolog.Logger

// Config holds logging configuration.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	JSON   bool
	Output io.Writer
}

// Init configures the global Logger. It is safe to call more than
// once; the most recent call wins.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSON {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// A usable default before Init runs, e.g. in tests that import a
	// component package directly without going through cmd/cln.
	Init(Config{Level: "info"})
}

// WithComponent returns a child logger tagged with a component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
