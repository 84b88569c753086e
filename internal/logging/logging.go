// Package logging configures zerolog for Cadence.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = zerolog.New(defaultWriter()).With().Timestamp().Logger()
)

// Options control the global logger configuration.
type Options struct {
	// Level is the minimum level to emit (debug, info, warn, error).
	Level string

	// Format selects the output format: "console" or "json".
	Format string

	// Output overrides the destination. Defaults to stderr.
	Output io.Writer
}

// Setup configures the process-wide root logger.
func Setup(opts Options) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level)); err == nil && opts.Level != "" {
		level = parsed
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.ToLower(opts.Format) != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	mu.Lock()
	root = zerolog.New(out).Level(level).With().Timestamp().Logger()
	mu.Unlock()
}

// Component returns a logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}

// Root returns the root logger.
func Root() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

func defaultWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
}
