// Package logging wires the process-wide zerolog logger used by every
// subsystem. It is a singleton only for caller convenience; the core
// functions accept a logger value rather than reaching for this package
// directly, per the "process-wide config" design note.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Get returns the process-wide logger, initialising it on first use to
// write structured JSON to stderr.
func Get() zerolog.Logger {
	once.Do(func() {
		logger = New(os.Stderr, false)
	})
	return logger
}

// New builds a logger writing to w. When pretty is true, output is a
// human-readable console format; otherwise it is structured JSON, which is
// what a daemon or cron invocation wants in its logs.
func New(w io.Writer, pretty bool) zerolog.Logger {
	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLevel adjusts the minimum level of the process-wide logger.
func SetLevel(level zerolog.Level) {
	Get()
	logger = logger.Level(level)
}
