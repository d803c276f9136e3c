// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the output format and starting level.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // "console" or "json"

	// Tap, if set, also receives every entry as a raw JSON line.
	Tap io.Writer
}

// New returns a timestamped logger writing to stdout.
func New(opts Options) zerolog.Logger {
	return NewWithWriter(opts, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(opts Options, w io.Writer) zerolog.Logger {
	SetLevel(opts.Level)

	var out io.Writer = w
	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	if opts.Tap != nil {
		out = zerolog.MultiLevelWriter(out, opts.Tap)
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLevel changes the global level. Unknown names fall back to info.
func SetLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}
