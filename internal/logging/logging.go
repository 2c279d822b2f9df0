package logging

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Init sets up the global zerolog level and returns a logger tagged with the
// service name. Output is human-readable on a terminal and JSON otherwise.
// Unknown levels fall back to info.
func Init(level, service string) zerolog.Logger {
	return New(os.Stdout, level, service)
}

// New builds a logger writing to w. See Init.
func New(w io.Writer, level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}

	return zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
}
