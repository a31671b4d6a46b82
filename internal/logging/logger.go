// Package logging builds the technical logger used by the eassl command.
// Audit events go through pkg/audit, not through this logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Level maps the number of -v flags to a level: warnings by default, info
// with -v, debug with -vv and trace beyond.
func Level(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// New returns a logger writing to w, human-readable when console is set and
// JSON otherwise.
func New(w io.Writer, verbosity int, console bool) zerolog.Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(Level(verbosity)).With().Timestamp().Logger()
}

// Setup returns the stderr logger, using the console format when stderr is
// a terminal.
func Setup(verbosity int) zerolog.Logger {
	return New(os.Stderr, verbosity, term.IsTerminal(int(os.Stderr.Fd())))
}
