// Package logging builds the process-wide structured logger. Production
// code never reaches for the global zerolog logger directly; every
// component is handed a *zerolog.Logger at construction.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger. Pretty console output in dev (DEMO_MODE-style
// local runs), structured JSON otherwise.
func New(pretty bool, level string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(w).With().Timestamp().Caller().Logger()
}
