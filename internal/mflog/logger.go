package mflog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger for CLI use: a
// console-writer on stderr, info level by default, debug when asked.
func Init(debug bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// For returns a component-scoped sub-logger, the way every teacher
// package asks for "op"-tagged log lines.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
