//go:build !logless

// Package corelog provides the package-level logger shared by every
// worker and the supervisor. Adapted from the teacher's pkg/core/logger
// package: a zerolog logger with caller info and a console writer, with a
// build-tag-selectable empty implementation (logger_empty.go) for
// size-constrained builds.
package corelog

import (
	"os"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// Log is the process-wide logger. Every worker and the supervisor log
// through this value; nothing outside cmd/rsc writes to stdout/stderr
// directly.
var Log = logger.With().Caller().Logger().Output(zerolog.ConsoleWriter{Out: os.Stderr})

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// SetLevel adjusts the global log level, e.g. raised to debug by -d.
func SetLevel(debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
