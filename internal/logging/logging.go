// Package logging provides the process-wide zerolog base logger.
//
// Every component derives a child logger from GetDefaultLogger() by tagging
// a "component" field, mirroring the convention used throughout the audio
// engine this module was adapted from.
package logging

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once         sync.Once
	defaultLevel = zerolog.InfoLevel
	base         zerolog.Logger
)

// Init configures the base logger's level and output format. Safe to call
// once at process start; subsequent calls are no-ops.
func Init(level string, pretty bool) {
	once.Do(func() {
		if lvl, err := zerolog.ParseLevel(level); err == nil {
			defaultLevel = lvl
		}
		zerolog.SetGlobalLevel(defaultLevel)
		zerolog.TimeFieldFormat = time.RFC3339Nano

		var w = os.Stderr
		if pretty {
			console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
			base = zerolog.New(console).With().Timestamp().Logger()
			return
		}
		base = zerolog.New(w).With().Timestamp().Logger()
	})
}

// GetDefaultLogger returns the process-wide base logger, initializing it
// with sane defaults if Init was never called.
func GetDefaultLogger() *zerolog.Logger {
	Init("info", false)
	return &base
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return GetDefaultLogger().With().Str("component", name).Logger()
}
