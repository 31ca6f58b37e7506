package app

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog.Logger formatted for env.
// prod: JSON at INFO level
// others: console output at DEBUG level
func NewLogger(env string) zerolog.Logger {
	return newLogger(env, os.Stdout)
}

func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "prod" {
		return zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(console).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}
