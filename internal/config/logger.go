package config

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger: JSON to w, or a console writer in dev.
// An unknown level falls back to info.
func NewLogger(w io.Writer, env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if env == "dev" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Logger is NewLogger for the loaded configuration.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	return NewLogger(w, c.Env, c.LogLevel).With().Str("env", c.Env).Logger()
}
