package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the service logger. format "json" writes structured lines,
// anything else a human-readable console stream.
func NewLogger(level, format string) zerolog.Logger {
	return newLogger(os.Stderr, level, format)
}

func newLogger(out io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	w := out
	if !strings.EqualFold(strings.TrimSpace(format), "json") {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "retrotalk").
		Logger()
}
