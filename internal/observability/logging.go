package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var baseLevel = zerolog.InfoLevel

// SetLevel sets the level used by loggers created afterwards.
func SetLevel(s string) {
	baseLevel = ParseLevel(s)
}

// NewLogger creates a JSON logger on stdout tagged with the component name.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, component)
}

func NewLoggerTo(w io.Writer, component string) zerolog.Logger {
	return zerolog.New(w).
		Level(baseLevel).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func ParseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
