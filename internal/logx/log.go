package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the shared logger used throughout promptrelay.
var Log = log.Logger

// Configure sets the global log level and routes output to a console writer
// on stderr. The level string is tolerant of case and common synonyms.
func Configure(level string) {
	ConfigureOutput(level, zerolog.ConsoleWriter{Out: os.Stderr})
}

// ConfigureOutput is Configure with an explicit destination.
func ConfigureOutput(level string, w io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	Log = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel converts a string to a zerolog level.
// Accepts: all, trace, debug, info, warn, warning, error, fatal, none.
// Unknown values default to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "all", "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "none", "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	Configure(os.Getenv("LOG_LEVEL"))
}
