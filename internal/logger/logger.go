package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var Log zerolog.Logger

func init() {
	// Configure ZeroLog in text mode with colors
	Log = New(os.Stderr)

	// Set default log level to Info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// New builds a console logger writing to w
func New(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    w != os.Stderr,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// SetLevel sets the global log level
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// ForNetwork returns a child logger tagged with the network name
func ForNetwork(name string) zerolog.Logger {
	return Log.With().Str("network", name).Logger()
}
