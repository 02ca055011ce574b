package di

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ProvideLogger returns the process logger. Lambda gets JSON lines; a terminal
// gets the console writer. LOG_LEVEL overrides the default info level.
func ProvideLogger() zerolog.Logger {
	var w io.Writer = os.Stdout
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") == "" {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	return zerolog.New(w).
		Level(logLevel(os.Getenv("LOG_LEVEL"))).
		With().
		Timestamp().
		Logger()
}

func logLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
