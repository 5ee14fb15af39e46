package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const consoleTimeFormat = "15:04:05"

// Logger is the process-wide broker logger.
var (
	Logger       zerolog.Logger
	currentLevel = zerolog.InfoLevel
)

func init() {
	SetOutput(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: consoleTimeFormat,
	})
}

// SetOutput replaces the log destination and keeps the current level.
func SetOutput(out io.Writer) {
	if out == nil {
		out = os.Stderr
	}

	Logger = zerolog.New(out).
		Level(currentLevel).
		With().
		Timestamp().
		Logger()

	log.Logger = Logger
}

// Info logs an info message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Error logs an error message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Debug logs a debug message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Fatal logs a fatal message and exits.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// SetDebugMode switches the logger to debug level.
func SetDebugMode() {
	currentLevel = zerolog.DebugLevel
	Logger = Logger.Level(currentLevel)
	log.Logger = Logger
}

// SetLevel sets the level by name ("debug", "info", "warn", "error").
func SetLevel(name string) error {
	if name == "" {
		return nil
	}

	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}

	currentLevel = level
	Logger = Logger.Level(currentLevel)
	log.Logger = Logger
	return nil
}
