// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger behind Logf and Warnf.
var Logger = NewConsoleLogger(os.Stderr)

// Logf is the package-level diagnostic logger. It defaults to an info-level
// zerolog event but may be replaced by SetLogger. Tests or production code
// can redirect or mute it.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	Logger.Info().Msgf(format, v...)
}

// Warnf reports a non-fatal condition, such as a filter that matched nothing.
var Warnf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	Logger.Warn().Msgf(format, v...)
}

// NewConsoleLogger builds a human-readable zerolog logger writing to w.
func NewConsoleLogger(w io.Writer) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
// Warnings are routed through the same function so a captured logger sees
// everything.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		Warnf = func(string, ...interface{}) {}
		return
	}
	Logf = f
	Warnf = func(format string, v ...interface{}) {
		f("warning: "+format, v...)
	}
}

// SetLevel sets the minimum level of the zerolog-backed logger.
func SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	Logger = Logger.Level(lvl)
	return nil
}

// ParseLevel maps debug|info|warn|error onto zerolog levels.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
}
