// Package logging configures the process-wide zerolog logger. Which sinks
// receive the stream is an external concern (spec §1's out-of-scope
// "logging sinks"); this package only builds the logger instance and
// always writes to stdout, optionally tee'd to a file path the caller
// supplies.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ParseLevel maps a config/flag string to a zerolog.Level, defaulting to
// info on an unrecognized value.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a timestamped zerolog.Logger at level, writing to stdout and,
// when filePath is non-empty, also appending to that file.
func New(level zerolog.Level, filePath string) (zerolog.Logger, error) {
	writers := []io.Writer{os.Stdout}

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file %s: %w", filePath, err)
		}
		writers = append(writers, f)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	return logger, nil
}
