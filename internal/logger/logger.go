package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

var (
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// NewLogger builds the process logger. Supported formats are json, text and
// tint; supported levels are debug, info, warn and error.
func NewLogger(logLevel, logFormat string) (*slog.Logger, error) {
	return NewLoggerWithWriter(logLevel, logFormat, os.Stdout)
}

func NewLoggerWithWriter(logLevel, logFormat string, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	switch logFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
	case "tint":
		return slog.New(tint.NewHandler(w, &tint.Options{Level: level})), nil
	}

	return nil, errors.Join(ErrInvalidLogFormat, fmt.Errorf("log format: %s", logFormat))
}

func parseLevel(logLevel string) (slog.Level, error) {
	switch logLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	return slog.LevelInfo, errors.Join(ErrInvalidLogLevel, fmt.Errorf("log level: %s", logLevel))
}
