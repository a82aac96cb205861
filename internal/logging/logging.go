// Package logging builds the slog logger shared by all binaries and names
// the attribute keys they log with.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	FieldComponent = "component"
	FieldRequestID = "req_id"
	FieldJobID     = "job_id"
	FieldUserID    = "user_id"
	FieldStage     = "stage"
	FieldProgress  = "progress"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldWorker    = "worker"
	FieldError     = "error"
)

// New returns a logger writing to w. format is "text" or "json".
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch format {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(h), nil
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// Component tags every record of the returned logger with the component name.
// A nil l falls back to slog.Default.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(FieldComponent, name)
}
