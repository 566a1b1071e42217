// Package logger carries a *slog.Logger through a context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

func Set(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

func Get(ctx context.Context) (l *slog.Logger) {
	if v := ctx.Value(loggerKey); v != nil {
		if l = v.(*slog.Logger); l != nil {
			return
		}
	}
	l = slog.Default()
	return
}

// New builds a logger writing to w. format is "text" or "json"; level is one
// of debug, info, warn, error.
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (supported: text, json)", format)
	}
}

type loggerKeyType string

const loggerKey loggerKeyType = "loggerKey"
