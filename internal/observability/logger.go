package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type connIDKey struct{}

var logger *slog.Logger

// InitLogger installs the process-wide logger on stdout. format is "json" or
// anything else for text; source locations are added at debug level.
func InitLogger(level, format string) {
	logger = newLogger(os.Stdout, level, format)
	slog.SetDefault(logger)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: strings.EqualFold(level, "debug"),
	}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// FromContext returns the logger annotated with the chi request id and the
// WebSocket connection id found in ctx.
func FromContext(ctx context.Context) *slog.Logger {
	l := logger
	if l == nil {
		l = slog.Default()
	}

	if reqID := chimiddleware.GetReqID(ctx); reqID != "" {
		l = l.With(slog.String("request_id", reqID))
	}
	if connID, _ := ctx.Value(connIDKey{}).(string); connID != "" {
		l = l.With(slog.String("conn_id", connID))
	}
	return l
}

// WithConnID tags ctx with a WebSocket connection id
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, connIDKey{}, connID)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
