package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// NewLogger builds the daemon's general-purpose logger: JSON at INFO in
// production, text at DEBUG in development, source locations only in
// development.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		AddSource: env == "development",
	}

	if env == "production" {
		opts.Level = slog.LevelInfo
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// NewAuditLogger opens (creating if needed) today's dated log file under
// logDir and returns a dedicated JSON logger for authentication
// decisions, mirroring the prototype's separate audit trail kept apart
// from general application logs.
func NewAuditLogger(logDir string, now time.Time) (*slog.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("sentinel-%s.log", now.Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), nil
}
