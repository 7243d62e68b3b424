package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cortexuvula/codeshare/internal/config"
)

// Setup configures the global slog logger from the logging config.
// Returns the lumberjack logger (if file logging) so it can be closed
// on shutdown.
func Setup(cfg config.LoggingConfig) *lumberjack.Logger {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	return lj
}

// ParseLevel maps a config level string to a slog.Level. Unknown
// strings fall back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
