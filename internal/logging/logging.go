// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kiranshivaraju/sourcefinder/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel converts "debug", "info", "warn" or "error" (any case) to a
// slog.Level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// Setup builds a JSON logger writing to stdout and, when cfg.File is set, to
// a size-rotated file. It becomes the slog default. Close the returned closer
// on shutdown.
func Setup(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	return setup(cfg, os.Stdout)
}

// SetupTo is Setup with console output sent to w instead of stdout.
func SetupTo(cfg config.LogConfig, w io.Writer) (*slog.Logger, io.Closer) {
	return setup(cfg, w)
}

func setup(cfg config.LogConfig, stdout io.Writer) (*slog.Logger, io.Closer) {
	var out io.Writer = stdout
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(stdout, rotator)
		closer = rotator
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}))
	slog.SetDefault(logger)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
