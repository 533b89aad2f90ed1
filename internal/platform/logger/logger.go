// Package logger configures the application's structured logging on top of
// log/slog and carries request-scoped loggers through context.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/clefnote/clefnote-api/internal/config"
)

// Setup builds the application's JSON logger at the configured level and
// installs it as the slog default, so package-level slog calls route through
// it as well. An unrecognized level falls back to info with a warning on
// stderr rather than failing startup.
func Setup(cfg config.ServerConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		bootstrap := slog.New(slog.NewTextHandler(os.Stderr, nil))
		bootstrap.Warn("invalid log level configured, using info",
			"configured_level", cfg.LogLevel)
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}
