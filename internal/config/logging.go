package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// NewLogger builds the process logger on stdout.
func NewLogger(cfg Config) (*slog.Logger, error) {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	switch cfg.LogFormat {
	case LogFormatText:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dev", "development":
		return ModeDev, nil
	case "prod", "production":
		return ModeProd, nil
	}
	return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
}

// resolveLogging applies the per-mode defaults (prod: json/info, dev:
// text/debug) to whichever of format and level were left empty.
func resolveLogging(mode Mode, formatStr, levelStr string) (LogFormat, slog.Level, error) {
	format, level := LogFormatText, slog.LevelDebug
	if mode == ModeProd {
		format, level = LogFormatJSON, slog.LevelInfo
	}

	switch f := LogFormat(strings.ToLower(strings.TrimSpace(formatStr))); f {
	case "":
	case LogFormatText, LogFormatJSON:
		format = f
	default:
		return "", 0, fmt.Errorf("invalid log format %q (expected text or json)", formatStr)
	}

	if levelStr = strings.TrimSpace(levelStr); levelStr != "" {
		if strings.EqualFold(levelStr, "warning") {
			levelStr = "warn"
		}
		if err := level.UnmarshalText([]byte(levelStr)); err != nil {
			return "", 0, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", levelStr)
		}
	}
	return format, level, nil
}
