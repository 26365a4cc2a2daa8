// Package observability provides the structured logger, Prometheus collectors and
// console summaries shared by the server and the CLI.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jonathan/web2pdf/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is attached to every log record.
const ServiceName = "web2pdf"

// ParseLevel maps a config level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
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

// NewLogger builds a JSON logger writing to out and, when cfg.File is set, to a
// rotating log file. The returned closer releases the file and is never nil.
func NewLogger(cfg config.LoggingConfig, out io.Writer) (*slog.Logger, io.Closer) {
	if out == nil {
		out = os.Stdout
	}

	var closer io.Closer = nopCloser{}
	writer := out
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writer = io.MultiWriter(out, rotator)
		closer = rotator
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.MessageKey {
				a.Key = "message"
			}
			return a
		},
	})
	return slog.New(handler).With("service", ServiceName), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
