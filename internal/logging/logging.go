// Package logging builds the slog loggers used by the client and the server.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/iudanet/farmkeeper/internal/config"
)

// New creates a text logger for cfg.
// Если задан файл, лог пишется в него с ротацией, иначе в stderr.
// verbose принудительно включает уровень debug.
// Возвращаемый io.Closer закрывает файл лога.
func New(cfg config.LogConfig, verbose bool) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   false,
		}
		out = rotator
		closer = rotator
	}

	return NewWithWriter(out, level), closer, nil
}

// NewWithWriter creates a text logger writing to w at level.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
