// Package logging builds the slog loggers used by tenantctl.
package logging

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rolling file defaults.
const (
	DefaultFileMaxSizeMB  = 100
	DefaultFileMaxBackups = 3
	DefaultFileMaxAgeDays = 28
)

// Config holds logging configuration.
type Config struct {
	Level  string     `koanf:"level"  validate:"required,oneof=debug info warn error"`
	Format string     `koanf:"format" validate:"required,oneof=json text pretty"`
	File   FileConfig `koanf:"file"`
}

// FileConfig configures an optional rolling JSON log file written alongside the console.
type FileConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"        validate:"required_if=Enabled true"`
	MaxSizeMB  int    `koanf:"max_size"    validate:"omitempty,min=1,max=1024"`
	MaxBackups int    `koanf:"max_backups" validate:"omitempty,min=0,max=100"`
	MaxAgeDays int    `koanf:"max_age"     validate:"omitempty,min=0,max=365"`
	Compress   bool   `koanf:"compress"`
}

// New creates a logger writing to w in the configured format, plus the rolling file when
// enabled. Every handler redacts credentials. The returned closer releases the log file and
// is never nil.
func New(cfg Config, w io.Writer) (*slog.Logger, io.Closer) {
	level := ParseLevel(cfg.Level)
	replaceAttr := NewReplaceAttr()

	var console slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "pretty":
		console = tint.NewHandler(w, &tint.Options{
			Level:       level,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: replaceAttr,
		})
	case "text":
		console = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr})
	default:
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr})
	}

	if !cfg.File.Enabled || cfg.File.Path == "" {
		return slog.New(console), nopCloser{}
	}

	file := newRollingFile(cfg.File)
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr})
	return slog.New(newFanoutHandler(console, fileHandler)), file
}

func newRollingFile(cfg FileConfig) *lumberjack.Logger {
	maxSize := cfg.MaxSizeMB
	if maxSize == 0 {
		maxSize = DefaultFileMaxSizeMB
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// ParseLevel converts a string log level to slog.Level. Unknown levels mean info.
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
