// Package logging builds the slog loggers used by each component. Every
// component writes its own size-rotated operational log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phuslu/log"
)

// Operational log file names
const (
	BridgeLog = "console_bridge.log"
	WatchLog  = "console_watch.log"
	APILog    = "api.log"
)

// Defaults match the emulator bridge: 5 MiB per file, five generations.
const (
	DefaultMaxSize    = 5 * 1024 * 1024
	DefaultMaxBackups = 5
)

// Config holds logger settings
type Config struct {
	Dir        string     // Directory for the log file; empty disables the file
	Name       string     // File name, e.g. console_bridge.log
	Level      slog.Level // Minimum level
	MaxSize    int64      // Bytes before rotation
	MaxBackups int        // Rotated files kept
	Console    io.Writer  // Optional mirror, usually os.Stderr
}

// Logger is a slog.Logger bound to a rotating file
type Logger struct {
	*slog.Logger
	file *log.FileWriter
}

// New creates a logger writing to Dir/Name and, if set, Console
func New(config Config) (*Logger, error) {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultMaxSize
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = DefaultMaxBackups
	}

	var writers []io.Writer
	var file *log.FileWriter
	if config.Dir != "" {
		if config.Name == "" {
			return nil, fmt.Errorf("logging: file name is required")
		}
		if err := os.MkdirAll(config.Dir, 0750); err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		file = &log.FileWriter{
			Filename:     filepath.Join(config.Dir, config.Name),
			FileMode:     0640,
			MaxSize:      config.MaxSize,
			MaxBackups:   config.MaxBackups,
			EnsureFolder: true,
			LocalTime:    true,
		}
		writers = append(writers, file)
	}
	if config.Console != nil {
		writers = append(writers, config.Console)
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: config.Level,
	})
	return &Logger{Logger: slog.New(handler), file: file}, nil
}

// Path returns the log file path, or "" when logging only to the console
func (l *Logger) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Filename
}

// Close flushes and closes the log file
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel converts debug, info, warn or error into a slog.Level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
