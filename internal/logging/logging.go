// Package logging builds the zerolog loggers used by prefsim runs.
//
// A run logs to the terminal (console or JSON) and, when a log file is
// configured, appends the same JSON events to that file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error. Default: info.
	Level string

	// Format is console or json. Default: console.
	Format string

	// Output is the terminal writer. Default: os.Stderr.
	Output io.Writer

	// File receives a JSON copy of every event when non-nil.
	File io.Writer
}

// New returns a logger configured from cfg.
func New(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var terminal io.Writer = cfg.Output
	if !strings.EqualFold(cfg.Format, "json") {
		terminal = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	output := terminal
	if cfg.File != nil {
		output = zerolog.MultiLevelWriter(terminal, cfg.File)
	}

	return zerolog.New(output).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// File is an append-only run log.
type File struct {
	writer io.Writer
	closer io.Closer
}

// OpenFile opens path for appending, creating parent directories. An empty
// path returns a nil *File, which is safe to write to and close.
func OpenFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &File{writer: file, closer: file}, nil
}

func (f *File) Write(p []byte) (int, error) {
	if f == nil || f.writer == nil {
		return len(p), nil
	}
	return f.writer.Write(p)
}

func (f *File) Close() error {
	if f == nil || f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// DefaultFilePath derives the run log path from the output file path.
func DefaultFilePath(outputFile string) string {
	if strings.TrimSpace(outputFile) == "" {
		return ""
	}
	ext := filepath.Ext(outputFile)
	return strings.TrimSuffix(outputFile, ext) + ".log"
}
