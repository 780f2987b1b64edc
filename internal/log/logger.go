package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation defaults.
const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// Options configures NewLogger.
type Options struct {
	// Writer receives console output. Nil means os.Stderr.
	Writer io.Writer

	// Verbose logs at Debug level; otherwise Warn.
	Verbose bool

	// JSON selects the JSON handler over the text handler.
	JSON bool

	// File additionally writes logs to a size-rotated file when non-empty.
	File string

	// MaxSizeMB is the size in megabytes at which File is rotated.
	// Zero means 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Zero means 5.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept. Zero means 30.
	MaxAgeDays int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a redacting logger. The returned Closer flushes and
// closes the log file, if any.
func NewLogger(opts Options) (*slog.Logger, io.Closer, error) {
	output := opts.Writer
	if output == nil {
		output = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0750); err != nil {
			return nil, nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, defaultMaxBackups),
			MaxAge:     orDefault(opts.MaxAgeDays, defaultMaxAgeDays),
			Compress:   true,
			LocalTime:  true,
		}
		output = io.MultiWriter(output, rotator)
		closer = rotator
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(NewRedactingHandler(handler)), closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
