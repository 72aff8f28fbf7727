// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	Level      slog.Level
	File       string    // rotated log file; empty disables file logging
	MaxSizeMB  int       // rotate after this many megabytes
	MaxBackups int       // rotated files kept
	Console    io.Writer // defaults to os.Stderr
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup installs a text handler as the default slog logger, writing to the
// console and, if configured, to a size-rotated file. Close the returned
// closer on exit to release the file.
func Setup(opts Options) (io.Closer, error) {
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 1
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 2
	}

	out := opts.Console
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		out = io.MultiWriter(opts.Console, rotator)
		closer = rotator
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: opts.Level})))
	return closer, nil
}
