// Package logging builds the loggers the CLI and sync daemon use.
//
// Components take plain *log.Logger instances with bracketed prefixes;
// this package only decides where the bytes go. The daemon writes to a
// size-rotated file (lumberjack) in addition to stderr so long-running
// installs don't grow an unbounded log.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	// File is the rotating log file path. Empty means stderr only.
	File string

	// MaxSizeMB is the rotation threshold.
	MaxSizeMB int

	// MaxBackups is how many rotated files to keep.
	MaxBackups int
}

// New returns a logger with the given prefix writing to stderr and, when
// configured, a rotating file.
func New(prefix string, opts Options) *log.Logger {
	var w io.Writer = os.Stderr
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		})
	}
	return log.New(w, prefix, log.LstdFlags)
}
