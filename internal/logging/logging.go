// Package logging builds the prefixed *log.Logger values handed to every
// quizsync component.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects where log output goes.
type Config struct {
	// File is a log file path. Empty means stderr.
	File string

	// MaxSizeMB is the size at which File is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int

	// Quiet discards all output.
	Quiet bool
}

// DefaultConfig logs to stderr.
func DefaultConfig() Config {
	return Config{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// Factory hands out loggers that share one writer.
type Factory struct {
	out    io.Writer
	closer io.Closer
}

// New opens the writer described by cfg.
func New(cfg Config) (*Factory, error) {
	switch {
	case cfg.Quiet:
		return &Factory{out: io.Discard}, nil
	case cfg.File == "":
		return &Factory{out: os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, err
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	return &Factory{out: lj, closer: lj}, nil
}

// Logger returns a logger whose lines start with "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Writer is the shared destination.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close releases the log file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
