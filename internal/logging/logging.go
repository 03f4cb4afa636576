// Package logging builds the writers behind the prefixed *log.Logger values
// the other packages take.
//
// Output always goes to stderr. When a log file is configured, lines are also
// appended to it and the file is rotated by size with lumberjack.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the optional log file.
type Config struct {
	File       string // empty disables the file
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Verbose    bool
}

// Output is the shared destination for every logger.
type Output struct {
	w       io.Writer
	file    *lumberjack.Logger
	verbose bool
}

// Setup creates the output described by cfg. stderr may be nil to log only
// to the file.
func Setup(cfg Config, stderr io.Writer) (*Output, error) {
	o := &Output{verbose: cfg.Verbose}
	if cfg.File == "" {
		o.w = orDiscard(stderr)
		return o, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}
	o.file = &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	if stderr == nil {
		o.w = o.file
	} else {
		o.w = io.MultiWriter(stderr, o.file)
	}
	return o, nil
}

// Writer returns the combined writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// New returns a logger writing to the output with the given prefix,
// e.g. "[sync] ".
func (o *Output) New(prefix string) *log.Logger {
	return log.New(o.w, prefix, log.LstdFlags)
}

// Debug returns a logger for verbose output. It discards everything unless
// verbose logging is on.
func (o *Output) Debug(prefix string) *log.Logger {
	if !o.verbose {
		return log.New(io.Discard, prefix, 0)
	}
	return o.New(prefix)
}

// Verbose reports whether debug logging is on.
func (o *Output) Verbose() bool {
	return o.verbose
}

// Rotate closes the current log file and starts a new one.
func (o *Output) Rotate() error {
	if o.file == nil {
		return nil
	}
	return o.file.Rotate()
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
