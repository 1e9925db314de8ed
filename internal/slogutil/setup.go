package slogutil

import (
	"io"
	"log/slog"
	"os"
)

// Options describes where and how the process logs.
type Options struct {
	Level      slog.Level
	Format     Format
	File       string // optional; logs are teed to it
	MaxSize    string // rotation threshold for File, e.g. "10MB"
	MaxBackups int
	Stderr     io.Writer // defaults to os.Stderr
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the process logger. Logs always go to stderr (stdout carries
// the overlay protocol) and additionally to File when set. The returned
// closer releases the file.
func Open(opts Options) (*slog.Logger, io.Closer, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	console := NewHandler(stderr, opts.Level, opts.Format)
	if opts.File == "" {
		return slog.New(console), nopCloser{}, nil
	}

	rf, err := OpenRotatingFile(opts.File, ParseSize(opts.MaxSize), opts.MaxBackups)
	if err != nil {
		return nil, nil, err
	}
	file := NewHandler(rf, opts.Level, opts.Format)
	return slog.New(NewTeeHandler(console, file)), rf, nil
}
