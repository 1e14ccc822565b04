// Package file appends predictions as NDJSON to a local file with optional
// size-based rotation.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/crimson-sun/doccat/internal/model"
	"github.com/crimson-sun/doccat/internal/output"
)

const (
	defaultBufSize  = 64 * 1024
	defaultMaxFiles = 10
)

// Option configures a file Output.
type Option func(*settings)

type settings struct {
	maxSize  int64
	maxFiles int
	bufSize  int
}

// WithMaxSize rotates the file before it would exceed bytes. 0 (default)
// disables rotation.
func WithMaxSize(bytes int64) Option {
	return func(s *settings) { s.maxSize = bytes }
}

// WithMaxFiles sets how many rotated generations ({path}.1 ... {path}.N)
// are kept. Default: 10.
func WithMaxFiles(n int) Option {
	return func(s *settings) { s.maxFiles = n }
}

// WithBufSize sets the write buffer size. Default: 64KB.
func WithBufSize(bytes int) Option {
	return func(s *settings) { s.bufSize = bytes }
}

// Output is safe for concurrent use. Predictions reach the disk when the
// buffer fills, on rotation and on Close.
type Output struct {
	verbosity output.Verbosity

	mu  sync.Mutex
	log *rotator
}

// New opens (or creates) path for appending.
func New(path string, verbosity output.Verbosity, opts ...Option) (*Output, error) {
	s := settings{bufSize: defaultBufSize, maxFiles: defaultMaxFiles}
	for _, opt := range opts {
		opt(&s)
	}
	r, err := openRotator(path, s.maxSize, s.maxFiles, s.bufSize)
	if err != nil {
		return nil, fmt.Errorf("file output: %w", err)
	}
	return &Output{verbosity: verbosity, log: r}, nil
}

func (o *Output) Write(_ context.Context, p model.Prediction) error {
	line, err := json.Marshal(output.FormatPrediction(p, o.verbosity))
	if err != nil {
		return fmt.Errorf("file output: marshal: %w", err)
	}
	line = append(line, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.log.write(line); err != nil {
		return fmt.Errorf("file output: %w", err)
	}
	return nil
}

// Close flushes buffered predictions and closes the file.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.log.close(); err != nil {
		return fmt.Errorf("file output: %w", err)
	}
	return nil
}
