// Package pipeline classifies a stream of text lines and writes one
// prediction per line to an output.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/doccat/internal/model"
	"github.com/crimson-sun/doccat/internal/output"
)

const (
	defaultBatchSize = 64
	defaultWindow    = 200 * time.Millisecond
	maxLineBytes     = 1 << 20
)

// Processor classifies text. *engine.Engine satisfies it.
type Processor interface {
	Process(text string) (model.Prediction, error)
	ProcessBatch(texts []string) ([]model.Prediction, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets how many lines are classified per ProcessBatch call.
// Default: 64.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) { p.batchSize = n }
}

// WithWindow sets how long a partial batch may wait for more lines.
// Default: 200ms.
func WithWindow(d time.Duration) Option {
	return func(p *Pipeline) { p.window = d }
}

// WithLogger sets the logger for skipped lines. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline connects a Processor to an Output.
type Pipeline struct {
	proc      Processor
	out       output.Output
	log       *slog.Logger
	batchSize int
	window    time.Duration

	written atomic.Int64
	skipped atomic.Int64
}

func New(proc Processor, out output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{
		proc:      proc,
		out:       out,
		log:       slog.Default(),
		batchSize: defaultBatchSize,
		window:    defaultWindow,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run reads r line by line until EOF or until ctx is done. Blank lines are
// ignored. Lines that cannot be classified are logged and skipped; output
// errors stop the run. Lines already read when ctx ends are still written.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanErr <- scan(ctx, r, lines)
	}()

	buf := newLineBuffer(p.window, p.batchSize)
	for {
		select {
		case <-ctx.Done():
			if err := p.flush(context.WithoutCancel(ctx), buf.take()); err != nil {
				return err
			}
			return ctx.Err()
		case <-buf.flushCh():
			if err := p.flush(ctx, buf.take()); err != nil {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				if err := p.flush(ctx, buf.take()); err != nil {
					return err
				}
				if err := <-scanErr; err != nil {
					return fmt.Errorf("pipeline read: %w", err)
				}
				return nil
			}
			if buf.add(line) {
				if err := p.flush(ctx, buf.take()); err != nil {
					return err
				}
			}
		}
	}
}

// scan sends every non-blank line of r on lines.
func scan(ctx context.Context, r io.Reader, lines chan<- string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return nil
		}
	}
	return sc.Err()
}

// flush classifies texts as one batch. If the batch fails, each text is
// retried on its own so a single bad line costs only itself.
func (p *Pipeline) flush(ctx context.Context, texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	preds, err := p.proc.ProcessBatch(texts)
	if err != nil {
		p.log.Debug("batch classification failed, retrying per line", "lines", len(texts), "error", err)
		preds = preds[:0]
		for _, text := range texts {
			pred, err := p.proc.Process(text)
			if err != nil {
				p.skipped.Add(1)
				p.log.Warn("skipping line", "error", err)
				continue
			}
			preds = append(preds, pred)
		}
	}
	for _, pred := range preds {
		if err := p.out.Write(ctx, pred); err != nil {
			return fmt.Errorf("pipeline output: %w", err)
		}
		p.written.Add(1)
	}
	return nil
}

// Written returns how many predictions reached the output.
func (p *Pipeline) Written() int64 { return p.written.Load() }

// Skipped returns how many lines failed classification.
func (p *Pipeline) Skipped() int64 { return p.skipped.Load() }

// Close closes the output and reports the skip count.
func (p *Pipeline) Close() error {
	if n := p.skipped.Load(); n > 0 {
		p.log.Warn("lines skipped during run", "count", n)
	}
	return p.out.Close()
}
