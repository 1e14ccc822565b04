package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimson-sun/doccat/internal/logging"
	"github.com/crimson-sun/doccat/internal/model"
)

// --- mocks ---

// upperProcessor labels each text with its upper-cased form and fails on failOn.
type upperProcessor struct {
	failOn  string
	mu      sync.Mutex
	batches int
}

func (m *upperProcessor) Process(text string) (model.Prediction, error) {
	if text == m.failOn {
		return model.Prediction{}, fmt.Errorf("mock: cannot classify %q", text)
	}
	return model.Prediction{Text: text, Label: strings.ToUpper(text), Probability: 1}, nil
}

func (m *upperProcessor) ProcessBatch(texts []string) ([]model.Prediction, error) {
	m.mu.Lock()
	m.batches++
	m.mu.Unlock()
	var out []model.Prediction
	for _, text := range texts {
		p, err := m.Process(text)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type memOutput struct {
	mu     sync.Mutex
	preds  []model.Prediction
	closed bool
	err    error
}

func (m *memOutput) Write(_ context.Context, p model.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.preds = append(m.preds, p)
	return nil
}

func (m *memOutput) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memOutput) labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.preds))
	for i, p := range m.preds {
		out[i] = p.Label
	}
	return out
}

var quiet = logging.Discard()

// --- lineBuffer ---

func TestLineBufferWindow(t *testing.T) {
	buf := newLineBuffer(30*time.Millisecond, 0)
	if buf.flushCh() != nil {
		t.Fatal("empty buffer should have no timer")
	}
	buf.add("a")
	buf.add("b")
	select {
	case <-buf.flushCh():
	case <-time.After(time.Second):
		t.Fatal("window timer did not fire")
	}
	if got := buf.take(); len(got) != 2 {
		t.Fatalf("take() = %v", got)
	}
	if buf.len() != 0 || buf.flushCh() != nil {
		t.Error("take should empty the buffer and stop the timer")
	}
}

func TestLineBufferMaxSize(t *testing.T) {
	buf := newLineBuffer(time.Minute, 3)
	for i, want := range []bool{false, false, true} {
		if full := buf.add("x"); full != want {
			t.Errorf("add %d: full = %v, want %v", i, full, want)
		}
	}
	unlimited := newLineBuffer(time.Minute, 0)
	for i := 0; i < 100; i++ {
		if unlimited.add("x") {
			t.Fatal("unlimited buffer reported full")
		}
	}
}

// --- Pipeline ---

func TestRunClassifiesEachLine(t *testing.T) {
	out := &memOutput{}
	p := New(&upperProcessor{}, out, WithLogger(quiet))

	in := "apples\n\n  steel  \ncotton\n"
	if err := p.Run(context.Background(), strings.NewReader(in)); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	got := out.labels()
	want := []string{"APPLES", "STEEL", "COTTON"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("labels = %v, want %v", got, want)
	}
	if p.Written() != 3 || p.Skipped() != 0 {
		t.Errorf("Written=%d Skipped=%d", p.Written(), p.Skipped())
	}
}

func TestRunBatches(t *testing.T) {
	proc := &upperProcessor{}
	out := &memOutput{}
	p := New(proc, out, WithBatchSize(2), WithWindow(time.Minute), WithLogger(quiet))

	if err := p.Run(context.Background(), strings.NewReader("a\nb\nc\nd\ne\n")); err != nil {
		t.Fatal(err)
	}
	if proc.batches != 3 {
		t.Errorf("ProcessBatch calls = %d, want 3", proc.batches)
	}
	if len(out.labels()) != 5 {
		t.Errorf("got %d predictions, want 5", len(out.labels()))
	}
}

func TestRunSkipsBadLine(t *testing.T) {
	out := &memOutput{}
	p := New(&upperProcessor{failOn: "BAD"}, out, WithLogger(quiet))

	if err := p.Run(context.Background(), strings.NewReader("good\nBAD\nBAD\nfine\n")); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := out.labels(); len(got) != 2 || got[0] != "GOOD" || got[1] != "FINE" {
		t.Errorf("labels = %v", got)
	}
	if p.Skipped() != 2 {
		t.Errorf("Skipped = %d, want 2", p.Skipped())
	}
	if err := p.Close(); err != nil || !out.closed {
		t.Errorf("Close error=%v closed=%v", err, out.closed)
	}
}

func TestRunOutputErrorStops(t *testing.T) {
	boom := errors.New("disk full")
	p := New(&upperProcessor{}, &memOutput{err: boom}, WithLogger(quiet))
	if err := p.Run(context.Background(), strings.NewReader("a\n")); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestRunFlushesOnWindow(t *testing.T) {
	out := &memOutput{}
	p := New(&upperProcessor{}, out, WithBatchSize(100), WithWindow(20*time.Millisecond), WithLogger(quiet))

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), pr) }()

	io.WriteString(pw, "copper wire\n")
	deadline := time.Now().Add(2 * time.Second)
	for len(out.labels()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(out.labels()) != 1 {
		t.Fatal("partial batch was not flushed after the window")
	}
	pw.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run error: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	out := &memOutput{}
	p := New(&upperProcessor{}, out, WithBatchSize(100), WithWindow(time.Minute), WithLogger(quiet))

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, pr) }()

	io.WriteString(pw, "pending line\n")
	// Let the line reach the buffer before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := out.labels(); len(got) != 1 || got[0] != "PENDING LINE" {
		t.Errorf("lines read before cancel should be written, got %v", got)
	}
}
