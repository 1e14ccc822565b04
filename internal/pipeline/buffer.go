package pipeline

import (
	"sync"
	"time"
)

// lineBuffer accumulates input lines until it holds maxSize of them or the
// window since the first pending line has elapsed.
type lineBuffer struct {
	window  time.Duration
	maxSize int // 0 means no size limit

	mu      sync.Mutex
	pending []string
	timer   *time.Timer
}

func newLineBuffer(window time.Duration, maxSize int) *lineBuffer {
	return &lineBuffer{window: window, maxSize: maxSize}
}

// add appends a line, starting the window timer on the first one. It reports
// whether the buffer is full.
func (b *lineBuffer) add(line string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, line)
	if len(b.pending) == 1 && b.window > 0 {
		b.timer = time.NewTimer(b.window)
	}
	return b.maxSize > 0 && len(b.pending) >= b.maxSize
}

// flushCh fires when the window expires. Nil (blocks forever) while empty.
func (b *lineBuffer) flushCh() <-chan time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer == nil {
		return nil
	}
	return b.timer.C
}

// take empties the buffer and stops the timer.
func (b *lineBuffer) take() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return lines
}

func (b *lineBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
