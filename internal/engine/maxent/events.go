package maxent

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/vocab"
)

// Event is one labeled observation handed to the trainer.
type Event struct {
	Label  string
	Counts feature.Counts
}

// EventSource yields training events in a fixed order. Next returns io.EOF
// after the last event; Reset rewinds to the first one.
type EventSource interface {
	Next() (Event, error)
	Reset() error
}

// SliceSource serves events from memory.
type SliceSource struct {
	events []Event
	pos    int
}

// NewSliceSource wraps events without copying them.
func NewSliceSource(events []Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *SliceSource) Reset() error {
	s.pos = 0
	return nil
}

// indexedEvent is an event reduced to vocabulary ids, with a multiplicity
// for identical events.
type indexedEvent struct {
	label  int
	ids    []int
	values []float64
	count  float64
}

// indexEvents maps each event onto the frozen vocabulary and merges
// identical events. Features outside the vocabulary (cut off) are dropped.
// The order of first occurrence is preserved.
func indexEvents(src EventSource, features, labels *vocab.Index) ([]indexedEvent, error) {
	var events []indexedEvent
	seen := make(map[string]int)
	var key strings.Builder
	for {
		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		label, ok := labels.ID(ev.Label)
		if !ok {
			return nil, fmt.Errorf("maxent: label %q changed between passes over the source", ev.Label)
		}

		ie := indexedEvent{label: label, count: 1}
		key.Reset()
		key.WriteString(strconv.Itoa(label))
		for _, name := range ev.Counts.Names() {
			id, ok := features.ID(name)
			if !ok {
				continue
			}
			v := ev.Counts[name]
			ie.ids = append(ie.ids, id)
			ie.values = append(ie.values, v)
			key.WriteByte('|')
			key.WriteString(strconv.Itoa(id))
			key.WriteByte(':')
			key.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}

		if i, dup := seen[key.String()]; dup {
			events[i].count++
			continue
		}
		seen[key.String()] = len(events)
		events = append(events, ie)
	}
	return events, nil
}
