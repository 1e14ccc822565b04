// Package corpus reads labeled training samples. A corpus line holds a
// label followed by the sample text:
//
//	fruit	fresh apples from the orchard
//	metal	rolled steel sheets
//
// Blank lines and lines starting with '#' are skipped.
package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/crimson-sun/doccat/internal/model"
)

// Stream yields samples in a fixed order. Next returns io.EOF after the last
// sample. Reset rewinds the stream so it can be read again.
type Stream interface {
	Next() (model.Sample, error)
	Reset() error
	Close() error
}

// ParseError reports a malformed corpus line.
type ParseError struct {
	Source string
	Line   int
	Msg    string
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("corpus: line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("corpus: %s:%d: %s", e.Source, e.Line, e.Msg)
}

// ParseLine splits a line into label and text. An empty delim splits at the
// first run of whitespace. skip is true for blank and comment lines.
func ParseLine(line, delim string) (label, text string, skip bool, err error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", true, nil
	}
	if delim == "" {
		i := strings.IndexFunc(trimmed, unicode.IsSpace)
		if i < 0 {
			return "", "", false, errors.New("label without text")
		}
		label, text = trimmed[:i], trimmed[i:]
	} else {
		var found bool
		label, text, found = strings.Cut(trimmed, delim)
		if !found {
			return "", "", false, fmt.Errorf("missing delimiter %q", delim)
		}
	}
	label, text = strings.TrimSpace(label), strings.TrimSpace(text)
	switch {
	case label == "":
		return "", "", false, errors.New("empty label")
	case text == "":
		return "", "", false, errors.New("label without text")
	}
	return label, text, false, nil
}

// ReadAll parses every sample from r. source names r in errors.
func ReadAll(r io.Reader, source, delim string) ([]model.Sample, error) {
	s := newScanner(r, source, delim)
	var out []model.Sample
	for {
		sample, err := s.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
}

// Collect drains a stream into memory.
func Collect(s Stream) ([]model.Sample, error) {
	var out []model.Sample
	for {
		sample, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
}

type scanner struct {
	sc     *bufio.Scanner
	source string
	delim  string
	line   int
}

func newScanner(r io.Reader, source, delim string) *scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanner{sc: sc, source: source, delim: delim}
}

func (s *scanner) next() (model.Sample, error) {
	for s.sc.Scan() {
		s.line++
		label, text, skip, err := ParseLine(s.sc.Text(), s.delim)
		if err != nil {
			return model.Sample{}, &ParseError{Source: s.source, Line: s.line, Msg: err.Error()}
		}
		if skip {
			continue
		}
		return model.Sample{Label: label, Text: text, Source: s.source, Line: s.line}, nil
	}
	if err := s.sc.Err(); err != nil {
		return model.Sample{}, fmt.Errorf("corpus: read %s: %w", s.source, err)
	}
	return model.Sample{}, io.EOF
}

// SliceStream serves samples from memory.
type SliceStream struct {
	samples []model.Sample
	pos     int
}

// NewSliceStream wraps samples without copying them.
func NewSliceStream(samples []model.Sample) *SliceStream {
	return &SliceStream{samples: samples}
}

func (s *SliceStream) Next() (model.Sample, error) {
	if s.pos >= len(s.samples) {
		return model.Sample{}, io.EOF
	}
	sample := s.samples[s.pos]
	s.pos++
	return sample, nil
}

func (s *SliceStream) Reset() error {
	s.pos = 0
	return nil
}

func (s *SliceStream) Close() error { return nil }
