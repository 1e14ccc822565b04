package corpus

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/crimson-sun/doccat/internal/model"
)

// ErrNoFiles is returned when no corpus pattern matches a file.
var ErrNoFiles = errors.New("corpus: no files match")

// LineStream reads labeled lines from every file matched by a set of glob
// patterns, one file after another in sorted path order. Patterns support
// doublestar syntax such as "data/**/*.txt".
type LineStream struct {
	paths []string
	delim string

	idx  int
	file *os.File
	sc   *scanner
}

// Glob expands patterns into a sorted, de-duplicated list of regular files.
func Glob(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("corpus: invalid pattern %q", p)
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("corpus: glob %q: %w", p, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoFiles, patterns)
	}
	sort.Strings(paths)
	return paths, nil
}

// Open resolves patterns and returns a stream over the matched files. delim
// separates label from text; empty means any whitespace.
func Open(patterns []string, delim string) (*LineStream, error) {
	paths, err := Glob(patterns)
	if err != nil {
		return nil, err
	}
	return &LineStream{paths: paths, delim: delim}, nil
}

// Paths returns the files the stream reads.
func (s *LineStream) Paths() []string {
	return append([]string(nil), s.paths...)
}

func (s *LineStream) Next() (model.Sample, error) {
	for {
		if s.sc == nil {
			if s.idx >= len(s.paths) {
				return model.Sample{}, io.EOF
			}
			f, err := os.Open(s.paths[s.idx])
			if err != nil {
				return model.Sample{}, fmt.Errorf("corpus: %w", err)
			}
			s.file = f
			s.sc = newScanner(f, s.paths[s.idx], s.delim)
		}

		sample, err := s.sc.next()
		if errors.Is(err, io.EOF) {
			s.closeFile()
			s.idx++
			continue
		}
		return sample, err
	}
}

// Reset rewinds to the first line of the first file.
func (s *LineStream) Reset() error {
	s.closeFile()
	s.idx = 0
	return nil
}

func (s *LineStream) Close() error {
	return s.closeFile()
}

func (s *LineStream) closeFile() error {
	s.sc = nil
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
