// Package feature turns token sequences into sparse feature counts.
//
// Every extractor uses the occurrence-count policy: each occurrence of a
// feature adds its value to the count. Training and inference share the same
// extractors, so the policy is identical on both sides.
package feature

import (
	"fmt"
	"sort"
	"strings"
)

// Counts maps a feature name to its accumulated, non-negative value.
type Counts map[string]float64

// Add accumulates other into c.
func (c Counts) Add(other Counts) {
	for name, v := range other {
		c[name] += v
	}
}

// Total returns the sum of all values, visiting names in sorted order so the
// result does not depend on map iteration.
func (c Counts) Total() float64 {
	var sum float64
	for _, name := range c.Names() {
		sum += c[name]
	}
	return sum
}

// Names returns the feature names in lexicographic order.
func (c Counts) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extractor produces feature counts from tokens.
type Extractor interface {
	// Name is the descriptor stored in trained models, e.g. "bow" or "ngram:2".
	Name() string
	Extract(tokens []string) (Counts, error)
}

// BagOfWords emits one feature per token, named by the token itself.
type BagOfWords struct{}

func (BagOfWords) Name() string { return "bow" }

func (BagOfWords) Extract(tokens []string) (Counts, error) {
	c := make(Counts, len(tokens))
	for _, tok := range tokens {
		c[tok]++
	}
	return c, nil
}

// NGram emits contiguous token n-grams prefixed with "ng=".
type NGram struct {
	n int
}

// NewNGram creates an n-gram extractor. n must be at least 2; unigrams are
// what BagOfWords produces.
func NewNGram(n int) (*NGram, error) {
	if n < 2 {
		return nil, fmt.Errorf("feature: ngram size must be >= 2, got %d", n)
	}
	return &NGram{n: n}, nil
}

func (g *NGram) Name() string { return fmt.Sprintf("ngram:%d", g.n) }

func (g *NGram) Extract(tokens []string) (Counts, error) {
	c := make(Counts)
	for i := 0; i+g.n <= len(tokens); i++ {
		c["ng="+strings.Join(tokens[i:i+g.n], "_")]++
	}
	return c, nil
}

// Composite merges the counts of several extractors.
type Composite struct {
	parts []Extractor
}

// Combine returns a single extractor that runs each part in order. A single
// part is returned unchanged.
func Combine(parts ...Extractor) Extractor {
	if len(parts) == 1 {
		return parts[0]
	}
	return &Composite{parts: parts}
}

func (c *Composite) Name() string {
	return strings.Join(Descriptors(c), ",")
}

// Parts returns the wrapped extractors.
func (c *Composite) Parts() []Extractor {
	return c.parts
}

func (c *Composite) Extract(tokens []string) (Counts, error) {
	out := make(Counts)
	for _, p := range c.parts {
		counts, err := p.Extract(tokens)
		if err != nil {
			return nil, fmt.Errorf("feature: %s: %w", p.Name(), err)
		}
		out.Add(counts)
	}
	return out, nil
}

// Descriptors flattens an extractor into the list of part descriptors.
func Descriptors(ext Extractor) []string {
	if c, ok := ext.(*Composite); ok {
		var out []string
		for _, p := range c.parts {
			out = append(out, Descriptors(p)...)
		}
		return out
	}
	return []string{ext.Name()}
}
