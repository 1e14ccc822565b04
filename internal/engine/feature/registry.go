package feature

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Constructor builds an extractor from the argument part of a descriptor
// ("2" in "ngram:2"; empty when there is none).
type Constructor func(arg string) (Extractor, error)

var registry = map[string]Constructor{}

func init() {
	Register("bow", func(string) (Extractor, error) { return BagOfWords{}, nil })
	Register("ngram", func(arg string) (Extractor, error) {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("feature: bad ngram size %q", arg)
		}
		return NewNGram(n)
	})
}

// Register adds a constructor under the given kind.
func Register(kind string, ctor Constructor) {
	registry[kind] = ctor
}

// Get builds the extractor for a descriptor such as "bow" or "ngram:3".
func Get(descriptor string) (Extractor, error) {
	kind, arg, _ := strings.Cut(descriptor, ":")
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("feature: unknown extractor %q", descriptor)
	}
	return ctor(arg)
}

// Kinds returns the registered extractor kinds in sorted order.
func Kinds() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve rebuilds the extractor a model was trained with. Descriptors that
// match the Name of a supplied extractor use it; the rest come from the
// registry.
func Resolve(descriptors []string, supplied ...Extractor) (Extractor, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("feature: no extractor descriptors")
	}
	byName := make(map[string]Extractor, len(supplied))
	for _, s := range supplied {
		byName[s.Name()] = s
	}
	parts := make([]Extractor, 0, len(descriptors))
	for _, d := range descriptors {
		if ext, ok := byName[d]; ok {
			parts = append(parts, ext)
			continue
		}
		ext, err := Get(d)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ext)
	}
	return Combine(parts...), nil
}
