package vocab

import (
	"errors"
	"fmt"

	"github.com/google/btree"

	"github.com/crimson-sun/doccat/internal/engine/feature"
)

// ErrInsufficientData is matched by every *InsufficientDataError.
var ErrInsufficientData = errors.New("insufficient training data")

// InsufficientDataError reports a training set that cannot produce a model.
type InsufficientDataError struct {
	Samples  int
	Labels   int
	Features int
	Reason   string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: %s (samples=%d labels=%d features=%d)",
		e.Reason, e.Samples, e.Labels, e.Features)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

type featureCount struct {
	name  string
	count float64
}

// Builder accumulates feature totals and distinct labels in one pass over
// the training samples. Both are kept ordered so ids come out sorted.
type Builder struct {
	features *btree.BTreeG[featureCount]
	labels   *btree.BTreeG[string]
	samples  int
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		features: btree.NewG(32, func(a, b featureCount) bool { return a.name < b.name }),
		labels:   btree.NewOrderedG[string](8),
	}
}

// Add records one labeled sample.
func (b *Builder) Add(label string, counts feature.Counts) {
	b.samples++
	b.labels.ReplaceOrInsert(label)
	for name, v := range counts {
		fc, _ := b.features.Get(featureCount{name: name})
		fc.name = name
		fc.count += v
		b.features.ReplaceOrInsert(fc)
	}
}

// Samples returns the number of samples added so far.
func (b *Builder) Samples() int {
	return b.samples
}

// Build freezes the vocabulary and label index. Features whose total count
// is below cutoff are discarded; a cutoff of 0 or 1 keeps everything.
func (b *Builder) Build(cutoff int) (features, labels *Index, err error) {
	labelNames := make([]string, 0, b.labels.Len())
	b.labels.Ascend(func(l string) bool {
		labelNames = append(labelNames, l)
		return true
	})

	var featureNames []string
	b.features.Ascend(func(fc featureCount) bool {
		if fc.count >= float64(cutoff) {
			featureNames = append(featureNames, fc.name)
		}
		return true
	})

	fail := func(reason string) error {
		return &InsufficientDataError{
			Samples:  b.samples,
			Labels:   len(labelNames),
			Features: len(featureNames),
			Reason:   reason,
		}
	}
	switch {
	case b.samples == 0:
		return nil, nil, fail("empty training set")
	case len(labelNames) < 2:
		return nil, nil, fail("at least 2 distinct labels are required")
	case len(featureNames) == 0:
		return nil, nil, fail(fmt.Sprintf("no feature reaches cutoff %d", cutoff))
	}

	if features, err = NewIndex(featureNames); err != nil {
		return nil, nil, err
	}
	if labels, err = NewIndex(labelNames); err != nil {
		return nil, nil, err
	}
	return features, labels, nil
}
