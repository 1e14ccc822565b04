// Package maxent implements a maximum-entropy (multinomial logistic)
// document classifier: GIS training, immutable models, classification and
// a versioned binary model format.
package maxent

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/crimson-sun/doccat/internal/engine/vocab"
)

// Metadata describes how a model was trained.
type Metadata struct {
	ID            string
	CreatedAt     time.Time
	Iterations    int // GIS updates applied
	MaxIterations int
	Cutoff        int
	Sigma         float64
	LogLikelihood float64
	Converged     bool
	Extractors    []string // feature extractor descriptors
	Tokenizer     uint8    // tokenizer option flags
}

// Model is an immutable trained classifier. It is safe for concurrent use.
type Model struct {
	features *vocab.Index
	labels   *vocab.Index
	weights  *mat.Dense // [features x labels]
	meta     Metadata
}

// NewModel assembles a model. The weight matrix is copied and must have one
// row per feature and one column per label.
func NewModel(features, labels *vocab.Index, weights mat.Matrix, meta Metadata) (*Model, error) {
	if labels.Len() < 2 {
		return nil, fmt.Errorf("maxent: model needs at least 2 labels, got %d", labels.Len())
	}
	r, c := weights.Dims()
	if r != features.Len() || c != labels.Len() {
		return nil, fmt.Errorf("maxent: weight matrix is %dx%d, want %dx%d",
			r, c, features.Len(), labels.Len())
	}
	w := mat.DenseCopyOf(weights)
	for i := 0; i < r; i++ {
		for _, v := range w.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("maxent: non-finite weight for feature %q", features.Name(i))
			}
		}
	}
	meta.Extractors = append([]string(nil), meta.Extractors...)
	return &Model{features: features, labels: labels, weights: w, meta: meta}, nil
}

// Features returns the frozen vocabulary.
func (m *Model) Features() *vocab.Index { return m.features }

// Labels returns the label index.
func (m *Model) Labels() *vocab.Index { return m.labels }

// NumLabels returns the number of categories.
func (m *Model) NumLabels() int { return m.labels.Len() }

// Weight returns the parameter for a feature id and label id.
func (m *Model) Weight(feature, label int) float64 {
	return m.weights.At(feature, label)
}

// Metadata returns a copy of the training metadata.
func (m *Model) Metadata() Metadata {
	meta := m.meta
	meta.Extractors = append([]string(nil), m.meta.Extractors...)
	return meta
}

// Equal reports whether both models have the same labels and features and
// weights that agree within tol.
func (m *Model) Equal(o *Model, tol float64) bool {
	if !m.labels.Equal(o.labels) || !m.features.Equal(o.features) {
		return false
	}
	return mat.EqualApprox(m.weights, o.weights, tol)
}
