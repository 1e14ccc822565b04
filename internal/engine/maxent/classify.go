package maxent

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/crimson-sun/doccat/internal/engine/feature"
)

// Outcome is one label with its probability.
type Outcome struct {
	Label       string
	Probability float64
}

// Result is a probability distribution over all labels, in label-id order.
type Result struct {
	Outcomes []Outcome
	Best     int
	// OutOfVocabulary lists input features unknown to the model, sorted.
	// They contribute nothing to the scores.
	OutOfVocabulary []string
}

// Label returns the most probable label.
func (r Result) Label() string { return r.Outcomes[r.Best].Label }

// Probability returns the probability of the most probable label.
func (r Result) Probability() float64 { return r.Outcomes[r.Best].Probability }

// Ranked returns the outcomes ordered by descending probability; equal
// probabilities keep label-id order.
func (r Result) Ranked() []Outcome {
	out := append([]Outcome(nil), r.Outcomes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Probability > out[j].Probability })
	return out
}

// Classify scores feature counts against every label. Features are visited in
// sorted order so results are reproducible bit for bit.
func (m *Model) Classify(counts feature.Counts) Result {
	scores := make([]float64, m.labels.Len())
	var oov []string
	for _, name := range counts.Names() {
		id, ok := m.features.ID(name)
		if !ok {
			oov = append(oov, name)
			continue
		}
		floats.AddScaled(scores, counts[name], m.weights.RawRowView(id))
	}
	return m.result(scores, oov)
}

// ClassifyTokens extracts features with ext and classifies them.
func (m *Model) ClassifyTokens(ext feature.Extractor, tokens []string) (Result, error) {
	counts, err := ext.Extract(tokens)
	if err != nil {
		return Result{}, err
	}
	return m.Classify(counts), nil
}

func (m *Model) result(scores []float64, oov []string) Result {
	best := floats.MaxIdx(scores)
	lse := floats.LogSumExp(scores)
	outcomes := make([]Outcome, len(scores))
	for k, s := range scores {
		outcomes[k] = Outcome{Label: m.labels.Name(k), Probability: math.Exp(s - lse)}
	}
	return Result{Outcomes: outcomes, Best: best, OutOfVocabulary: oov}
}
