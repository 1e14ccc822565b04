package maxent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/crimson-sun/doccat/internal/engine/vocab"
)

const (
	defaultIterations = 100
	defaultSigma      = 1.0
	defaultTolerance  = 1e-4

	maxNewtonSteps  = 50
	newtonTolerance = 1e-10
	// Cap on C*delta in a single Newton step, keeping exp() finite.
	maxExponent = 50.0
	// Events processed between context checks inside a worker.
	ctxCheckEvery = 1024
)

// TrainConfig controls GIS training.
type TrainConfig struct {
	Iterations int     // maximum GIS iterations
	Cutoff     int     // minimum feature occurrence count
	Sigma      float64 // Gaussian prior std-dev; 0 disables smoothing
	Tolerance  float64 // stop when the objective changes less than this
	Workers    int     // expectation workers; results depend on this count only through float summation order

	// Recorded in the model metadata.
	Extractors []string
	Tokenizer  uint8
}

// DefaultTrainConfig returns 100 iterations, cutoff 0, sigma 1 and one
// worker per CPU.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Iterations: defaultIterations,
		Sigma:      defaultSigma,
		Tolerance:  defaultTolerance,
		Workers:    runtime.GOMAXPROCS(0),
		Extractors: []string{"bow"},
	}
}

func (c TrainConfig) withDefaults() TrainConfig {
	if c.Iterations <= 0 {
		c.Iterations = defaultIterations
	}
	if c.Tolerance <= 0 {
		c.Tolerance = defaultTolerance
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Sigma < 0 {
		c.Sigma = 0
	}
	if c.Cutoff < 0 {
		c.Cutoff = 0
	}
	if len(c.Extractors) == 0 {
		c.Extractors = []string{"bow"}
	}
	return c
}

// Trainer fits maximum-entropy models with Generalized Iterative Scaling.
type Trainer struct {
	cfg TrainConfig
}

// NewTrainer creates a Trainer; zero fields in cfg take their defaults.
func NewTrainer(cfg TrainConfig) *Trainer {
	return &Trainer{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (t *Trainer) Config() TrainConfig { return t.cfg }

// Train reads src twice: once to build the vocabulary and label index, once
// to index the events. It then runs GIS.
//
// When training stops early (iteration budget exhausted before the objective
// settles, or ctx cancelled) Train returns the best model found together with
// a *ConvergenceError. Callers should treat that error as a warning.
func (t *Trainer) Train(ctx context.Context, src EventSource) (*Model, error) {
	b := vocab.NewBuilder()
	for {
		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("maxent: read events: %w", err)
		}
		b.Add(ev.Label, ev.Counts)
	}
	features, labels, err := b.Build(t.cfg.Cutoff)
	if err != nil {
		return nil, err
	}

	if err := src.Reset(); err != nil {
		return nil, fmt.Errorf("maxent: reset events: %w", err)
	}
	events, err := indexEvents(src, features, labels)
	if err != nil {
		return nil, err
	}

	g := newGIS(events, features.Len(), labels.Len(), t.cfg)
	weights, stats := g.run(ctx)

	meta := Metadata{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Iterations:    stats.iterations,
		MaxIterations: t.cfg.Iterations,
		Cutoff:        t.cfg.Cutoff,
		Sigma:         t.cfg.Sigma,
		LogLikelihood: stats.logLikelihood,
		Converged:     stats.converged,
		Extractors:    t.cfg.Extractors,
		Tokenizer:     t.cfg.Tokenizer,
	}
	m, err := NewModel(features, labels, mat.NewDense(features.Len(), labels.Len(), weights), meta)
	if err != nil {
		return nil, err
	}
	if stats.converged {
		return m, nil
	}
	return m, &ConvergenceError{Iterations: stats.iterations, Delta: stats.delta, Cause: stats.cause}
}

type gisStats struct {
	iterations    int
	logLikelihood float64
	delta         float64
	converged     bool
	cause         error
}

// gis holds the working state of one training run. Weights and expectations
// are flat row-major [feature*numLabels + label] slices.
type gis struct {
	events     []indexedEvent
	numLabels  int
	numWeights int
	cfg        TrainConfig

	correction float64 // C: largest per-event feature sum
	empirical  []float64

	// per-worker scratch, reused across iterations
	partials [][]float64
	lls      []float64
}

func newGIS(events []indexedEvent, numFeatures, numLabels int, cfg TrainConfig) *gis {
	g := &gis{
		events:     events,
		numLabels:  numLabels,
		numWeights: numFeatures * numLabels,
		cfg:        cfg,
		empirical:  make([]float64, numFeatures*numLabels),
	}
	for _, ev := range events {
		var sum float64
		for j, id := range ev.ids {
			sum += ev.values[j]
			g.empirical[id*numLabels+ev.label] += ev.count * ev.values[j]
		}
		g.correction = math.Max(g.correction, sum)
	}

	workers := cfg.Workers
	if workers > len(events) {
		workers = len(events)
	}
	if workers < 1 {
		workers = 1
	}
	g.partials = make([][]float64, workers)
	for i := range g.partials {
		g.partials[i] = make([]float64, g.numWeights)
	}
	g.lls = make([]float64, workers)
	return g
}

// run iterates GIS and returns the best weights seen. The working slice is
// private to run; only the returned copy escapes.
func (g *gis) run(ctx context.Context) ([]float64, gisStats) {
	w := make([]float64, g.numWeights)
	expected := make([]float64, g.numWeights)
	best := make([]float64, g.numWeights)
	bestObj := math.Inf(-1)
	var stats gisStats

	consider := func(ll float64) float64 {
		obj := ll - g.penalty(w)
		if obj > bestObj {
			bestObj = obj
			copy(best, w)
			stats.logLikelihood = ll
		}
		return obj
	}

	prev := math.NaN()
	it := 0
	for ; it < g.cfg.Iterations; it++ {
		ll, err := g.expectations(ctx, w, expected)
		if err != nil {
			stats.cause = err
			break
		}
		obj := consider(ll)
		if !math.IsNaN(prev) {
			stats.delta = math.Abs(obj - prev)
			if stats.delta < g.cfg.Tolerance {
				stats.converged = true
				break
			}
		}
		prev = obj
		g.update(w, expected)
	}
	stats.iterations = it

	if !stats.converged && stats.cause == nil {
		// The last update has not been scored yet.
		if ll, err := g.expectations(ctx, w, expected); err == nil {
			obj := consider(ll)
			stats.delta = math.Abs(obj - prev)
			stats.converged = stats.delta < g.cfg.Tolerance
		} else {
			stats.cause = err
		}
	}
	return best, stats
}

// expectations fills expected with the model feature expectations under w
// and returns the training log-likelihood. Events are split into contiguous
// chunks, one per worker; partial sums are merged in worker order after all
// workers finish.
func (g *gis) expectations(ctx context.Context, w, expected []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	workers := len(g.partials)
	chunk := (len(g.events) + workers - 1) / workers

	eg, ectx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		lo := min(i*chunk, len(g.events))
		hi := min(lo+chunk, len(g.events))
		part := g.partials[i]
		slot := i
		eg.Go(func() error {
			clear(part)
			ll, err := g.accumulate(ectx, g.events[lo:hi], w, part)
			g.lls[slot] = ll
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	clear(expected)
	var ll float64
	for i := 0; i < workers; i++ {
		floats.Add(expected, g.partials[i])
		ll += g.lls[i]
	}
	return ll, nil
}

func (g *gis) accumulate(ctx context.Context, events []indexedEvent, w, out []float64) (float64, error) {
	k := g.numLabels
	scores := make([]float64, k)
	var ll float64
	for n, ev := range events {
		if n%ctxCheckEvery == ctxCheckEvery-1 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		clear(scores)
		for j, id := range ev.ids {
			floats.AddScaled(scores, ev.values[j], w[id*k:(id+1)*k])
		}
		lse := floats.LogSumExp(scores)
		ll += ev.count * (scores[ev.label] - lse)
		for c := range scores {
			scores[c] = math.Exp(scores[c] - lse)
		}
		for j, id := range ev.ids {
			floats.AddScaled(out[id*k:(id+1)*k], ev.count*ev.values[j], scores)
		}
	}
	return ll, nil
}

// update applies one GIS step to w in place.
func (g *gis) update(w, expected []float64) {
	c := g.correction
	if g.cfg.Sigma == 0 {
		for i := range w {
			if g.empirical[i] > 0 && expected[i] > 0 {
				w[i] += math.Log(g.empirical[i]/expected[i]) / c
			}
		}
		return
	}
	sigma2 := g.cfg.Sigma * g.cfg.Sigma
	for i := range w {
		w[i] += gaussianDelta(g.empirical[i], expected[i], w[i], c, sigma2)
	}
}

// penalty is the Gaussian prior term subtracted from the log-likelihood.
func (g *gis) penalty(w []float64) float64 {
	if g.cfg.Sigma == 0 {
		return 0
	}
	return floats.Dot(w, w) / (2 * g.cfg.Sigma * g.cfg.Sigma)
}

// gaussianDelta solves emp - (w+d)/sigma2 = model*exp(c*d) for d with
// Newton's method. The left side minus the right is concave and strictly
// decreasing in d, so the root is unique.
func gaussianDelta(emp, model, w, c, sigma2 float64) float64 {
	limit := maxExponent / c
	var d float64
	for i := 0; i < maxNewtonSteps; i++ {
		ex := model * math.Exp(c*d)
		f := emp - (w+d)/sigma2 - ex
		df := -1/sigma2 - c*ex
		step := f / df
		d = math.Max(-limit, math.Min(limit, d-step))
		if math.Abs(step) < newtonTolerance {
			break
		}
	}
	return d
}
