package doccat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/crimson-sun/doccat/internal/corpus"
	"github.com/crimson-sun/doccat/internal/engine"
	"github.com/crimson-sun/doccat/internal/engine/embedder"
	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
	"github.com/crimson-sun/doccat/internal/model"
)

var (
	// ErrInsufficientData is returned when the training set has fewer than
	// two labels or no usable features.
	ErrInsufficientData = maxent.ErrInsufficientData

	// ErrConvergence is returned together with a usable Classifier when
	// training hit the iteration limit before settling.
	ErrConvergence = maxent.ErrConvergence

	// ErrUnsupportedFormat is returned by Load for models written by a newer
	// format version.
	ErrUnsupportedFormat = maxent.ErrUnsupportedFormat

	// ErrCorruptModel is returned by Load for damaged model data.
	ErrCorruptModel = maxent.ErrCorruptModel
)

// Sample is one labeled training document.
type Sample struct {
	Label string
	Text  string
}

// Outcome is one category with its probability.
type Outcome struct {
	Label       string
	Probability float64
}

// Prediction is the classification of one text.
type Prediction struct {
	Label       string
	Probability float64
	// Outcomes holds every category, most probable first.
	Outcomes []Outcome
	// OutOfVocabulary counts input features the model never saw.
	OutOfVocabulary int
	ModelID         string
}

// Classifier categorizes text with a trained model.
type Classifier struct {
	engine   *engine.Engine
	embedder *embedder.Embedder
}

// Train fits a classifier on in-memory samples.
func Train(ctx context.Context, samples []Sample, opts ...Option) (*Classifier, error) {
	ms := make([]model.Sample, len(samples))
	for i, s := range samples {
		ms[i] = model.Sample{Label: s.Label, Text: s.Text, Line: i + 1}
	}
	return train(ctx, corpus.NewSliceStream(ms), applyOptions(opts))
}

// TrainFiles fits a classifier on corpus files. Patterns are doublestar
// globs; each line holds a label, the delimiter, then the text. Blank lines
// and lines starting with # are skipped.
func TrainFiles(ctx context.Context, patterns []string, opts ...Option) (*Classifier, error) {
	o := applyOptions(opts)
	stream, err := corpus.Open(patterns, o.delimiter)
	if err != nil {
		return nil, fmt.Errorf("doccat: %w", err)
	}
	defer stream.Close()
	return train(ctx, stream, o)
}

func train(ctx context.Context, stream corpus.Stream, o options) (*Classifier, error) {
	emb, err := openEmbedder(o, o.train.Extractors)
	if err != nil {
		return nil, err
	}
	var parts []feature.Extractor
	for _, d := range o.train.Extractors {
		if d == "embedding" {
			parts = append(parts, feature.NewEmbedding(emb, o.embedScale))
			continue
		}
		ext, err := feature.Get(d)
		if err != nil {
			closeEmbedder(emb)
			return nil, fmt.Errorf("doccat: %w", err)
		}
		parts = append(parts, ext)
	}
	if len(parts) == 0 {
		return nil, errors.New("doccat: no feature extractors")
	}

	eng, err := engine.Train(ctx, stream, tokenizer.New(o.tokenizer), feature.Combine(parts...), o.train, o.logger)
	if eng == nil {
		closeEmbedder(emb)
		return nil, fmt.Errorf("doccat: %w", err)
	}
	c := &Classifier{engine: eng, embedder: emb}
	if err != nil {
		return c, fmt.Errorf("doccat: %w", err)
	}
	return c, nil
}

// Load reads a model written by Save. Tokenizer and extractor settings come
// from the model; only WithEmbedder and WithONNXRuntime apply.
func Load(path string, opts ...Option) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("doccat: %w", err)
	}
	defer f.Close()
	return Decode(f, opts...)
}

// Decode reads a model from r.
func Decode(r io.Reader, opts ...Option) (*Classifier, error) {
	o := applyOptions(opts)
	m, err := maxent.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("doccat: %w", err)
	}
	emb, err := openEmbedder(o, m.Metadata().Extractors)
	if err != nil {
		return nil, err
	}
	var supplied []feature.Extractor
	if emb != nil {
		supplied = append(supplied, feature.NewEmbedding(emb, o.embedScale))
	}
	eng, err := engine.FromModel(m, supplied...)
	if err != nil {
		closeEmbedder(emb)
		return nil, fmt.Errorf("doccat: %w", err)
	}
	return &Classifier{engine: eng, embedder: emb}, nil
}

// Classify returns the category distribution for text.
func (c *Classifier) Classify(text string) (Prediction, error) {
	p, err := c.engine.Process(text)
	if err != nil {
		return Prediction{}, err
	}
	return predictionFromModel(p), nil
}

// ClassifyBatch classifies several texts.
func (c *Classifier) ClassifyBatch(texts []string) ([]Prediction, error) {
	ps, err := c.engine.ProcessBatch(texts)
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(ps))
	for i, p := range ps {
		out[i] = predictionFromModel(p)
	}
	return out, nil
}

// Labels returns the categories the model knows, in model order.
func (c *Classifier) Labels() []string {
	return slices.Clone(c.engine.Model().Labels().Names())
}

// ModelID identifies the trained model.
func (c *Classifier) ModelID() string {
	return c.engine.Model().Metadata().ID
}

// Save writes the model to path, replacing any existing file atomically.
func (c *Classifier) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("doccat: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := c.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("doccat: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("doccat: %w", err)
	}
	return nil
}

// Encode writes the model to w.
func (c *Classifier) Encode(w io.Writer) error {
	if err := maxent.Encode(w, c.engine.Model()); err != nil {
		return fmt.Errorf("doccat: %w", err)
	}
	return nil
}

// Close releases the sentence encoder, if one was opened.
func (c *Classifier) Close() error {
	return closeEmbedder(c.embedder)
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// openEmbedder loads the encoder when descriptors need it.
func openEmbedder(o options, descriptors []string) (*embedder.Embedder, error) {
	if !slices.Contains(descriptors, "embedding") {
		return nil, nil
	}
	if o.embedModel == "" {
		return nil, errors.New(`doccat: extractor "embedding" requires WithEmbedder`)
	}
	emb, err := embedder.New(embedder.Config{
		ModelPath:   o.embedModel,
		VocabPath:   o.embedVocab,
		LibraryPath: o.onnxLib,
	})
	if err != nil {
		return nil, fmt.Errorf("doccat: %w", err)
	}
	return emb, nil
}

func closeEmbedder(e *embedder.Embedder) error {
	if e == nil {
		return nil
	}
	return e.Close()
}

func predictionFromModel(p model.Prediction) Prediction {
	outcomes := make([]Outcome, len(p.Outcomes))
	for i, o := range p.Outcomes {
		outcomes[i] = Outcome{Label: o.Label, Probability: o.Probability}
	}
	return Prediction{
		Label:           p.Label,
		Probability:     p.Probability,
		Outcomes:        outcomes,
		OutOfVocabulary: p.OutOfVocabulary,
		ModelID:         p.ModelID,
	}
}
