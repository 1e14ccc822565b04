// Package engine wires the tokenizer, feature extractor and maximum-entropy
// model into a text classifier.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/crimson-sun/doccat/internal/corpus"
	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
	"github.com/crimson-sun/doccat/internal/model"
)

// Engine classifies raw text. It is immutable and safe for concurrent use.
type Engine struct {
	tok   *tokenizer.Tokenizer
	ext   feature.Extractor
	model *maxent.Model
}

// New creates an Engine with the provided components. tok and ext must match
// the ones the model was trained with.
func New(tok *tokenizer.Tokenizer, ext feature.Extractor, m *maxent.Model) *Engine {
	return &Engine{tok: tok, ext: ext, model: m}
}

// FromModel rebuilds the tokenizer and extractor recorded in the model
// metadata. Extractors that cannot be built from a descriptor alone (such as
// "embedding") must be supplied.
func FromModel(m *maxent.Model, supplied ...feature.Extractor) (*Engine, error) {
	meta := m.Metadata()
	ext, err := feature.Resolve(meta.Extractors, supplied...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	tok := tokenizer.New(tokenizer.OptionsFromFlags(meta.Tokenizer))
	return New(tok, ext, m), nil
}

// Model returns the underlying model.
func (e *Engine) Model() *maxent.Model { return e.model }

// Tokenizer returns the tokenizer used for input text.
func (e *Engine) Tokenizer() *tokenizer.Tokenizer { return e.tok }

// Extractor returns the feature extractor.
func (e *Engine) Extractor() feature.Extractor { return e.ext }

// Classify returns the full probability distribution for text.
func (e *Engine) Classify(text string) (maxent.Result, error) {
	res, err := e.model.ClassifyTokens(e.ext, e.tok.Tokenize(text))
	if err != nil {
		return maxent.Result{}, fmt.Errorf("engine: %w", err)
	}
	return res, nil
}

// Process classifies a single text into a prediction.
func (e *Engine) Process(text string) (model.Prediction, error) {
	res, err := e.Classify(text)
	if err != nil {
		return model.Prediction{}, err
	}
	ranked := res.Ranked()
	outcomes := make([]model.Outcome, len(ranked))
	for i, o := range ranked {
		outcomes[i] = model.Outcome{Label: o.Label, Probability: o.Probability}
	}
	return model.Prediction{
		Text:            text,
		Label:           res.Label(),
		Probability:     res.Probability(),
		Outcomes:        outcomes,
		OutOfVocabulary: len(res.OutOfVocabulary),
		Timestamp:       time.Now().UTC(),
		ModelID:         e.model.Metadata().ID,
	}, nil
}

// ProcessBatch classifies a slice of texts.
func (e *Engine) ProcessBatch(texts []string) ([]model.Prediction, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	preds := make([]model.Prediction, 0, len(texts))
	for _, text := range texts {
		p, err := e.Process(text)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// Train fits a model on the samples of stream and returns an Engine around
// it. The stream is read twice. When training stops before convergence the
// engine is returned together with the *maxent.ConvergenceError, which is
// also logged as a warning. A nil logger means slog.Default().
func Train(ctx context.Context, stream corpus.Stream, tok *tokenizer.Tokenizer, ext feature.Extractor,
	cfg maxent.TrainConfig, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg.Tokenizer = tok.Options().Flags()
	cfg.Extractors = feature.Descriptors(ext)

	start := time.Now()
	m, err := maxent.NewTrainer(cfg).Train(ctx, &eventSource{stream: stream, tok: tok, ext: ext})
	if m == nil {
		return nil, fmt.Errorf("engine: train: %w", err)
	}
	meta := m.Metadata()
	attrs := []any{
		"model_id", meta.ID,
		"labels", m.NumLabels(),
		"features", m.Features().Len(),
		"iterations", meta.Iterations,
		"log_likelihood", meta.LogLikelihood,
		"duration", time.Since(start),
	}
	if err != nil {
		log.Warn("training stopped before convergence", append(attrs, "error", err)...)
		return New(tok, ext, m), err
	}
	log.Info("model trained", attrs...)
	return New(tok, ext, m), nil
}

// eventSource turns corpus samples into training events.
type eventSource struct {
	stream corpus.Stream
	tok    *tokenizer.Tokenizer
	ext    feature.Extractor
}

func (s *eventSource) Next() (maxent.Event, error) {
	sample, err := s.stream.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return maxent.Event{}, io.EOF
		}
		return maxent.Event{}, err
	}
	counts, err := s.ext.Extract(s.tok.Tokenize(sample.Text))
	if err != nil {
		return maxent.Event{}, fmt.Errorf("sample %s:%d: %w", sample.Source, sample.Line, err)
	}
	return maxent.Event{Label: sample.Label, Counts: counts}, nil
}

func (s *eventSource) Reset() error { return s.stream.Reset() }
