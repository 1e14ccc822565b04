package doccat

import (
	"log/slog"

	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
)

type options struct {
	train      maxent.TrainConfig
	tokenizer  tokenizer.Options
	delimiter  string
	embedModel string
	embedVocab string
	onnxLib    string
	embedScale float64
	logger     *slog.Logger
}

// Option configures training and loading.
type Option func(*options)

// WithIterations sets the maximum number of GIS iterations. Default: 100.
func WithIterations(n int) Option {
	return func(o *options) {
		o.train.Iterations = n
	}
}

// WithCutoff drops features seen fewer than n times in the corpus.
// Default: 0 (keep everything).
func WithCutoff(n int) Option {
	return func(o *options) {
		o.train.Cutoff = n
	}
}

// WithSigma sets the standard deviation of the Gaussian prior. 0 disables
// smoothing. Default: 1.
func WithSigma(sigma float64) Option {
	return func(o *options) {
		o.train.Sigma = sigma
	}
}

// WithWorkers sets the number of goroutines computing model expectations.
// Default: GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.train.Workers = n
	}
}

// WithExtractors selects the feature extractors, e.g. "bow", "ngram:2" or
// "embedding". Default: bow.
func WithExtractors(descriptors ...string) Option {
	return func(o *options) {
		o.train.Extractors = descriptors
	}
}

// WithTokenizer sets text normalization. Default: lowercase and strip
// accents, drop punctuation. Ignored by Load, which uses the settings the
// model was trained with.
func WithTokenizer(lowercase, stripAccents, keepPunctuation bool) Option {
	return func(o *options) {
		o.tokenizer = tokenizer.Options{
			Lowercase:       lowercase,
			StripAccents:    stripAccents,
			KeepPunctuation: keepPunctuation,
		}
	}
}

// WithDelimiter sets the label/text separator of corpus files read by
// TrainFiles. Default: any run of whitespace.
func WithDelimiter(d string) Option {
	return func(o *options) {
		o.delimiter = d
	}
}

// WithEmbedder sets the ONNX sentence encoder and its WordPiece vocabulary,
// required by the "embedding" extractor.
func WithEmbedder(modelPath, vocabPath string) Option {
	return func(o *options) {
		o.embedModel = modelPath
		o.embedVocab = vocabPath
	}
}

// WithONNXRuntime sets the onnxruntime shared library. Default:
// libonnxruntime.so next to the encoder model.
func WithONNXRuntime(libPath string) Option {
	return func(o *options) {
		o.onnxLib = libPath
	}
}

// WithLogger sets the logger for training progress. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func defaultOptions() options {
	return options{
		train:      maxent.DefaultTrainConfig(),
		tokenizer:  tokenizer.DefaultOptions(),
		embedScale: 1,
	}
}
