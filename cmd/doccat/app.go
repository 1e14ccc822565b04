package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crimson-sun/doccat/internal/config"
	"github.com/crimson-sun/doccat/internal/corpus"
	"github.com/crimson-sun/doccat/internal/engine"
	"github.com/crimson-sun/doccat/internal/engine/embedder"
	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
	"github.com/crimson-sun/doccat/internal/output"
	"github.com/crimson-sun/doccat/internal/output/async"
	"github.com/crimson-sun/doccat/internal/output/file"
	"github.com/crimson-sun/doccat/internal/output/multi"
	"github.com/crimson-sun/doccat/internal/output/stdout"
	"github.com/crimson-sun/doccat/internal/output/webhook"
	"github.com/crimson-sun/doccat/internal/store"
)

// app holds what commands share: parsed flags, configuration and the
// resources opened from it.
type app struct {
	configPath string
	logLevel   string
	modelName  string

	cfg config.Config
	log *slog.Logger
	emb *embedder.Embedder
}

// close releases the embedder, if one was opened.
func (a *app) close() {
	if a.emb != nil {
		a.emb.Close()
	}
}

// supplied returns the extractors that cannot be built from a descriptor
// alone. It opens the embedder on first use when one is configured.
func (a *app) supplied() ([]feature.Extractor, error) {
	if !a.cfg.Embedder.Enabled() {
		return nil, nil
	}
	if a.emb == nil {
		emb, err := embedder.New(embedder.Config{
			ModelPath:   a.cfg.Embedder.ModelPath,
			VocabPath:   a.cfg.Embedder.VocabPath,
			LibraryPath: a.cfg.Embedder.LibraryPath,
			Threads:     a.cfg.Embedder.Threads,
		})
		if err != nil {
			return nil, err
		}
		a.log.Info("embedder loaded", "model", a.cfg.Embedder.ModelPath, "dim", emb.Dim())
		a.emb = emb
	}
	return []feature.Extractor{feature.NewEmbedding(a.emb, a.cfg.Embedder.Scale)}, nil
}

// train fits a new engine on the configured corpus. A convergence error is
// returned alongside a usable engine.
func (a *app) train(ctx context.Context) (*engine.Engine, error) {
	supplied, err := a.supplied()
	if err != nil {
		return nil, err
	}
	ext, err := feature.Resolve(a.cfg.Training.Extractors, supplied...)
	if err != nil {
		return nil, err
	}
	stream, err := corpus.Open(a.cfg.Corpus.Patterns, a.cfg.Corpus.Delimiter)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	a.log.Info("training", "model", a.cfg.ModelName, "files", len(stream.Paths()),
		"extractors", a.cfg.Training.Extractors, "iterations", a.cfg.Training.Iterations)
	return engine.Train(ctx, stream, tokenizer.New(a.cfg.Tokenizer), ext, a.cfg.TrainConfig(), a.log)
}

func (a *app) openStore() (store.Store, error) {
	return store.Open(a.cfg.StoreOptions())
}

// load reads the configured model from the store.
func (a *app) load(ctx context.Context, st store.Store) (*engine.Engine, error) {
	m, err := st.Load(ctx, a.cfg.ModelName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("model %q not found in %s store; run \"doccat train\" first", a.cfg.ModelName, a.cfg.Store.Type)
	}
	if err != nil {
		return nil, err
	}
	supplied, err := a.supplied()
	if err != nil {
		return nil, err
	}
	return engine.FromModel(m, supplied...)
}

// openOutput builds the prediction destination: stdout or a rotating file,
// plus an asynchronous webhook when one is configured.
func (a *app) openOutput() (output.Output, error) {
	oc := a.cfg.Output
	verbosity, err := output.ParseVerbosity(oc.Verbosity)
	if err != nil {
		return nil, err
	}

	var primary output.Output
	switch oc.Format {
	case "file":
		f, err := file.New(oc.Path, verbosity, file.WithMaxSize(oc.MaxSize))
		if err != nil {
			return nil, err
		}
		primary = f
	default:
		primary = stdout.New(verbosity, oc.Pretty)
	}
	if oc.WebhookURL == "" {
		return primary, nil
	}

	onError := func(err error) { a.log.Warn("webhook delivery failed", "error", err) }
	hook := webhook.New(oc.WebhookURL,
		webhook.WithHeaders(oc.WebhookHeaders),
		webhook.WithSecret(oc.WebhookSecret),
		webhook.WithVerbosity(verbosity),
		webhook.WithOnError(onError),
	)
	return multi.New(primary, async.New(hook,
		async.WithBufferSize(oc.BufferSize),
		async.WithDropOnFull(),
		async.WithOnError(onError),
		async.WithDrainTimeout(a.cfg.ShutdownTimeout),
	)), nil
}

// summary describes a model in one line.
func summary(name string, m *maxent.Model) string {
	meta := m.Metadata()
	state := "converged"
	if !meta.Converged {
		state = "not converged"
	}
	return fmt.Sprintf("%s · %d labels · %d features · %d iterations (%s) · trained %s",
		name, m.NumLabels(), m.Features().Len(), meta.Iterations, state, meta.CreatedAt.Local().Format(time.DateTime))
}
