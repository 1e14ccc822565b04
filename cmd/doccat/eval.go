package main

import (
	"context"
	"fmt"

	"github.com/crimson-sun/doccat/internal/config"
	"github.com/crimson-sun/doccat/internal/corpus"
	"github.com/crimson-sun/doccat/internal/engine"
	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
	"github.com/crimson-sun/doccat/internal/eval"
	"github.com/crimson-sun/doccat/internal/model"
)

func runEval(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("eval", a)
	patterns := fs.StringSlice("corpus", nil, "labeled test files (default: the training corpus)")
	folds := fs.IntP("folds", "k", 0, "cross-validate the training configuration over k folds instead of scoring the stored model")
	seed := fs.Uint64("seed", 1, "shuffle seed for cross-validation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(func(c *config.Config) {
		if len(*patterns) > 0 {
			c.Corpus.Patterns = *patterns
		}
	}); err != nil {
		return err
	}
	defer a.close()

	samples, err := readSamples(a.cfg.Corpus)
	if err != nil {
		return err
	}

	if *folds > 0 {
		return crossValidate(ctx, a, samples, *folds, *seed)
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	eng, err := a.load(ctx, st)
	if err != nil {
		return err
	}
	rep := eval.Evaluate(eng, samples)
	if rep.Failed > 0 {
		a.log.Warn("samples failed to classify", "count", rep.Failed)
	}
	fmt.Print(rep.Table())
	return nil
}

func crossValidate(ctx context.Context, a *app, samples []model.Sample, folds int, seed uint64) error {
	supplied, err := a.supplied()
	if err != nil {
		return err
	}
	ext, err := feature.Resolve(a.cfg.Training.Extractors, supplied...)
	if err != nil {
		return err
	}
	tok := tokenizer.New(a.cfg.Tokenizer)
	train := func(ctx context.Context, s []model.Sample) (eval.Classifier, error) {
		eng, err := engine.Train(ctx, corpus.NewSliceStream(s), tok, ext, a.cfg.TrainConfig(), a.log)
		if eng == nil {
			return nil, err
		}
		return eng, err
	}

	cv, err := eval.CrossValidate(ctx, samples, folds, seed, train)
	if err != nil {
		return err
	}
	for i, rep := range cv.Folds {
		fmt.Printf("fold %d: accuracy %.1f%% (%d/%d), macro F1 %.1f%%\n",
			i+1, rep.Accuracy*100, rep.Correct, rep.Samples, rep.MacroF1()*100)
	}
	fmt.Printf("mean accuracy %.1f%% ± %.1f%% over %d folds\n", cv.MeanAccuracy*100, cv.StdDev*100, folds)
	return nil
}

func readSamples(cc config.CorpusConfig) ([]model.Sample, error) {
	stream, err := corpus.Open(cc.Patterns, cc.Delimiter)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return corpus.Collect(stream)
}
