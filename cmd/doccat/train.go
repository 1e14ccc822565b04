package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/crimson-sun/doccat/internal/config"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
)

func runTrain(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("train", a)
	patterns := fs.StringSlice("corpus", nil, "corpus file globs (default from config)")
	delim := fs.String("delimiter", "", "label/text delimiter (default: whitespace)")
	iterations := fs.Int("iterations", 0, "maximum GIS iterations")
	cutoff := fs.Int("cutoff", -1, "minimum feature count")
	sigma := fs.Float64("sigma", -1, "Gaussian prior std-dev; 0 disables smoothing")
	extractors := fs.StringSlice("extractors", nil, `feature extractors, e.g. bow,ngram:2`)
	if err := fs.Parse(args); err != nil {
		return err
	}
	err := a.setup(func(c *config.Config) {
		if len(*patterns) > 0 {
			c.Corpus.Patterns = *patterns
		}
		if fs.Changed("delimiter") {
			c.Corpus.Delimiter = unescapeFlag(*delim)
		}
		if *iterations > 0 {
			c.Training.Iterations = *iterations
		}
		if *cutoff >= 0 {
			c.Training.Cutoff = *cutoff
		}
		if *sigma >= 0 {
			c.Training.Sigma = *sigma
		}
		if len(*extractors) > 0 {
			c.Training.Extractors = *extractors
		}
	})
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := a.train(ctx)
	if eng == nil {
		return err
	}
	if err != nil && !errors.Is(err, maxent.ErrConvergence) {
		return err
	}
	if err := st.Save(ctx, a.cfg.ModelName, eng.Model()); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	a.log.Info("model saved", "name", a.cfg.ModelName, "store", a.cfg.Store.Type, "path", a.cfg.Store.Path)
	fmt.Println(summary(a.cfg.ModelName, eng.Model()))
	return nil
}

// unescapeFlag lets a tab delimiter be typed as \t.
func unescapeFlag(s string) string {
	if s == `\t` {
		return "\t"
	}
	return s
}
