package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/crimson-sun/doccat/internal/config"
	"github.com/crimson-sun/doccat/internal/pipeline"
)

func runClassify(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("classify", a)
	outPath := fs.StringP("output", "o", "", "write NDJSON to this file instead of stdout")
	verbosity := fs.String("verbosity", "", "minimal, standard or full")
	batch := fs.Int("batch-size", 64, "lines per batch when reading stdin")
	window := fs.Duration("window", 200*time.Millisecond, "flush a partial batch after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	err := a.setup(func(c *config.Config) {
		if *outPath != "" {
			c.Output.Format = "file"
			c.Output.Path = *outPath
		}
		if *verbosity != "" {
			c.Output.Verbosity = *verbosity
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
	eng, err := a.load(ctx, st)
	if err != nil {
		return err
	}
	out, err := a.openOutput()
	if err != nil {
		return err
	}

	// Texts on the command line are classified directly.
	if texts := fs.Args(); len(texts) > 0 {
		preds, err := eng.ProcessBatch(texts)
		if err != nil {
			out.Close()
			return err
		}
		for _, p := range preds {
			if err := out.Write(ctx, p); err != nil {
				out.Close()
				return err
			}
		}
		return out.Close()
	}

	p := pipeline.New(eng, out,
		pipeline.WithBatchSize(*batch),
		pipeline.WithWindow(*window),
		pipeline.WithLogger(a.log),
	)
	runErr := p.Run(ctx, os.Stdin)
	closeErr := p.Close()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	a.log.Debug("classified", "written", p.Written(), "skipped", p.Skipped())
	return closeErr
}
