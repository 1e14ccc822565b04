package main

import (
	"context"
	"errors"

	"github.com/crimson-sun/doccat/internal/config"
	"github.com/crimson-sun/doccat/internal/server"
)

func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("serve", a)
	addr := fs.String("addr", "", "listen address (default from config)")
	record := fs.Bool("record", false, "write every served prediction to the configured output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(func(c *config.Config) {
		if *addr != "" {
			c.Server.Addr = *addr
		}
	}); err != nil {
		return err
	}
	defer a.close()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	supplied, err := a.supplied()
	if err != nil {
		return err
	}
	opts := []server.Option{server.WithLogger(a.log), server.WithExtractors(supplied...)}
	if *record {
		out, err := a.openOutput()
		if err != nil {
			return err
		}
		opts = append(opts, server.WithOutput(out))
	}

	srv := server.New(server.Config{
		ModelName:       a.cfg.ModelName,
		Addr:            a.cfg.Server.Addr,
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
		ShutdownTimeout: a.cfg.ShutdownTimeout,
		Token:           a.cfg.Server.Token,
	}, st, a.train, opts...)
	defer srv.Close()

	a.log.Info("doccat starting", "version", config.Version, "addr", a.cfg.Server.Addr,
		"model", a.cfg.ModelName, "store", a.cfg.Store.Type)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
