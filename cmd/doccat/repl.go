package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/crimson-sun/doccat/internal/tui"
)

func runREPL(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("repl", a)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(nil); err != nil {
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

	p := tea.NewProgram(tui.New(eng, summary(a.cfg.ModelName, eng.Model())),
		tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}
