package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/crimson-sun/doccat/internal/store/sqlite"
)

func runModels(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("models", a)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(nil); err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// The sqlite store keeps per-model details without decoding.
	if db, ok := st.(*sqlite.Store); ok {
		entries, err := db.Entries(ctx)
		if err != nil {
			return err
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("NAME", "MODEL ID", "VERSION", "SIZE", "CREATED")
		for _, e := range entries {
			t.Row(e.Name, e.ModelID, strconv.Itoa(e.FormatVersion), strconv.Itoa(e.Size), e.CreatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println(t.String())
		return nil
	}

	names, err := st.List(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}
