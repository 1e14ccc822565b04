// Package storetest provides a model fixture and a behavioural test suite
// shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/vocab"
	"github.com/crimson-sun/doccat/internal/store"
)

// Model returns a small two-label model whose weights depend on seed, so
// models built with different seeds are distinguishable.
func Model(t testing.TB, seed float64) *maxent.Model {
	t.Helper()
	features, err := vocab.NewIndex([]string{"apple", "banana", "copper", "steel"})
	if err != nil {
		t.Fatal(err)
	}
	labels, err := vocab.NewIndex([]string{"Fruits", "Metals"})
	if err != nil {
		t.Fatal(err)
	}
	w := mat.NewDense(4, 2, []float64{
		seed, -seed,
		seed, -seed,
		-seed, seed,
		-seed, seed,
	})
	m, err := maxent.NewModel(features, labels, w, maxent.Metadata{
		ID:         fmt.Sprintf("model-%g", seed),
		CreatedAt:  time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Iterations: 10,
		Extractors: []string{"bow"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// Run exercises s, which must be empty.
func Run(t *testing.T, s store.Store) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		names, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(names) != 0 {
			t.Fatalf("List = %v, want empty", names)
		}
		if _, err := s.Load(ctx, "absent"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("Load(absent) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		want := Model(t, 1.5)
		if err := s.Save(ctx, "shipments", want); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		got, err := s.Load(ctx, "shipments")
		if err != nil {
			t.Fatalf("Load error: %v", err)
		}
		if !got.Equal(want, 0) {
			t.Fatal("loaded model differs from saved model")
		}
		if got.Metadata().ID != want.Metadata().ID {
			t.Errorf("ID = %q, want %q", got.Metadata().ID, want.Metadata().ID)
		}
		if r := got.Classify(feature.Counts{"steel": 1}); r.Label() != "Metals" {
			t.Errorf("loaded model classifies steel as %q", r.Label())
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		replacement := Model(t, 3)
		if err := s.Save(ctx, "shipments", replacement); err != nil {
			t.Fatalf("Save error: %v", err)
		}
		got, err := s.Load(ctx, "shipments")
		if err != nil {
			t.Fatalf("Load error: %v", err)
		}
		if !got.Equal(replacement, 0) {
			t.Fatal("Save did not replace the existing model")
		}
	})

	t.Run("list sorted", func(t *testing.T) {
		for _, name := range []string{"zeta", "alpha"} {
			if err := s.Save(ctx, name, Model(t, 1)); err != nil {
				t.Fatalf("Save(%s) error: %v", name, err)
			}
		}
		names, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		want := []string{"alpha", "shipments", "zeta"}
		if len(names) != len(want) {
			t.Fatalf("List = %v, want %v", names, want)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Fatalf("List = %v, want %v", names, want)
			}
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		if err := s.Save(ctx, "../escape", Model(t, 1)); err == nil {
			t.Fatal("expected error for name with path separator")
		}
	})
}
