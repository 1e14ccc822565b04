package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/store"
	"github.com/crimson-sun/doccat/internal/store/storetest"
)

func TestStore(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "models"))
	if err != nil {
		t.Fatal(err)
	}
	storetest.Run(t, s)
}

func TestRegistered(t *testing.T) {
	s, err := store.Open(store.Config{Type: "file", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if _, ok := s.(*Store); !ok {
		t.Fatalf("Open returned %T", s)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	if err := s.Save(context.Background(), "m", storetest.Model(t, 1)); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "m.bin" {
		t.Errorf("directory holds %v, want only m.bin", entries)
	}
}

func TestListIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	s.Save(context.Background(), "kept", storetest.Model(t, 1))
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, ".partial.bin"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub.bin"), 0o755)

	names, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "kept" {
		t.Errorf("List = %v, want [kept]", names)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	s.Save(context.Background(), "m", storetest.Model(t, 1))

	path := s.Path("m")
	data, _ := os.ReadFile(path)
	data[len(data)/2] ^= 0xFF
	os.WriteFile(path, data, 0o644)

	if _, err := s.Load(context.Background(), "m"); !errors.Is(err, maxent.ErrCorruptModel) {
		t.Fatalf("Load error = %v, want ErrCorruptModel", err)
	}
}

func TestCancelledContext(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, "m", storetest.Model(t, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("Save error = %v, want context.Canceled", err)
	}
}
