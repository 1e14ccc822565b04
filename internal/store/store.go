// Package store persists trained models by name. Backends register
// themselves by type name; import them for side effects and call Open.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/crimson-sun/doccat/internal/engine/maxent"
)

// ErrNotFound is returned by Load when no model has the given name.
var ErrNotFound = errors.New("store: model not found")

// Store saves and loads models. Implementations are safe for concurrent use.
type Store interface {
	// Save replaces any model stored under name.
	Save(ctx context.Context, name string, m *maxent.Model) error
	Load(ctx context.Context, name string) (*maxent.Model, error)
	// List returns stored model names in ascending order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Config selects and locates a backend.
type Config struct {
	Type  string
	Path  string // directory, database file or base URL
	Token string // bearer token for remote stores
}

// Constructor opens a backend.
type Constructor func(cfg Config) (Store, error)

var registry = map[string]Constructor{}

// Register adds a backend under the given type name.
func Register(typ string, ctor Constructor) {
	registry[typ] = ctor
}

// Open creates the backend registered under cfg.Type.
func Open(cfg Config) (Store, error) {
	ctor, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("store: unknown type %q (have %s)", cfg.Type, strings.Join(Types(), ", "))
	}
	return ctor(cfg)
}

// Types returns the registered backend names, sorted.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateName rejects names that are empty, hidden or could escape a
// directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("store: empty model name")
	case len(name) > 128:
		return fmt.Errorf("store: model name longer than 128 bytes")
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("store: model name %q must not start with a dot", name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("store: model name %q contains a path separator", name)
	}
	return nil
}
