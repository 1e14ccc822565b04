// Package sqlite keeps models as blobs in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/sqlite" // registers the pure Go "sqlite" driver

	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS models (
	name           TEXT PRIMARY KEY,
	format_version INTEGER NOT NULL,
	model_id       TEXT NOT NULL,
	data           BLOB NOT NULL,
	created_at     TEXT NOT NULL
)`

func init() {
	store.Register("sqlite", func(cfg store.Config) (store.Store, error) {
		return Open(cfg.Path)
	})
}

// Store is a models table in a SQLite database.
type Store struct {
	db *sql.DB
}

// Entry describes a stored model without decoding it.
type Entry struct {
	Name          string
	FormatVersion int
	ModelID       string
	CreatedAt     time.Time
	Size          int
}

// Open creates the database file, its directory and the models table as
// needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, name string, m *maxent.Model) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	meta := m.Metadata()
	created := meta.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO models (name, format_version, model_id, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			format_version = excluded.format_version,
			model_id = excluded.model_id,
			data = excluded.data,
			created_at = excluded.created_at`,
		name, int(maxent.FormatVersion), meta.ID, data, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite store: save %s: %w", name, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, name string) (*maxent.Model, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM models WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load %s: %w", name, err)
	}
	m, err := maxent.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %s: %w", name, err)
	}
	return m, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Entries returns the stored models ordered by name.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, format_version, model_id, created_at, length(data) FROM models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.Name, &e.FormatVersion, &e.ModelID, &created, &e.Size); err != nil {
			return nil, fmt.Errorf("sqlite store: list: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("sqlite store: list: model %q created_at: %w", e.Name, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }
