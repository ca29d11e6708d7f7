// Package mapstore keeps floorplans in a SQLite database so several maps
// can be managed and served from one file.
package mapstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"navengine-go/floorplan"
)

var ErrNotFound = errors.New("floorplan not found")

const schema = `
CREATE TABLE IF NOT EXISTS floorplans (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	doc        BLOB NOT NULL,
	nodes      INTEGER NOT NULL,
	edges      INTEGER NOT NULL,
	emitters   INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Summary describes a stored floorplan without its document.
type Summary struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Nodes    int       `json:"nodes"`
	Edges    int       `json:"edges"`
	Emitters int       `json:"emitters"`
	Updated  time.Time `json:"updated"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" works for tests
// that do not need a file.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases alive and serialises writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save stores fp under name and returns its id. Saving an existing name
// replaces the document and keeps the id.
func (s *Store) Save(ctx context.Context, name string, fp *floorplan.Floorplan) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty map name", floorplan.ErrInvalid)
	}
	if err := fp.Validate(); err != nil {
		return "", err
	}
	var doc bytes.Buffer
	if err := fp.Encode(&doc); err != nil {
		return "", err
	}

	id := uuid.NewString()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO floorplans (id, name, doc, nodes, edges, emitters, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			doc = excluded.doc,
			nodes = excluded.nodes,
			edges = excluded.edges,
			emitters = excluded.emitters,
			updated_at = excluded.updated_at
		RETURNING id`,
		id, name, doc.Bytes(), len(fp.Nodes), len(fp.Edges), len(fp.Emitters), s.now().UTC(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("save %q: %w", name, err)
	}
	return id, nil
}

func (s *Store) get(ctx context.Context, query, key string) (*floorplan.Floorplan, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return floorplan.Decode(bytes.NewReader(doc))
}

// Get loads the floorplan with the given id.
func (s *Store) Get(ctx context.Context, id string) (*floorplan.Floorplan, error) {
	return s.get(ctx, `SELECT doc FROM floorplans WHERE id = ?`, id)
}

// GetByName loads the floorplan saved under name.
func (s *Store) GetByName(ctx context.Context, name string) (*floorplan.Floorplan, error) {
	return s.get(ctx, `SELECT doc FROM floorplans WHERE name = ?`, name)
}

// List returns every stored floorplan ordered by name.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, nodes, edges, emitters, updated_at
		FROM floorplans ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var m Summary
		if err := rows.Scan(&m.ID, &m.Name, &m.Nodes, &m.Edges, &m.Emitters, &m.Updated); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes the floorplan with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM floorplans WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return nil
}

// Lookup loads by id, falling back to name.
func (s *Store) Lookup(ctx context.Context, key string) (*floorplan.Floorplan, error) {
	fp, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return s.GetByName(ctx, key)
	}
	return fp, err
}
