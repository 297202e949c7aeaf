// Package index is the persistent nearest-neighbour store for book documents.
//
// Documents live in SQLite and are searched by brute-force cosine distance,
// which is exact and fast enough for a curated corpus. Each rebuild writes a
// new generation and swaps the collection pointer inside one transaction, so
// readers observe either the previous or the new corpus, never a mix.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// MetricCosine is the only distance metric the index supports.
const MetricCosine = "cosine"

// Entry is one document to be written by Rebuild.
type Entry struct {
	ID        string
	Title     string
	Document  string
	Embedding []float32
}

// Hit is one nearest-neighbour result.
type Hit struct {
	ID       string
	Title    string
	Document string
	Distance float64
}

// Info describes the active generation of a collection.
type Info struct {
	Collection string    `json:"collection"`
	Metric     string    `json:"metric"`
	Generation string    `json:"generation"`
	Count      int       `json:"count"`
	IDs        []string  `json:"ids"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SQLiteIndex is a SQLite-backed vector index.
//
// A process holds one SQLiteIndex per database. Rebuild and Drop take the
// write lock; Query and Info take the read lock. Across processes SQLite's own
// write lock serializes rebuilds.
type SQLiteIndex struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// NewSQLiteIndex opens (creating if needed) the index database at dbPath,
// applies pragmas and runs migrations.
func NewSQLiteIndex(dbPath string) (*SQLiteIndex, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteIndex{db: db, path: dbPath}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Path returns the database path the index was opened with.
func (s *SQLiteIndex) Path() string {
	return s.path
}

// SchemaVersion returns the applied migration version.
func (s *SQLiteIndex) SchemaVersion() (int64, error) {
	return SchemaVersion(s.db)
}

// Rebuild replaces the whole content of collection with entries. The
// collection is created when missing and its metric is always cosine. When
// two entries share an ID the later one wins. It returns the new generation.
func (s *SQLiteIndex) Rebuild(ctx context.Context, collection string, entries []Entry) (string, error) {
	if err := checkDimensions(entries); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	generation := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (collection, generation, id, title, document, embedding, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (generation, id) DO UPDATE SET
			title = excluded.title,
			document = excluded.document,
			embedding = excluded.embedding,
			position = excluded.position
	`)
	if err != nil {
		return "", fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			collection, generation, e.ID, e.Title, e.Document, PackEmbedding(e.Embedding), i,
		); err != nil {
			return "", fmt.Errorf("insert document %q: %w", e.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collections (name, metric, generation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			metric = excluded.metric,
			generation = excluded.generation,
			updated_at = excluded.updated_at
	`, collection, MetricCosine, generation, now, now); err != nil {
		return "", fmt.Errorf("swap collection generation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND generation != ?`,
		collection, generation,
	); err != nil {
		return "", fmt.Errorf("delete previous generations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	return generation, nil
}

func checkDimensions(entries []Entry) error {
	dim := -1
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return fmt.Errorf("%w: document %q", ErrEmptyEmbedding, e.ID)
		}
		if dim == -1 {
			dim = len(e.Embedding)
			continue
		}
		if len(e.Embedding) != dim {
			return fmt.Errorf("%w: document %q has %d dimensions, expected %d",
				ErrDimensionMismatch, e.ID, len(e.Embedding), dim)
		}
	}
	return nil
}

// Query returns up to k documents of collection nearest to embedding, by
// ascending cosine distance. Equal distances keep corpus order.
func (s *SQLiteIndex) Query(ctx context.Context, collection string, embedding []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	generation, _, err := s.activeGeneration(ctx, collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, document, embedding
		FROM documents
		WHERE collection = ? AND generation = ?
		ORDER BY position ASC
	`, collection, generation)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var blob []byte
		if err := rows.Scan(&h.ID, &h.Title, &h.Document, &blob); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		h.Distance = CosineDistance(embedding, UnpackEmbedding(blob))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// activeGeneration returns the current generation and metric of collection.
func (s *SQLiteIndex) activeGeneration(ctx context.Context, collection string) (string, string, error) {
	var generation, metric string
	err := s.db.QueryRowContext(ctx,
		`SELECT generation, metric FROM collections WHERE name = ?`, collection,
	).Scan(&generation, &metric)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return "", "", fmt.Errorf("read collection: %w", err)
	}
	return generation, metric, nil
}

// Info reports the active generation of collection and its document IDs,
// sorted.
func (s *SQLiteIndex) Info(ctx context.Context, collection string) (*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	generation, metric, err := s.activeGeneration(ctx, collection)
	if err != nil {
		return nil, err
	}

	var updatedAt string
	if err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM collections WHERE name = ?`, collection,
	).Scan(&updatedAt); err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE collection = ? AND generation = ? ORDER BY id ASC`,
		collection, generation,
	)
	if err != nil {
		return nil, fmt.Errorf("query document ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	info := &Info{
		Collection: collection,
		Metric:     metric,
		Generation: generation,
		Count:      len(ids),
		IDs:        ids,
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		info.UpdatedAt = t
	}
	return info, nil
}

// Count returns the number of documents in the active generation of
// collection.
func (s *SQLiteIndex) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	generation, _, err := s.activeGeneration(ctx, collection)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ? AND generation = ?`,
		collection, generation,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// Drop deletes collection and all of its documents. Dropping a missing
// collection is not an error.
func (s *SQLiteIndex) Drop(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Snapshot writes a consistent copy of the index database to path,
// replacing any existing file.
func (s *SQLiteIndex) Snapshot(ctx context.Context, path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove previous snapshot: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into snapshot: %w", err)
	}
	return nil
}
