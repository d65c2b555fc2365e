// Package vector persists (embedding, Document) pairs per named collection in SQLite.
//
// Entries are append-only. A collection's dimensionality is fixed by its first insert,
// and a collection is only ever removed as a whole.
package vector

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/vecmath"
)

// FileName is the database file created inside the store directory.
const FileName = "vectors.sqlite3"

//go:embed schema.sql
var schema string

// Entry is one vector and the Document it was computed from.
type Entry struct {
	Document domain.Document
	Vector   []float32
}

// CollectionInfo summarizes one collection.
type CollectionInfo struct {
	Name       string    `json:"name"`
	Dimensions int       `json:"dimensions"`
	Count      int       `json:"count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository is the SQLite-backed vector store.
type Repository struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the store under dir.
func Open(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating vector store directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening vector store: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating vector schema: %w", err)
	}
	return &Repository{db: conn, path: path}, nil
}

// Close closes the database.
func (r *Repository) Close() error { return r.db.Close() }

// Path returns the database file path.
func (r *Repository) Path() string { return r.path }

// Ping checks that the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping vector store: %w", err)
	}
	return nil
}

// Add appends entries to collection in one transaction. Nothing is deduplicated:
// adding the same Document twice stores it twice.
func (r *Repository) Add(ctx context.Context, collection string, entries []Entry) error {
	if collection == "" {
		return fmt.Errorf("%w: empty collection name", domain.ErrInvalidInput)
	}
	if len(entries) == 0 {
		return nil
	}
	dims := len(entries[0].Vector)
	if dims == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrInvalidInput)
	}
	for i, e := range entries {
		if len(e.Vector) != dims {
			return fmt.Errorf("%w: entry %d has %d dimensions, batch has %d",
				domain.ErrVectorDimMismatch, i, len(e.Vector), dims)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored int
	err = tx.QueryRowContext(ctx, `SELECT dimensions FROM collections WHERE name = ?`, collection).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO collections (name, dimensions) VALUES (?, ?)`, collection, dims); err != nil {
			return fmt.Errorf("create collection %s: %w", collection, err)
		}
	case err != nil:
		return fmt.Errorf("read collection %s: %w", collection, err)
	case stored != dims:
		return fmt.Errorf("%w: collection %s has %d dimensions, got %d",
			domain.ErrVectorDimMismatch, collection, stored, dims)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (collection, content, metadata, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		meta, err := json.Marshal(e.Document.Metadata())
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, collection, e.Document.Content(), string(meta),
			vecmath.Encode(e.Vector)); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add: %w", err)
	}
	return nil
}

// Search returns up to k Documents most similar to query, best first. Scores are
// cosine similarities clamped to [0,1]; equal scores keep insertion order.
// A missing or empty collection yields domain.ErrIndexUnavailable.
func (r *Repository) Search(ctx context.Context, collection string, query []float32, k int) ([]domain.ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	dims, err := r.dimensions(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s has %d",
			domain.ErrVectorDimMismatch, len(query), collection, dims)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, embedding FROM entries WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id    int64
		score float64
	}
	var hits []hit
	qNorm := vecmath.Norm(query)
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("read entry: %w", err)
		}
		vec, err := vecmath.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", id, err)
		}
		hits = append(hits, hit{id: id, score: clamp(vecmath.Cosine(query, vec, qNorm))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%w: collection %s is empty", domain.ErrIndexUnavailable, collection)
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]domain.ScoredDocument, 0, len(hits))
	for _, h := range hits {
		doc, err := r.entry(ctx, h.id)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ScoredDocument{Document: doc, Score: h.score})
	}
	return out, nil
}

// Documents returns every Document of collection in insertion order.
func (r *Repository) Documents(ctx context.Context, collection string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT content, metadata FROM entries WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

// Count returns the number of entries in collection (0 when it does not exist).
func (r *Repository) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// DeleteCollection removes collection and all of its entries.
func (r *Repository) DeleteCollection(ctx context.Context, collection string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// Collections lists every collection with its entry count.
func (r *Repository) Collections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.name, c.dimensions, CAST(c.created_at AS TEXT), COUNT(e.id)
		FROM collections c LEFT JOIN entries e ON e.collection = c.name
		GROUP BY c.name, c.dimensions, c.created_at
		ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var (
			info    CollectionInfo
			created sql.NullString
		)
		if err := rows.Scan(&info.Name, &info.Dimensions, &created, &info.Count); err != nil {
			return nil, fmt.Errorf("read collection: %w", err)
		}
		if t, err := time.Parse(time.DateTime, created.String); err == nil {
			info.CreatedAt = t
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return out, nil
}

func (r *Repository) dimensions(ctx context.Context, collection string) (int, error) {
	var dims int
	err := r.db.QueryRowContext(ctx, `SELECT dimensions FROM collections WHERE name = ?`, collection).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: collection %s does not exist", domain.ErrIndexUnavailable, collection)
	}
	if err != nil {
		return 0, fmt.Errorf("read collection %s: %w", collection, err)
	}
	return dims, nil
}

func (r *Repository) entry(ctx context.Context, id int64) (domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT content, metadata FROM entries WHERE id = ?`, id)
	return scanDocument(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (domain.Document, error) {
	var content, meta string
	if err := s.Scan(&content, &meta); err != nil {
		return domain.Document{}, fmt.Errorf("read document: %w", err)
	}
	md, err := domain.UnmarshalMetadata([]byte(meta))
	if err != nil {
		return domain.Document{}, err
	}
	return domain.NewDocument(content, md), nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
