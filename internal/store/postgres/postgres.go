// Package postgres implements the store interfaces on a pgx connection
// pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quillsync/internal/model"
	"quillsync/internal/store"
)

// Store owns the connection pool and hands out the document and version
// stores backed by it.
type Store struct {
	pool      *pgxpool.Pool
	documents *DocumentStore
	versions  *VersionStore
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:      pool,
		documents: &DocumentStore{pool: pool},
		versions:  &VersionStore{pool: pool},
	}
}

// Connect creates a connection pool for the given DSN and verifies it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(pool), nil
}

// Documents returns the document store.
func (s *Store) Documents() *DocumentStore { return s.documents }

// Versions returns the version store.
func (s *Store) Versions() *VersionStore { return s.versions }

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS document_versions (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL,
	content        TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	label          TEXT NOT NULL DEFAULT '',
	created_by     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS document_versions_doc_num
	ON document_versions (document_id, version_number DESC);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DocumentStore implements store.DocumentStore on PostgreSQL.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func (s *DocumentStore) Get(ctx context.Context, documentID string) (model.Document, error) {
	var doc model.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, content, updated_at FROM documents WHERE id = $1`,
		documentID,
	).Scan(&doc.ID, &doc.Content, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, store.ErrNotFound
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *DocumentStore) Upsert(ctx context.Context, documentID, content string, updatedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, content, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		documentID, content, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *DocumentStore) Ensure(ctx context.Context, documentID string) (model.Document, error) {
	doc, err := s.Get(ctx, documentID)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Document{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, content, updated_at) VALUES ($1, '', $2)
		 ON CONFLICT (id) DO NOTHING`,
		documentID, time.Now().UTC(),
	)
	if err != nil {
		return model.Document{}, fmt.Errorf("create document: %w", err)
	}
	return s.Get(ctx, documentID)
}

// VersionStore implements store.VersionStore on PostgreSQL. Version
// numbers are assigned by the gateway via read-then-insert; a concurrent
// writer can produce a duplicate version_number, which the append-only
// history tolerates. A deployment needing strict numbering should move the
// assignment into a database sequence.
type VersionStore struct {
	pool *pgxpool.Pool
}

func (s *VersionStore) Insert(ctx context.Context, v model.Version) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_versions (id, document_id, content, version_number, label, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.ID, v.DocumentID, v.Content, v.VersionNumber, v.Label, v.CreatedBy, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *VersionStore) Latest(ctx context.Context, documentID string) (model.Version, error) {
	var v model.Version
	err := s.pool.QueryRow(ctx,
		`SELECT id, document_id, content, version_number, label, created_by, created_at
		 FROM document_versions WHERE document_id = $1
		 ORDER BY version_number DESC LIMIT 1`,
		documentID,
	).Scan(&v.ID, &v.DocumentID, &v.Content, &v.VersionNumber, &v.Label, &v.CreatedBy, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Version{}, store.ErrNotFound
	}
	if err != nil {
		return model.Version{}, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}

func (s *VersionStore) List(ctx context.Context, documentID string, offset, limit int) ([]model.VersionSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, version_number, label, created_by, created_at
		 FROM document_versions WHERE document_id = $1
		 ORDER BY version_number DESC OFFSET $2 LIMIT $3`,
		documentID, offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []model.VersionSummary
	for rows.Next() {
		var v model.VersionSummary
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.Label, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return out, nil
}

func (s *VersionStore) Get(ctx context.Context, versionID string) (model.Version, error) {
	var v model.Version
	err := s.pool.QueryRow(ctx,
		`SELECT id, document_id, content, version_number, label, created_by, created_at
		 FROM document_versions WHERE id = $1`,
		versionID,
	).Scan(&v.ID, &v.DocumentID, &v.Content, &v.VersionNumber, &v.Label, &v.CreatedBy, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Version{}, store.ErrNotFound
	}
	if err != nil {
		return model.Version{}, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (s *VersionStore) UpdateLabel(ctx context.Context, versionID, label string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE document_versions SET label = $2 WHERE id = $1`,
		versionID, label,
	)
	if err != nil {
		return fmt.Errorf("update label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
