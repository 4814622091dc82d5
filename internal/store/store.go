// Package store defines the persistence interfaces the sync core depends
// on. Two implementations exist: postgres for the network server and bolt
// for the local agent.
package store

import (
	"context"
	"errors"
	"time"

	"quillsync/internal/model"
)

// ErrNotFound is returned when a document or version does not exist.
var ErrNotFound = errors.New("not found")

// DocumentStore persists the live content of documents.
type DocumentStore interface {
	// Get returns the document row, or ErrNotFound.
	Get(ctx context.Context, documentID string) (model.Document, error)
	// Upsert atomically replaces the document's content and updated_at,
	// creating the row if it does not exist.
	Upsert(ctx context.Context, documentID, content string, updatedAt time.Time) error
	// Ensure returns the document, creating an empty one if absent.
	Ensure(ctx context.Context, documentID string) (model.Document, error)
}

// VersionStore persists the append-only snapshot log.
type VersionStore interface {
	// Insert appends a new version record.
	Insert(ctx context.Context, v model.Version) error
	// Latest returns the highest-numbered version for the document, or
	// ErrNotFound when the document has no versions yet.
	Latest(ctx context.Context, documentID string) (model.Version, error)
	// List returns version summaries ordered by version_number descending,
	// skipping offset rows and returning at most limit rows.
	List(ctx context.Context, documentID string, offset, limit int) ([]model.VersionSummary, error)
	// Get returns the full version record by id, or ErrNotFound.
	Get(ctx context.Context, versionID string) (model.Version, error)
	// UpdateLabel changes the label of an existing version, or ErrNotFound.
	UpdateLabel(ctx context.Context, versionID, label string) error
}
