// Package model holds the shared data types for documents, versions and
// collaborator presence. JSON field names match the payloads the editor UI
// consumes: presence fields are camelCase, persistent rows are snake_case.
package model

import "time"

// Document is the authoritative text blob for one document. The durable
// row is owned by the persistence layer; everything in memory is a cache.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Version is an immutable point-in-time snapshot of document content.
// Only Label may change after creation.
type Version struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	Content       string    `json:"content"`
	VersionNumber int       `json:"version_number"`
	Label         string    `json:"label,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// VersionSummary is a Version without its content, for history listings.
type VersionSummary struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	VersionNumber int       `json:"version_number"`
	Label         string    `json:"label,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Summary strips the content from a Version.
func (v Version) Summary() VersionSummary {
	return VersionSummary{
		ID:            v.ID,
		DocumentID:    v.DocumentID,
		VersionNumber: v.VersionNumber,
		Label:         v.Label,
		CreatedBy:     v.CreatedBy,
		CreatedAt:     v.CreatedAt,
	}
}

// CursorMode distinguishes a free-form pointer position from a text caret.
type CursorMode string

const (
	CursorPointer CursorMode = "pointer"
	CursorTyping  CursorMode = "typing"
)

// Cursor is a collaborator's position on the editing surface. Pointer mode
// uses X/Y as percentages of the surface; typing mode uses Line/Col.
type Cursor struct {
	Mode CursorMode `json:"mode"`
	X    float64    `json:"x,omitempty"`
	Y    float64    `json:"y,omitempty"`
	Line int        `json:"line,omitempty"`
	Col  int        `json:"col,omitempty"`
}

// Collaborator is one actively connected peer on a document channel.
// Never persisted; each client tracks its own view of the peer set.
type Collaborator struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Color       string    `json:"color"`
	Cursor      *Cursor   `json:"cursor"`
	LastSeen    time.Time `json:"lastSeen"`
}
