// Package version implements the snapshot gateway over the version store
// and the auto-snapshot scheduler that feeds it.
package version

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"quillsync/internal/model"
	"quillsync/internal/observability"
	"quillsync/internal/store"
)

// contentCacheSize bounds the immutable version-content cache. The diff
// viewer re-reads the same version pairs while a user browses history.
const contentCacheSize = 128

// Page is one page of version summaries, newest first.
type Page struct {
	Versions []model.VersionSummary `json:"versions"`
	HasMore  bool                   `json:"hasMore"`
}

// Gateway is the append-only snapshot log with change-skip dedup. It owns
// version-number assignment (last known max + 1) and the restore flow.
type Gateway struct {
	docs     store.DocumentStore
	versions store.VersionStore
	cache    *lru.Cache[string, model.Version]
	logger   observability.Logger
}

// NewGateway builds a gateway over the given stores.
func NewGateway(docs store.DocumentStore, versions store.VersionStore, logger observability.Logger) *Gateway {
	cache, _ := lru.New[string, model.Version](contentCacheSize)
	return &Gateway{
		docs:     docs,
		versions: versions,
		cache:    cache,
		logger:   observability.OrDefault(logger),
	}
}

// CreateSnapshot appends a new version of the document unless its content
// is byte-identical to the latest version, in which case it returns
// (nil, nil) and the version number does not advance.
func (g *Gateway) CreateSnapshot(ctx context.Context, documentID, content, createdBy, label string) (*model.Version, error) {
	next := 1
	latest, err := g.versions.Latest(ctx, documentID)
	switch {
	case err == nil:
		if latest.Content == content {
			return nil, nil
		}
		next = latest.VersionNumber + 1
	case errors.Is(err, store.ErrNotFound):
		// First version for this document.
	default:
		return nil, fmt.Errorf("lookup latest version: %w", err)
	}

	v := model.Version{
		ID:            uuid.NewString(),
		DocumentID:    documentID,
		Content:       content,
		VersionNumber: next,
		Label:         label,
		CreatedBy:     createdBy,
		CreatedAt:     time.Now().UTC(),
	}
	if err := g.versions.Insert(ctx, v); err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}
	g.logger.Debug("snapshot created", map[string]interface{}{
		"documentId": documentID,
		"version":    next,
		"label":      label,
	})
	return &v, nil
}

// GetVersionList returns one page of version metadata (content excluded),
// ordered newest first. It fetches pageSize+1 rows so HasMore needs no
// second round trip.
func (g *Gateway) GetVersionList(ctx context.Context, documentID string, page, pageSize int) (Page, error) {
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	rows, err := g.versions.List(ctx, documentID, page*pageSize, pageSize+1)
	if err != nil {
		return Page{}, fmt.Errorf("list versions: %w", err)
	}
	hasMore := len(rows) > pageSize
	if hasMore {
		rows = rows[:pageSize]
	}
	return Page{Versions: rows, HasMore: hasMore}, nil
}

// GetVersionContent returns the full version record, serving immutable
// content from the cache when possible. Returns store.ErrNotFound for an
// unknown id.
func (g *Gateway) GetVersionContent(ctx context.Context, versionID string) (model.Version, error) {
	if v, ok := g.cache.Get(versionID); ok {
		return v, nil
	}
	v, err := g.versions.Get(ctx, versionID)
	if err != nil {
		return model.Version{}, err
	}
	g.cache.Add(versionID, v)
	return v, nil
}

// RestoreVersion overwrites the live document with the target version's
// content and appends a "Restored from vN" snapshot, so restoring never
// deletes history. Returns the restored content.
func (g *Gateway) RestoreVersion(ctx context.Context, documentID, versionID, userID string) (string, error) {
	v, err := g.GetVersionContent(ctx, versionID)
	if err != nil {
		return "", err
	}
	if v.DocumentID != documentID {
		return "", store.ErrNotFound
	}
	if err := g.docs.Upsert(ctx, documentID, v.Content, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("overwrite document: %w", err)
	}
	label := fmt.Sprintf("Restored from v%d", v.VersionNumber)
	if _, err := g.CreateSnapshot(ctx, documentID, v.Content, userID, label); err != nil {
		return "", fmt.Errorf("record restore snapshot: %w", err)
	}
	g.logger.Info("version restored", map[string]interface{}{
		"documentId": documentID,
		"versionId":  versionID,
		"version":    v.VersionNumber,
	})
	return v.Content, nil
}

// UpdateLabel renames an existing version. The label is the only mutable
// field of a version.
func (g *Gateway) UpdateLabel(ctx context.Context, versionID, label string) error {
	if err := g.versions.UpdateLabel(ctx, versionID, label); err != nil {
		return err
	}
	// Drop any cached copy carrying the old label.
	g.cache.Remove(versionID)
	return nil
}
