// Package bolt implements the store interfaces on an embedded bbolt
// database, used by the local LAN agent and by tests that need real
// persistence without a database server.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"quillsync/internal/model"
	"quillsync/internal/store"
)

var (
	bucketDocuments    = []byte("documents")
	bucketVersions     = []byte("versions")
	bucketVersionsByID = []byte("versions_by_id")
)

// Store owns the bbolt database and hands out the document and version
// stores backed by it.
type Store struct {
	db        *bbolt.DB
	documents *DocumentStore
	versions  *VersionStore
}

// Open opens (or creates) the database file and its buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDocuments, bucketVersions, bucketVersionsByID} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{
		db:        db,
		documents: &DocumentStore{db: db},
		versions:  &VersionStore{db: db},
	}, nil
}

// Documents returns the document store.
func (s *Store) Documents() *DocumentStore { return s.documents }

// Versions returns the version store.
func (s *Store) Versions() *VersionStore { return s.versions }

// Close closes the database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// DocumentStore implements store.DocumentStore on bbolt.
type DocumentStore struct {
	db *bbolt.DB
}

func (s *DocumentStore) Get(_ context.Context, documentID string) (model.Document, error) {
	var doc model.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketDocuments).Get([]byte(documentID))
		if raw == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(raw, &doc)
	})
	if err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

func (s *DocumentStore) Upsert(_ context.Context, documentID, content string, updatedAt time.Time) error {
	doc := model.Document{ID: documentID, Content: content, UpdatedAt: updatedAt}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDocuments).Put([]byte(documentID), raw)
	})
}

func (s *DocumentStore) Ensure(ctx context.Context, documentID string) (model.Document, error) {
	var doc model.Document
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocuments)
		if raw := b.Get([]byte(documentID)); raw != nil {
			return json.Unmarshal(raw, &doc)
		}
		doc = model.Document{ID: documentID, UpdatedAt: time.Now().UTC()}
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(documentID), raw)
	})
	if err != nil {
		return model.Document{}, err
	}
	return doc, nil
}

// VersionStore implements store.VersionStore on bbolt. Versions live in a
// per-document sub-bucket keyed by zero-padded version number, so a cursor
// walking backwards yields newest-first order; a flat index bucket maps
// version ids to their sub-bucket keys. Inserts run in a single update
// transaction, which serializes version-number assignment races away on
// this backend.
type VersionStore struct {
	db *bbolt.DB
}

func versionKey(n int) []byte {
	return []byte(fmt.Sprintf("%010d", n))
}

func (s *VersionStore) Insert(_ context.Context, v model.Version) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal version: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		docBucket, err := tx.Bucket(bucketVersions).CreateBucketIfNotExists([]byte(v.DocumentID))
		if err != nil {
			return err
		}
		key := versionKey(v.VersionNumber)
		if err := docBucket.Put(key, raw); err != nil {
			return err
		}
		ref := append([]byte(v.DocumentID+"/"), key...)
		return tx.Bucket(bucketVersionsByID).Put([]byte(v.ID), ref)
	})
}

func (s *VersionStore) Latest(_ context.Context, documentID string) (model.Version, error) {
	var v model.Version
	err := s.db.View(func(tx *bbolt.Tx) error {
		docBucket := tx.Bucket(bucketVersions).Bucket([]byte(documentID))
		if docBucket == nil {
			return store.ErrNotFound
		}
		_, raw := docBucket.Cursor().Last()
		if raw == nil {
			return store.ErrNotFound
		}
		return json.Unmarshal(raw, &v)
	})
	if err != nil {
		return model.Version{}, err
	}
	return v, nil
}

func (s *VersionStore) List(_ context.Context, documentID string, offset, limit int) ([]model.VersionSummary, error) {
	var out []model.VersionSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		docBucket := tx.Bucket(bucketVersions).Bucket([]byte(documentID))
		if docBucket == nil {
			return nil
		}
		c := docBucket.Cursor()
		skipped := 0
		for _, raw := c.Last(); raw != nil && len(out) < limit; _, raw = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			var v model.Version
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			out = append(out, v.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *VersionStore) Get(_ context.Context, versionID string) (model.Version, error) {
	var v model.Version
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw, err := s.lookup(tx, versionID)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &v)
	})
	if err != nil {
		return model.Version{}, err
	}
	return v, nil
}

func (s *VersionStore) UpdateLabel(_ context.Context, versionID, label string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		raw, err := s.lookup(tx, versionID)
		if err != nil {
			return err
		}
		var v model.Version
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		v.Label = label
		updated, err := json.Marshal(v)
		if err != nil {
			return err
		}
		docBucket := tx.Bucket(bucketVersions).Bucket([]byte(v.DocumentID))
		if docBucket == nil {
			return store.ErrNotFound
		}
		return docBucket.Put(versionKey(v.VersionNumber), updated)
	})
}

// lookup resolves a version id to its raw record via the index bucket.
func (s *VersionStore) lookup(tx *bbolt.Tx, versionID string) ([]byte, error) {
	ref := tx.Bucket(bucketVersionsByID).Get([]byte(versionID))
	if ref == nil {
		return nil, store.ErrNotFound
	}
	sep := bytes.LastIndexByte(ref, '/')
	if sep < 0 {
		return nil, fmt.Errorf("corrupt version index entry for %s", versionID)
	}
	docBucket := tx.Bucket(bucketVersions).Bucket(ref[:sep])
	if docBucket == nil {
		return nil, store.ErrNotFound
	}
	raw := docBucket.Get(ref[sep+1:])
	if raw == nil {
		return nil, store.ErrNotFound
	}
	return raw, nil
}
