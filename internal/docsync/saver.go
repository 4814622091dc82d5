package docsync

import (
	"context"
	"time"

	"quillsync/internal/store"
)

// StoreSaver adapts a store.DocumentStore to the Saver interface.
type StoreSaver struct {
	Docs store.DocumentStore
}

func (s StoreSaver) SaveContent(ctx context.Context, documentID, content string) error {
	return s.Docs.Upsert(ctx, documentID, content, time.Now().UTC())
}
