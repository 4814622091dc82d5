// Package session composes the presence broadcaster, the content
// synchronization controller and the auto-snapshot scheduler into the
// surface an editor consumes for one open document.
package session

import (
	"context"
	"fmt"

	"quillsync/internal/docsync"
	"quillsync/internal/model"
	"quillsync/internal/observability"
	"quillsync/internal/presence"
	"quillsync/internal/store"
	"quillsync/internal/transport"
	"quillsync/internal/version"
)

// Options bundles the tuning knobs of the composed components.
type Options struct {
	Presence presence.Options
	Sync     docsync.Options
	Snapshot version.SchedulerOptions
	Logger   observability.Logger
}

// Session is one user's live attachment to a document.
type Session struct {
	documentID  string
	broadcaster *presence.Broadcaster
	controller  *docsync.Controller
	scheduler   *version.Scheduler
	gateway     *version.Gateway
}

// Open loads (or bootstraps) the document, joins its channel and starts
// the auto-snapshot loop.
func Open(ctx context.Context, documentID, userID, displayName string,
	docs store.DocumentStore, gateway *version.Gateway, tr transport.Transport,
	opts Options) (*Session, error) {

	doc, err := docs.Ensure(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	broadcaster := presence.New(tr, opts.Presence)
	controller := docsync.New(documentID, doc.Content, broadcaster, docsync.StoreSaver{Docs: docs}, opts.Sync)
	broadcaster.OnContentChange(controller.ApplyRemote)

	if err := broadcaster.Connect(ctx, documentID, userID, displayName); err != nil {
		controller.Close()
		return nil, fmt.Errorf("join channel: %w", err)
	}

	scheduler := version.NewScheduler(gateway, documentID, userID, controller.Content, opts.Snapshot)
	scheduler.Start()

	return &Session{
		documentID:  documentID,
		broadcaster: broadcaster,
		controller:  controller,
		scheduler:   scheduler,
		gateway:     gateway,
	}, nil
}

// SetContent records a local edit.
func (s *Session) SetContent(content string) { s.controller.SetContent(content) }

// ApplyAI applies a whole-document replacement from the AI collaborator.
func (s *Session) ApplyAI(content string) { s.controller.ApplyAI(content) }

// OnContentUpdate registers the callback fired on every local-or-remote
// content change.
func (s *Session) OnContentUpdate(fn func(content string)) { s.controller.OnContentUpdate(fn) }

// Content returns the current buffer.
func (s *Session) Content() string { return s.controller.Content() }

// Collaborators returns the live peer set.
func (s *Session) Collaborators() []model.Collaborator { return s.broadcaster.Collaborators() }

// TypingUsers returns ids of peers currently typing.
func (s *Session) TypingUsers() []string { return s.broadcaster.TypingUsers() }

// IsConnected reports whether the channel subscription is live.
func (s *Session) IsConnected() bool { return s.broadcaster.IsConnected() }

// UpdateCursor announces a pointer position.
func (s *Session) UpdateCursor(x, y float64) error { return s.broadcaster.UpdateCursor(x, y) }

// UpdateTypingCursor announces the caret position.
func (s *Session) UpdateTypingCursor(line, col int) error {
	return s.broadcaster.UpdateTypingCursor(line, col)
}

// IsSaving reports whether a persistence write is in flight.
func (s *Session) IsSaving() bool { return s.controller.IsSaving() }

// SaveError returns the last save failure, if any.
func (s *Session) SaveError() error { return s.controller.SaveError() }

// Save persists immediately, bypassing the debounce.
func (s *Session) Save(ctx context.Context) error { return s.controller.Save(ctx) }

// SaveNamedVersion snapshots the current content with a label.
func (s *Session) SaveNamedVersion(ctx context.Context, label string) (*model.Version, error) {
	return s.scheduler.SaveNamedVersion(ctx, label)
}

// Versions returns the snapshot gateway for history browsing and restore.
func (s *Session) Versions() *version.Gateway { return s.gateway }

// Close flushes a pending save, then tears down every timer and the
// channel subscription.
func (s *Session) Close(ctx context.Context) error {
	err := s.controller.Save(ctx)
	s.scheduler.Stop()
	s.broadcaster.Disconnect()
	s.controller.Close()
	return err
}
