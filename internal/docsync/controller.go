// Package docsync bridges the local editable buffer to the presence
// broadcaster and to durable persistence. It keeps typing latency off the
// network path (buffer updates are synchronous), debounces outbound
// broadcasts and saves, and guarantees that remote-origin changes are
// never re-broadcast.
package docsync

import (
	"context"
	"sync"
	"time"

	"quillsync/internal/observability"
)

// Origin tags where a content change came from. Remote-origin changes
// update local state but never arm the broadcast debounce; this replaces
// the transient guard-flag idiom and has no next-tick race.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
	OriginAI
)

// Broadcaster is the outbound side of the presence layer.
type Broadcaster interface {
	BroadcastContentChange(content string) error
}

// Saver persists document content durably.
type Saver interface {
	SaveContent(ctx context.Context, documentID, content string) error
}

// Options tunes the controller debounce windows. Zero values take the
// defaults.
type Options struct {
	// BroadcastDebounce is the quiet period after the last keystroke
	// before the content goes out. Default 300ms.
	BroadcastDebounce time.Duration
	// SaveDebounce is the quiet period before a durable save. Default 2s.
	SaveDebounce time.Duration
	// SaveTimeout bounds each persistence write. Default 10s.
	SaveTimeout time.Duration
	Logger      observability.Logger
}

func (o *Options) withDefaults() {
	if o.BroadcastDebounce <= 0 {
		o.BroadcastDebounce = 300 * time.Millisecond
	}
	if o.SaveDebounce <= 0 {
		o.SaveDebounce = 2 * time.Second
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 10 * time.Second
	}
	o.Logger = observability.OrDefault(o.Logger)
}

// Controller synchronizes one open document.
type Controller struct {
	documentID  string
	broadcaster Broadcaster
	saver       Saver
	opts        Options
	logger      observability.Logger

	mu              sync.Mutex
	content         string
	pendingBcast    string
	lastSaved       string
	saving          bool
	saveErr         error
	broadcastTimer  *time.Timer
	saveTimer       *time.Timer
	onContentUpdate func(content string)
	closed          bool
}

// New builds a controller seeded with the document's current content, so
// the first save is skipped until something actually changes.
func New(documentID, initialContent string, b Broadcaster, s Saver, opts Options) *Controller {
	opts.withDefaults()
	return &Controller{
		documentID:  documentID,
		broadcaster: b,
		saver:       s,
		opts:        opts,
		logger:      opts.Logger,
		content:     initialContent,
		lastSaved:   initialContent,
	}
}

// OnContentUpdate registers the callback fired on every local-or-remote
// content change, after the buffer has been updated.
func (c *Controller) OnContentUpdate(fn func(content string)) {
	c.mu.Lock()
	c.onContentUpdate = fn
	c.mu.Unlock()
}

// SetContent records a local edit: the buffer updates immediately, the
// broadcast debounce re-arms, and the save debounce re-arms.
func (c *Controller) SetContent(content string) {
	c.apply(content, OriginLocal)
}

// ApplyRemote applies a content change received from a peer. The buffer
// and save path update like a local edit would, but no broadcast is armed.
// Wire this to the broadcaster's content-change callback.
func (c *Controller) ApplyRemote(content, fromUserID string) {
	c.logger.Debug("applying remote content", map[string]interface{}{
		"documentId": c.documentID,
		"fromUserId": fromUserID,
	})
	c.apply(content, OriginRemote)
}

// ApplyAI applies a whole-document replacement from the AI collaborator:
// persisted like a local edit, but broadcast immediately instead of
// waiting out the keystroke debounce.
func (c *Controller) ApplyAI(content string) {
	c.apply(content, OriginAI)
}

func (c *Controller) apply(content string, origin Origin) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.content = content
	switch origin {
	case OriginLocal:
		// The debounce captures the content as of the last keystroke; a
		// remote change arriving before the timer fires must not be
		// re-broadcast in its place.
		c.pendingBcast = content
		c.armBroadcastLocked()
		c.armSaveLocked()
	case OriginAI:
		// The immediate send below supersedes any debounce armed by a
		// keystroke; left alone it would later fire with the pre-AI
		// draft and regress every peer.
		c.pendingBcast = content
		if c.broadcastTimer != nil {
			c.broadcastTimer.Stop()
		}
		c.armSaveLocked()
	case OriginRemote:
		// Remote changes are already durable on the sender's side; arm
		// the save anyway so a peer going offline does not strand the
		// latest content, but never the broadcast.
		c.armSaveLocked()
	}
	fn := c.onContentUpdate
	c.mu.Unlock()

	if origin == OriginAI {
		if err := c.broadcaster.BroadcastContentChange(content); err != nil {
			c.logger.Warn("ai broadcast failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if fn != nil {
		fn(content)
	}
}

func (c *Controller) armBroadcastLocked() {
	if c.broadcastTimer == nil {
		c.broadcastTimer = time.AfterFunc(c.opts.BroadcastDebounce, c.fireBroadcast)
		return
	}
	c.broadcastTimer.Reset(c.opts.BroadcastDebounce)
}

func (c *Controller) fireBroadcast() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	content := c.pendingBcast
	c.mu.Unlock()

	if err := c.broadcaster.BroadcastContentChange(content); err != nil {
		c.logger.Warn("broadcast failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Controller) armSaveLocked() {
	if c.saveTimer == nil {
		c.saveTimer = time.AfterFunc(c.opts.SaveDebounce, c.fireSave)
		return
	}
	c.saveTimer.Reset(c.opts.SaveDebounce)
}

func (c *Controller) fireSave() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SaveTimeout)
	defer cancel()
	_ = c.save(ctx)
}

// save persists the current content unless it matches the last successful
// save. The local buffer is never rolled back on failure; the error is
// surfaced and the next debounce cycle (or explicit Save) retries.
func (c *Controller) save(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	content := c.content
	if content == c.lastSaved {
		c.mu.Unlock()
		return nil
	}
	c.saving = true
	c.mu.Unlock()

	err := c.saver.SaveContent(ctx, c.documentID, content)

	c.mu.Lock()
	c.saving = false
	if err != nil {
		c.saveErr = err
		c.mu.Unlock()
		c.logger.Error("save failed", map[string]interface{}{
			"documentId": c.documentID,
			"error":      err.Error(),
		})
		return err
	}
	c.lastSaved = content
	c.saveErr = nil
	c.mu.Unlock()
	return nil
}

// Save persists immediately, bypassing the debounce. Used for explicit
// manual saves.
func (c *Controller) Save(ctx context.Context) error {
	return c.save(ctx)
}

// Content returns the current buffer.
func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// IsSaving reports whether a persistence write is in flight.
func (c *Controller) IsSaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving
}

// SaveError returns the error of the last failed save, or nil once a
// later save succeeds.
func (c *Controller) SaveError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveErr
}

// Close stops both debounce timers. Pending work is dropped; call Save
// first to flush. The controller cannot be reused after Close.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.broadcastTimer != nil {
		c.broadcastTimer.Stop()
	}
	if c.saveTimer != nil {
		c.saveTimer.Stop()
	}
}
