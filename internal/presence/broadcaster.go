// Package presence maintains the ephemeral set of collaborators on a
// document channel: who is connected, where their cursor is, and who is
// typing. There is no server-side registry; every client tracks every
// other client and evicts peers it has not heard from, so the peer set is
// eventually consistent gossip with TTL eviction.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"quillsync/internal/model"
	"quillsync/internal/observability"
	"quillsync/internal/transport"
)

// ContentChangeFunc receives remote content updates with the sender's id.
type ContentChangeFunc func(content, fromUserID string)

// Options tunes the presence timings. Zero values take the defaults.
type Options struct {
	// HeartbeatInterval between presence re-announcements. Default 3s.
	HeartbeatInterval time.Duration
	// SweepInterval between staleness checks. Default 5s.
	SweepInterval time.Duration
	// PeerTimeout after which a silent peer is evicted. Default 10s.
	PeerTimeout time.Duration
	// TypingExpiry after which a peer stops counting as typing. Default 2s.
	TypingExpiry time.Duration
	// CursorInterval caps outbound cursor updates. Default 100ms.
	CursorInterval time.Duration
	Logger         observability.Logger
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 3 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Second
	}
	if o.PeerTimeout <= 0 {
		o.PeerTimeout = 10 * time.Second
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 2 * time.Second
	}
	if o.CursorInterval <= 0 {
		o.CursorInterval = 100 * time.Millisecond
	}
	o.Logger = observability.OrDefault(o.Logger)
}

// Broadcaster joins a per-document channel and maintains the local view of
// the peer set. All inbound events from the broadcaster's own user id are
// discarded, whether or not the transport echoes them.
type Broadcaster struct {
	transport transport.Transport
	opts      Options
	logger    observability.Logger

	pointerLimit *rate.Limiter
	typingLimit  *rate.Limiter

	mu              sync.Mutex
	onContentChange ContentChangeFunc
	sub             transport.Subscription
	self            model.Collaborator
	peers           map[string]*model.Collaborator
	typing          map[string]struct{}
	typingTimers    map[string]*time.Timer
	connected       bool
	cancel          context.CancelFunc
	done            chan struct{}
}

// New builds a disconnected Broadcaster.
func New(t transport.Transport, opts Options) *Broadcaster {
	opts.withDefaults()
	return &Broadcaster{
		transport:    t,
		opts:         opts,
		logger:       opts.Logger,
		pointerLimit: rate.NewLimiter(rate.Every(opts.CursorInterval), 1),
		typingLimit:  rate.NewLimiter(rate.Every(opts.CursorInterval), 1),
		peers:        make(map[string]*model.Collaborator),
		typing:       make(map[string]struct{}),
		typingTimers: make(map[string]*time.Timer),
	}
}

// OnContentChange registers the callback invoked for every remote
// content_change event. Must be set before Connect.
func (b *Broadcaster) OnContentChange(fn ContentChangeFunc) {
	b.mu.Lock()
	b.onContentChange = fn
	b.mu.Unlock()
}

// Connect subscribes to the document channel, announces the join and
// starts the heartbeat and staleness-sweep loops. An empty displayName is
// replaced with an anonymized placeholder. Calling Connect while connected
// is a no-op; calling it again after a failure or Disconnect is safe.
func (b *Broadcaster) Connect(ctx context.Context, documentID, userID, displayName string) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	if displayName == "" {
		displayName = "Anonymous"
	}
	b.mu.Unlock()

	sub, err := b.transport.Subscribe(ctx, ChannelName(documentID))
	if err != nil {
		b.logger.Error("channel subscribe failed", map[string]interface{}{
			"documentId": documentID,
			"error":      err.Error(),
		})
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.sub = sub
	b.self = model.Collaborator{
		UserID:      userID,
		DisplayName: displayName,
		Color:       ColorFor(userID),
	}
	b.connected = true
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	b.send(EventUserJoin, "", nil)
	go b.run(runCtx, sub)

	b.logger.Info("joined document channel", map[string]interface{}{
		"documentId": documentID,
		"userId":     userID,
	})
	return nil
}

// run owns the heartbeat and sweep timers and consumes inbound events
// until the context is cancelled or the subscription closes.
func (b *Broadcaster) run(ctx context.Context, sub transport.Subscription) {
	defer close(b.done)

	heartbeat := time.NewTicker(b.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(b.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Events():
			if !ok {
				b.markDisconnected()
				return
			}
			b.handle(payload)
		case <-heartbeat.C:
			b.send(EventHeartbeat, "", nil)
		case <-sweep.C:
			b.sweep()
		}
	}
}

func (b *Broadcaster) handle(payload []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		b.logger.Warn("dropping malformed event", map[string]interface{}{"error": err.Error()})
		return
	}

	b.mu.Lock()
	if env.UserID == "" || env.UserID == b.self.UserID {
		b.mu.Unlock()
		return
	}

	var notify ContentChangeFunc
	switch env.Event {
	case EventUserJoin, EventHeartbeat:
		b.upsertPeerLocked(env, false)
	case EventCursorUpdate:
		b.upsertPeerLocked(env, true)
	case EventContentChange:
		b.upsertPeerLocked(env, false)
		b.markTypingLocked(env.UserID)
		notify = b.onContentChange
	case EventUserLeave:
		b.removePeerLocked(env.UserID)
	default:
		b.logger.Debug("ignoring unknown event", map[string]interface{}{"event": env.Event})
	}
	b.mu.Unlock()

	// Invoked outside the lock: the callback typically re-enters the sync
	// controller, which may read presence state.
	if notify != nil {
		notify(env.Content, env.UserID)
	}
}

// upsertPeerLocked refreshes a peer's identity and lastSeen. The known
// cursor is preserved unless the event carries a new one.
func (b *Broadcaster) upsertPeerLocked(env Envelope, setCursor bool) {
	peer, ok := b.peers[env.UserID]
	if !ok {
		peer = &model.Collaborator{UserID: env.UserID}
		b.peers[env.UserID] = peer
	}
	if env.DisplayName != "" {
		peer.DisplayName = env.DisplayName
	}
	if peer.DisplayName == "" {
		peer.DisplayName = "Anonymous"
	}
	if env.Color != "" {
		peer.Color = env.Color
	} else if peer.Color == "" {
		peer.Color = ColorFor(env.UserID)
	}
	if setCursor {
		peer.Cursor = env.Cursor
	}
	peer.LastSeen = time.Now()
}

func (b *Broadcaster) removePeerLocked(userID string) {
	delete(b.peers, userID)
	delete(b.typing, userID)
	if t, ok := b.typingTimers[userID]; ok {
		t.Stop()
		delete(b.typingTimers, userID)
	}
}

// markTypingLocked flags the peer as typing and (re)arms its expiry timer.
func (b *Broadcaster) markTypingLocked(userID string) {
	b.typing[userID] = struct{}{}
	if t, ok := b.typingTimers[userID]; ok {
		t.Reset(b.opts.TypingExpiry)
		return
	}
	b.typingTimers[userID] = time.AfterFunc(b.opts.TypingExpiry, func() {
		b.mu.Lock()
		delete(b.typing, userID)
		delete(b.typingTimers, userID)
		b.mu.Unlock()
	})
}

// sweep evicts peers whose lastSeen exceeds the timeout window.
func (b *Broadcaster) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-b.opts.PeerTimeout)
	for id, peer := range b.peers {
		if peer.LastSeen.Before(cutoff) {
			b.logger.Debug("evicting stale peer", map[string]interface{}{"userId": id})
			b.removePeerLocked(id)
		}
	}
}

// BroadcastContentChange sends the full document content to the channel.
// A no-op when not connected; a failed send is logged, not retried.
func (b *Broadcaster) BroadcastContentChange(content string) error {
	return b.send(EventContentChange, content, nil)
}

// UpdateCursor announces a pointer position as percentages of the editing
// surface. Throttled; excess updates are silently discarded.
func (b *Broadcaster) UpdateCursor(x, y float64) error {
	if !b.pointerLimit.Allow() {
		return nil
	}
	return b.send(EventCursorUpdate, "", &model.Cursor{Mode: model.CursorPointer, X: x, Y: y})
}

// UpdateTypingCursor announces the caret position while typing. Throttled
// like UpdateCursor.
func (b *Broadcaster) UpdateTypingCursor(line, col int) error {
	if !b.typingLimit.Allow() {
		return nil
	}
	return b.send(EventCursorUpdate, "", &model.Cursor{Mode: model.CursorTyping, Line: line, Col: col})
}

func (b *Broadcaster) send(event, content string, cursor *model.Cursor) error {
	b.mu.Lock()
	if !b.connected || b.sub == nil {
		b.mu.Unlock()
		return nil
	}
	sub := b.sub
	env := Envelope{
		Event:       event,
		UserID:      b.self.UserID,
		DisplayName: b.self.DisplayName,
		Color:       b.self.Color,
		Timestamp:   nowMillis(),
		Content:     content,
		Cursor:      cursor,
	}
	b.mu.Unlock()

	payload, err := env.encode()
	if err != nil {
		return err
	}
	if err := sub.Send(context.Background(), payload); err != nil {
		b.logger.Warn("broadcast send failed", map[string]interface{}{
			"event": event,
			"error": err.Error(),
		})
		return err
	}
	return nil
}

// Collaborators returns the current peer set, sorted by user id.
func (b *Broadcaster) Collaborators() []model.Collaborator {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Collaborator, 0, len(b.peers))
	for _, p := range b.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// TypingUsers returns the ids of peers currently typing, sorted.
func (b *Broadcaster) TypingUsers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.typing))
	for id := range b.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsConnected reports whether the channel subscription is live.
func (b *Broadcaster) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// MyColor returns the color announced for the local user.
func (b *Broadcaster) MyColor() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.self.Color
}

func (b *Broadcaster) markDisconnected() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

// Disconnect announces the leave, stops every timer, clears the peer map
// and detaches from the channel. Safe to call when not connected.
func (b *Broadcaster) Disconnect() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	// Leave must go out before the subscription closes.
	_ = b.send(EventUserLeave, "", nil)

	b.mu.Lock()
	sub := b.sub
	cancel := b.cancel
	done := b.done
	userID := b.self.UserID
	b.connected = false
	b.sub = nil
	b.peers = make(map[string]*model.Collaborator)
	b.typing = make(map[string]struct{})
	for _, t := range b.typingTimers {
		t.Stop()
	}
	b.typingTimers = make(map[string]*time.Timer)
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if sub != nil {
		_ = sub.Close()
	}
	b.logger.Info("left document channel", map[string]interface{}{
		"userId": userID,
	})
}
