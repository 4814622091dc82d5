package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quillsync/internal/transport"
)

// fastOptions shrinks every interval so lifecycle tests run in
// milliseconds instead of the production seconds.
func fastOptions() Options {
	return Options{
		HeartbeatInterval: 20 * time.Millisecond,
		SweepInterval:     25 * time.Millisecond,
		PeerTimeout:       100 * time.Millisecond,
		TypingExpiry:      80 * time.Millisecond,
		CursorInterval:    time.Millisecond,
	}
}

// contentRecorder captures remote content-change callbacks.
type contentRecorder struct {
	mu      sync.Mutex
	content string
	from    string
	calls   int
}

func (r *contentRecorder) fn(content, from string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content = content
	r.from = from
	r.calls++
}

func (r *contentRecorder) snapshot() (string, string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content, r.from, r.calls
}

func connectPeer(t *testing.T, hub *transport.Hub, docID, userID, name string) *Broadcaster {
	t.Helper()
	b := New(hub, fastOptions())
	require.NoError(t, b.Connect(context.Background(), docID, userID, name))
	t.Cleanup(b.Disconnect)
	return b
}

func hasCollaborator(b *Broadcaster, userID string) bool {
	for _, c := range b.Collaborators() {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func TestJoinAndHeartbeatVisibility(t *testing.T) {
	hub := transport.NewHub(nil)
	a := connectPeer(t, hub, "doc-1", "user-a", "Alice")
	b := connectPeer(t, hub, "doc-1", "user-b", "Bob")

	assert.True(t, a.IsConnected())
	assert.True(t, b.IsConnected())

	// A sees B via B's join; B sees A via A's heartbeat.
	require.Eventually(t, func() bool {
		return hasCollaborator(a, "user-b") && hasCollaborator(b, "user-a")
	}, time.Second, 5*time.Millisecond)

	for _, c := range a.Collaborators() {
		if c.UserID == "user-b" {
			assert.Equal(t, "Bob", c.DisplayName)
			assert.Equal(t, ColorFor("user-b"), c.Color)
			assert.Nil(t, c.Cursor)
		}
	}
}

func TestContentChangeReachesPeerAndMarksTyping(t *testing.T) {
	hub := transport.NewHub(nil)
	a := connectPeer(t, hub, "doc-1", "user-a", "Alice")
	b := connectPeer(t, hub, "doc-1", "user-b", "Bob")

	var rec contentRecorder
	b.OnContentChange(rec.fn)

	require.NoError(t, a.BroadcastContentChange("hello"))

	require.Eventually(t, func() bool {
		content, from, _ := rec.snapshot()
		return content == "hello" && from == "user-a"
	}, time.Second, 5*time.Millisecond)

	assert.Contains(t, b.TypingUsers(), "user-a")

	// Typing clears after the expiry window with no further events.
	require.Eventually(t, func() bool {
		return len(b.TypingUsers()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestOwnEventsIgnored(t *testing.T) {
	// Redis-style transports echo a sender's messages back; the
	// broadcaster must filter them out. Simulate the echo by injecting
	// the broadcaster's own envelope.
	hub := transport.NewHub(nil)
	a := connectPeer(t, hub, "doc-1", "user-a", "Alice")

	var rec contentRecorder
	a.OnContentChange(rec.fn)

	env := Envelope{
		Event:   EventContentChange,
		UserID:  "user-a",
		Content: "echoed back",
	}
	payload, err := env.encode()
	require.NoError(t, err)
	a.handle(payload)

	_, _, calls := rec.snapshot()
	assert.Zero(t, calls, "own content_change must not invoke the callback")
	assert.False(t, hasCollaborator(a, "user-a"), "self must not appear as a peer")
}

func TestStalePeerEvicted(t *testing.T) {
	hub := transport.NewHub(nil)
	a := connectPeer(t, hub, "doc-1", "user-a", "Alice")
	b := connectPeer(t, hub, "doc-1", "user-b", "Bob")

	require.Eventually(t, func() bool {
		return hasCollaborator(a, "user-b")
	}, time.Second, 5*time.Millisecond)

	// Silence B without a leave: cancel its loop so heartbeats stop but
	// no user_leave goes out.
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	cancel()

	require.Eventually(t, func() bool {
		return !hasCollaborator(a, "user-b")
	}, time.Second, 5*time.Millisecond, "peer should be evicted after the timeout window")
}

func TestLeaveRemovesPeerImmediately(t *testing.T) {
	hub := transport.NewHub(nil)
	a := connectPeer(t, hub, "doc-1", "user-a", "Alice")
	b := connectPeer(t, hub, "doc-1", "user-b", "Bob")

	require.Eventually(t, func() bool {
		return hasCollaborator(a, "user-b")
	}, time.Second, 5*time.Millisecond)

	b.Disconnect()
	assert.False(t, b.IsConnected())

	require.Eventually(t, func() bool {
		return !hasCollaborator(a, "user-b")
	}, time.Second, 5*time.Millisecond)
}

func TestCursorUpdateSetsPeerCursor(t *testing.T) {
	hub := transport.NewHub(nil)
	a := connectPeer(t, hub, "doc-1", "user-a", "Alice")
	b := connectPeer(t, hub, "doc-1", "user-b", "Bob")

	require.NoError(t, a.UpdateCursor(42.5, 17.25))

	require.Eventually(t, func() bool {
		for _, c := range b.Collaborators() {
			if c.UserID == "user-a" && c.Cursor != nil {
				return c.Cursor.X == 42.5 && c.Cursor.Y == 17.25 && c.Cursor.Mode == "pointer"
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// A heartbeat must preserve the known cursor.
	time.Sleep(50 * time.Millisecond)
	for _, c := range b.Collaborators() {
		if c.UserID == "user-a" {
			require.NotNil(t, c.Cursor)
		}
	}
}

func TestTypingCursorMode(t *testing.T) {
	hub := transport.NewHub(nil)
	a := connectPeer(t, hub, "doc-1", "user-a", "Alice")
	b := connectPeer(t, hub, "doc-1", "user-b", "Bob")

	require.NoError(t, a.UpdateTypingCursor(7, 12))

	require.Eventually(t, func() bool {
		for _, c := range b.Collaborators() {
			if c.UserID == "user-a" && c.Cursor != nil {
				return c.Cursor.Mode == "typing" && c.Cursor.Line == 7 && c.Cursor.Col == 12
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestCursorUpdatesThrottled(t *testing.T) {
	opts := fastOptions()
	opts.CursorInterval = time.Hour // only the initial token is available
	b := New(transport.NewHub(nil), opts)
	require.NoError(t, b.Connect(context.Background(), "doc-1", "user-a", "Alice"))
	defer b.Disconnect()

	require.NoError(t, b.UpdateCursor(1, 1))
	// Subsequent updates inside the window are dropped without error.
	require.NoError(t, b.UpdateCursor(2, 2))
	require.NoError(t, b.UpdateCursor(3, 3))
}

func TestBroadcastWhileDisconnectedIsNoop(t *testing.T) {
	b := New(transport.NewHub(nil), fastOptions())
	assert.NoError(t, b.BroadcastContentChange("nobody listening"))
	assert.NoError(t, b.UpdateCursor(1, 2))
	assert.Empty(t, b.Collaborators())
	b.Disconnect()
}

func TestAnonymousDisplayName(t *testing.T) {
	hub := transport.NewHub(nil)
	a := connectPeer(t, hub, "doc-1", "user-a", "")
	b := connectPeer(t, hub, "doc-1", "user-b", "Bob")

	require.NoError(t, a.BroadcastContentChange("x"))

	require.Eventually(t, func() bool {
		for _, c := range b.Collaborators() {
			if c.UserID == "user-a" {
				return c.DisplayName == "Anonymous"
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestReconnectAfterDisconnect(t *testing.T) {
	hub := transport.NewHub(nil)
	b := New(hub, fastOptions())
	require.NoError(t, b.Connect(context.Background(), "doc-1", "user-a", "Alice"))
	b.Disconnect()
	require.NoError(t, b.Connect(context.Background(), "doc-1", "user-a", "Alice"))
	assert.True(t, b.IsConnected())
	b.Disconnect()
}
