package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quillsync/internal/docsync"
	"quillsync/internal/presence"
	"quillsync/internal/store/bolt"
	"quillsync/internal/transport"
	"quillsync/internal/version"
)

func fastSessionOptions() Options {
	return Options{
		Presence: presence.Options{
			HeartbeatInterval: 20 * time.Millisecond,
			SweepInterval:     25 * time.Millisecond,
			PeerTimeout:       150 * time.Millisecond,
			TypingExpiry:      100 * time.Millisecond,
			CursorInterval:    time.Millisecond,
		},
		Sync: docsync.Options{
			BroadcastDebounce: 20 * time.Millisecond,
			SaveDebounce:      40 * time.Millisecond,
		},
		Snapshot: version.SchedulerOptions{
			Settle:   time.Hour,
			Interval: time.Hour,
		},
	}
}

func openPair(t *testing.T) (*Session, *Session, *bolt.Store) {
	t.Helper()
	st, err := bolt.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	gateway := version.NewGateway(st.Documents(), st.Versions(), nil)
	hub := transport.NewHub(nil)
	ctx := context.Background()

	a, err := Open(ctx, "doc-1", "user-a", "Alice", st.Documents(), gateway, hub, fastSessionOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	b, err := Open(ctx, "doc-1", "user-b", "Bob", st.Documents(), gateway, hub, fastSessionOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	return a, b, st
}

func TestEditPropagatesBetweenPeers(t *testing.T) {
	a, b, st := openPair(t)

	require.True(t, a.IsConnected())
	require.True(t, b.IsConnected())

	a.SetContent("hello from alice")

	// B's buffer converges after A's broadcast debounce.
	require.Eventually(t, func() bool {
		return b.Content() == "hello from alice"
	}, time.Second, 5*time.Millisecond)

	// B sees A as typing until the expiry passes.
	assert.Contains(t, b.TypingUsers(), "user-a")
	require.Eventually(t, func() bool {
		return len(b.TypingUsers()) == 0
	}, time.Second, 5*time.Millisecond)

	// The edit becomes durable through the save debounce.
	require.Eventually(t, func() bool {
		doc, err := st.Documents().Get(context.Background(), "doc-1")
		return err == nil && doc.Content == "hello from alice"
	}, time.Second, 5*time.Millisecond)
}

func TestRemoteApplicationDoesNotEcho(t *testing.T) {
	a, b, _ := openPair(t)

	a.SetContent("first")
	require.Eventually(t, func() bool {
		return b.Content() == "first"
	}, time.Second, 5*time.Millisecond)

	// If B re-broadcast the applied change, A would see a second
	// content_change and mark B as typing. It must not.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, a.TypingUsers(), "remote application must not be re-broadcast")
	assert.Equal(t, "first", a.Content())
}

func TestNamedVersionAndRestoreThroughSession(t *testing.T) {
	a, _, _ := openPair(t)
	ctx := context.Background()

	a.SetContent("the first draft")
	require.NoError(t, a.Save(ctx))
	v1, err := a.SaveNamedVersion(ctx, "first draft")
	require.NoError(t, err)
	require.NotNil(t, v1)

	a.SetContent("a heavily rewritten draft")
	require.NoError(t, a.Save(ctx))
	_, err = a.SaveNamedVersion(ctx, "rewrite")
	require.NoError(t, err)

	content, err := a.Versions().RestoreVersion(ctx, "doc-1", v1.ID, "user-a")
	require.NoError(t, err)
	assert.Equal(t, "the first draft", content)

	page, err := a.Versions().GetVersionList(ctx, "doc-1", 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, page.Versions)
	assert.Equal(t, "Restored from v1", page.Versions[0].Label)
}

func TestAIChangeBroadcastsImmediately(t *testing.T) {
	a, b, _ := openPair(t)

	a.ApplyAI("ai generated document")

	// No 20ms debounce wait: the change should land about as fast as the
	// hub can deliver it.
	require.Eventually(t, func() bool {
		return b.Content() == "ai generated document"
	}, 500*time.Millisecond, time.Millisecond)
}

func TestCloseFlushesPendingSave(t *testing.T) {
	st, err := bolt.Open(filepath.Join(t.TempDir(), "close.db"))
	require.NoError(t, err)
	defer st.Close()
	gateway := version.NewGateway(st.Documents(), st.Versions(), nil)
	hub := transport.NewHub(nil)

	s, err := Open(context.Background(), "doc-1", "user-a", "Alice",
		st.Documents(), gateway, hub, fastSessionOptions())
	require.NoError(t, err)

	s.SetContent("unsaved edit")
	require.NoError(t, s.Close(context.Background()))

	doc, err := st.Documents().Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "unsaved edit", doc.Content)
}
