package docsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
}

func (f *fakeBroadcaster) BroadcastContentChange(content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeBroadcaster) broadcasts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (f *fakeSaver) SaveContent(_ context.Context, _ string, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, content)
	return nil
}

func (f *fakeSaver) saves() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saved...)
}

func (f *fakeSaver) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func fastController(b Broadcaster, s Saver) *Controller {
	return New("doc-1", "", b, s, Options{
		BroadcastDebounce: 20 * time.Millisecond,
		SaveDebounce:      40 * time.Millisecond,
	})
}

func TestLocalEditsDebounceIntoOneBroadcast(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)
	defer c.Close()

	c.SetContent("h")
	c.SetContent("he")
	c.SetContent("hello")

	assert.Equal(t, "hello", c.Content(), "buffer updates immediately")
	assert.Empty(t, b.broadcasts(), "nothing goes out before the quiet period")

	require.Eventually(t, func() bool {
		sent := b.broadcasts()
		return len(sent) == 1 && sent[0] == "hello"
	}, time.Second, 5*time.Millisecond)

	// No further broadcasts without further edits.
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, b.broadcasts(), 1)
}

func TestRemoteChangesAreNeverRebroadcast(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)
	defer c.Close()

	var updates []string
	var mu sync.Mutex
	c.OnContentUpdate(func(content string) {
		mu.Lock()
		updates = append(updates, content)
		mu.Unlock()
	})

	c.ApplyRemote("from peer", "user-b")
	assert.Equal(t, "from peer", c.Content())

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, b.broadcasts(), "remote-origin content must not be re-broadcast")

	mu.Lock()
	assert.Equal(t, []string{"from peer"}, updates)
	mu.Unlock()
}

func TestPendingLocalBroadcastNotOverwrittenByRemote(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)
	defer c.Close()

	c.SetContent("local draft")
	// A remote change lands between the debounce arm and fire.
	c.ApplyRemote("remote content", "user-b")

	require.Eventually(t, func() bool {
		return len(b.broadcasts()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"local draft"}, b.broadcasts(),
		"the pending broadcast carries the local edit, not the remote one")
}

func TestSaveDebounceAndSkip(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)
	defer c.Close()

	c.SetContent("draft")
	require.Eventually(t, func() bool {
		saved := s.saves()
		return len(saved) == 1 && saved[0] == "draft"
	}, time.Second, 5*time.Millisecond)

	// Re-setting identical content arms the timer but the save is skipped.
	c.SetContent("draft")
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, s.saves(), 1, "unchanged content must not be re-saved")
	assert.NoError(t, c.SaveError())
}

func TestSaveErrorSurfacedAndCleared(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)
	defer c.Close()

	s.setErr(errors.New("database unavailable"))
	c.SetContent("doomed draft")

	require.Eventually(t, func() bool {
		return c.SaveError() != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "doomed draft", c.Content(), "buffer is not rolled back on save failure")

	// The next natural cycle retries and clears the error.
	s.setErr(nil)
	c.SetContent("recovered draft")
	require.Eventually(t, func() bool {
		saved := s.saves()
		return len(saved) == 1 && saved[0] == "recovered draft" && c.SaveError() == nil
	}, time.Second, 5*time.Millisecond)
}

func TestApplyAIBroadcastsImmediately(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)
	defer c.Close()

	c.ApplyAI("ai rewrite")

	assert.Equal(t, []string{"ai rewrite"}, b.broadcasts(), "no debounce for AI changes")
	assert.Equal(t, "ai rewrite", c.Content())

	// It still persists through the normal save debounce.
	require.Eventually(t, func() bool {
		saved := s.saves()
		return len(saved) == 1 && saved[0] == "ai rewrite"
	}, time.Second, 5*time.Millisecond)
}

func TestApplyAISupersedesPendingKeystrokeBroadcast(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)
	defer c.Close()

	c.SetContent("local draft")
	c.ApplyAI("ai rewrite")

	assert.Equal(t, []string{"ai rewrite"}, b.broadcasts())

	// The keystroke's debounce must not fire later with the pre-AI
	// draft; that would regress every peer while the local buffer
	// keeps the rewrite.
	time.Sleep(60 * time.Millisecond)
	sent := b.broadcasts()
	require.NotEmpty(t, sent)
	assert.Equal(t, "ai rewrite", sent[len(sent)-1])
	assert.NotContains(t, sent, "local draft")
	assert.Equal(t, "ai rewrite", c.Content())
}

func TestManualSaveBypassesDebounce(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)
	defer c.Close()

	c.SetContent("urgent")
	require.NoError(t, c.Save(context.Background()))
	assert.Equal(t, []string{"urgent"}, s.saves())

	// The debounced save later finds nothing new.
	time.Sleep(80 * time.Millisecond)
	assert.Len(t, s.saves(), 1)
}

func TestCloseStopsPendingWork(t *testing.T) {
	b := &fakeBroadcaster{}
	s := &fakeSaver{}
	c := fastController(b, s)

	c.SetContent("never sent")
	c.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, b.broadcasts())
	assert.Empty(t, s.saves())

	// Post-close mutations are ignored.
	c.SetContent("ignored")
	assert.Equal(t, "never sent", c.Content())
}
