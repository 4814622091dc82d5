package version

import (
	"context"
	"sync"
	"time"

	"quillsync/internal/model"
	"quillsync/internal/observability"
)

// ContentFunc returns the document content to snapshot at fire time.
type ContentFunc func() string

// SchedulerOptions tunes the snapshot cadence. Zero values take the
// defaults.
type SchedulerOptions struct {
	// Settle delays the initial snapshot so the starting content is
	// captured once loading has finished. Default 2s.
	Settle time.Duration
	// Interval between periodic snapshot attempts. Default 30s.
	Interval time.Duration
	Logger   observability.Logger
}

func (o *SchedulerOptions) withDefaults() {
	if o.Settle <= 0 {
		o.Settle = 2 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	o.Logger = observability.OrDefault(o.Logger)
}

// Scheduler periodically snapshots a document through the gateway. The
// gateway's content-equality dedup keeps an idle document from spamming
// history.
type Scheduler struct {
	gateway    *Gateway
	documentID string
	userID     string
	content    ContentFunc
	opts       SchedulerOptions

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewScheduler builds a scheduler for one open document. content is called
// on every snapshot attempt.
func NewScheduler(gateway *Gateway, documentID, userID string, content ContentFunc, opts SchedulerOptions) *Scheduler {
	opts.withDefaults()
	return &Scheduler{
		gateway:    gateway,
		documentID: documentID,
		userID:     userID,
		content:    content,
		opts:       opts,
	}
}

// Start launches the snapshot loop: one attempt after the settle delay,
// then one per interval. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.run(ctx)
}

// Stop cancels the loop and waits for it to exit. Safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// SaveNamedVersion snapshots the current content immediately with a
// user-supplied label, independent of the timer.
func (s *Scheduler) SaveNamedVersion(ctx context.Context, label string) (*model.Version, error) {
	return s.gateway.CreateSnapshot(ctx, s.documentID, s.content(), s.userID, label)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	settle := time.NewTimer(s.opts.Settle)
	defer settle.Stop()
	select {
	case <-settle.C:
		s.snapshot(ctx)
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.snapshot(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) snapshot(ctx context.Context) {
	if _, err := s.gateway.CreateSnapshot(ctx, s.documentID, s.content(), s.userID, ""); err != nil {
		s.opts.Logger.Warn("auto-snapshot failed", map[string]interface{}{
			"documentId": s.documentID,
			"error":      err.Error(),
		})
	}
}
