package transport

import (
	"context"
	"sync"

	"quillsync/internal/observability"
)

// Hub implements Transport entirely in process. Every subscription to the
// same channel name receives payloads sent by the others; a sender never
// receives its own payload back. Used by the local agent and by tests.
type Hub struct {
	logger observability.Logger

	mu       sync.Mutex
	channels map[string]map[*hubSubscription]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger observability.Logger) *Hub {
	return &Hub{
		logger:   observability.OrDefault(logger),
		channels: make(map[string]map[*hubSubscription]struct{}),
	}
}

func (h *Hub) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &hubSubscription{
		hub:     h,
		channel: channel,
		events:  make(chan []byte, eventBuffer),
	}
	h.mu.Lock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*hubSubscription]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, nil
}

// publish delivers to every peer on the channel except the sender. A peer
// whose buffer is full misses the payload; the next heartbeat or full
// content broadcast catches it up.
func (h *Hub) publish(from *hubSubscription, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.channels[from.channel] {
		if sub == from {
			continue
		}
		select {
		case sub.events <- payload:
		default:
			h.logger.Warn("hub subscriber lagging, payload dropped", map[string]interface{}{
				"channel": from.channel,
			})
		}
	}
}

func (h *Hub) unsubscribe(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[sub.channel]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.channels, sub.channel)
	}
}

type hubSubscription struct {
	hub     *Hub
	channel string
	events  chan []byte
	once    sync.Once
}

func (s *hubSubscription) Send(_ context.Context, payload []byte) error {
	s.hub.publish(s, payload)
	return nil
}

func (s *hubSubscription) Events() <-chan []byte {
	return s.events
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
		close(s.events)
	})
	return nil
}
