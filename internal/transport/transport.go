// Package transport abstracts the per-document pub/sub channel the
// collaboration layer rides on. Payloads are opaque bytes; the presence
// layer defines the envelope. Two implementations exist: Redis pub/sub for
// the network server and an in-process Hub for the local agent and tests.
package transport

import "context"

// Subscription is one attachment to a named channel. Events delivers
// payloads published by other parties; whether a subscriber's own sends
// are echoed back depends on the implementation, so consumers must filter
// by sender identity regardless.
type Subscription interface {
	// Send publishes a payload to every subscriber of the channel.
	Send(ctx context.Context, payload []byte) error
	// Events returns the inbound payload stream. The channel is closed
	// when the subscription closes.
	Events() <-chan []byte
	// Close detaches from the channel and releases resources.
	Close() error
}

// Transport creates subscriptions to named channels.
type Transport interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}
