// Package bus carries envelopes between sibling instances over one shared
// channel. Delivery is best effort: nothing is acknowledged, retried or
// replayed.
package bus

import (
	"context"
	"errors"
)

var (
	// ErrChannelUnavailable wraps any failure to hand an envelope to the
	// shared channel.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrClosed is returned by Next once the transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// Transport is a connection to the shared channel. Every instance
// subscribed to the channel receives every published payload, the
// publisher included.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	// Next blocks until a payload arrives, ctx is done or the transport
	// is closed.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}
