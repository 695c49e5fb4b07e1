// Package transport defines the network primitives the overlay is built on:
// an unreliable datagram transport for control traffic and a reliable,
// message-oriented stream transport for bulk relay.
package transport

import (
	"context"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/cockroachdb/errors"
)

var ErrClosed = errors.New("[transport] - closed")

// DatagramHandler is called once for every datagram received.
type DatagramHandler func(ctx context.Context, from address.Address, payload []byte)

// Datagram is a fire-and-forget packet transport. Send never waits for the
// remote end and delivery is not guaranteed.
type Datagram interface {
	Send(ctx context.Context, to address.Address, payload []byte) error
	Handle(handle DatagramHandler)
	Address() address.Address
}

// Stream is one end of a reliable, ordered link. Frames written with Send
// are delivered whole by Receive on the other end. An empty frame is a valid
// frame.
type Stream interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	RemoteAddress() address.Address
	Close() error
}

// StreamHandler is called for every inbound stream. The stream stays open
// after the handler returns until one of the ends closes it.
type StreamHandler func(ctx context.Context, s Stream)

// Streams dials and accepts Stream links.
type Streams interface {
	Dial(ctx context.Context, to address.Address) (Stream, error)
	Handle(handle StreamHandler)
	Address() address.Address
}
