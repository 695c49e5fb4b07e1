package mock

import (
	"context"

	overlay "github.com/ShaikAli65/PeerConnect-sub000"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"golang.org/x/sync/errgroup"
)

// Transport is an in-memory, synchronous implementation of
// overlay.Transport. Its routes are dropped once the node shuts down.
type Transport struct {
	datagrams *Network
	streams   *StreamNetwork
	control   *Datagram
	links     *Streams
}

var _ overlay.Transport = (*Transport)(nil)

func NewTransport(datagrams *Network, streams *StreamNetwork) *Transport {
	return &Transport{datagrams: datagrams, streams: streams}
}

// Configure implements overlay.Transport. An empty addr is assigned one
// address per network.
func (t *Transport) Configure(ctx context.Context, g *errgroup.Group, addr address.Address) error {
	t.control = t.datagrams.Route(addr)
	t.links = t.streams.Route(addr)
	g.Go(func() error {
		<-ctx.Done()
		t.datagrams.Drop(t.control.Address())
		t.streams.Drop(t.links.Address())
		return nil
	})
	return nil
}

// Control implements overlay.Transport.
func (t *Transport) Control() transport.Datagram { return t.control }

// Streams implements overlay.Transport.
func (t *Transport) Streams() transport.Streams { return t.links }
