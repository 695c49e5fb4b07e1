package overlay

import (
	"context"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	grpct "github.com/ShaikAli65/PeerConnect-sub000/transport/grpc"
	"github.com/ShaikAli65/PeerConnect-sub000/transport/udp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Transport supplies the two planes a node talks over: unreliable datagrams
// for gossip and session control, reliable streams for relaying chunks.
type Transport interface {
	// Configure binds the transport to addr. Serve loops are started on g and
	// return once ctx is cancelled.
	Configure(ctx context.Context, g *errgroup.Group, addr address.Address) error
	Control() transport.Datagram
	Streams() transport.Streams
}

// NetworkTransport returns the default Transport: UDP datagrams and gRPC
// streams sharing one port number.
func NetworkTransport(logger *zap.Logger) Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &networkTransport{logger: logger}
}

type networkTransport struct {
	logger  *zap.Logger
	control *udp.Transport
	streams *grpct.Transport
}

// Configure implements Transport.
func (t *networkTransport) Configure(ctx context.Context, g *errgroup.Group, addr address.Address) error {
	control, err := udp.Listen(addr, t.logger)
	if err != nil {
		return err
	}
	// An ephemeral port resolves on the UDP side first.
	streamAddr := address.Newf("%s%s", addr.Host(), control.Address().PortString())
	streams, err := grpct.Listen(streamAddr, t.logger)
	if err != nil {
		_ = control.Close()
		return err
	}
	t.control, t.streams = control, streams
	g.Go(func() error { return control.Serve(ctx) })
	g.Go(func() error { return streams.Serve(ctx) })
	return nil
}

// Control implements Transport.
func (t *networkTransport) Control() transport.Datagram { return t.control }

// Streams implements Transport.
func (t *networkTransport) Streams() transport.Streams { return t.streams }
