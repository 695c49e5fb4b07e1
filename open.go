package overlay

import (
	"context"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/palm"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/rumor"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Open binds a node to addr and starts gossiping and relaying. The node runs
// until Close is called.
func Open(addr address.Address, opts ...Option) (*Node, error) {
	o := newOptions(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	n := &Node{
		options:   o,
		ctx:       ctx,
		cancel:    cancel,
		g:         g,
		transfers: make(chan Transfer, transferBuffer),
	}

	if err := configureTransport(ctx, g, o, addr); err != nil {
		return nil, n.abort(err)
	}
	n.Addr = o.transport.Control().Address()
	if o.id == "" {
		o.id = peer.ID(n.Addr)
	}
	n.ID = o.id
	n.logger = o.logger.With(zap.Stringer("host", n.ID))
	n.Directory = o.directory
	n.addPeer(n.Record())

	if err := n.openLedger(); err != nil {
		return nil, n.abort(err)
	}
	if err := n.openRumors(); err != nil {
		return nil, n.abort(err)
	}
	if err := n.openRelays(); err != nil {
		return nil, n.abort(err)
	}

	n.watchPresence(ctx)
	o.transport.Control().Handle(n.handleDatagram)
	o.transport.Streams().Handle(n.Relays.AcceptStream)
	g.Go(func() error { return n.Rumors.Run(ctx) })
	return n, nil
}

func configureTransport(ctx context.Context, g *errgroup.Group, o *options, addr address.Address) error {
	if err := o.transport.Configure(ctx, g, addr); err != nil {
		return err
	}
	o.rumor.Transport = o.transport.Control()
	o.relay.Control = o.transport.Control()
	o.relay.Streams = o.transport.Streams()
	return nil
}

func (n *Node) openLedger() (err error) {
	o := n.options
	if o.ledgerDir == "" || o.rumor.Ledger != nil {
		return nil
	}
	n.ledger, err = rumor.OpenLedger(o.ledgerDir, o.fs)
	o.rumor.Ledger = n.ledger
	return err
}

func (n *Node) openRumors() (err error) {
	cfg := n.options.rumor
	cfg.Host = n.ID
	n.Rumors, err = rumor.New(cfg)
	return err
}

func (n *Node) openRelays() (err error) {
	cfg := n.options.relay
	cfg.Host = n.ID
	cfg.OnSession = n.receive
	if cfg.Progress == nil {
		cfg.Progress = palm.NewProgress(n.options.registerer, n.ID)
	}
	n.Relays, err = palm.NewRegistry(cfg)
	return err
}

// handleDatagram routes rumors to the gossip protocol and everything else to
// the relay registry.
func (n *Node) handleDatagram(ctx context.Context, from address.Address, b []byte) {
	pkt, err := wire.Decode(b)
	if err != nil {
		n.logger.Warn("dropping malformed datagram", zap.Stringer("from", from), zap.Error(err))
		return
	}
	if pkt.Header == wire.HeaderRumor {
		err = n.Rumors.Process(ctx, from, pkt)
	} else {
		err = n.Relays.Process(ctx, from, pkt)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Debug("failed to process datagram",
			zap.Stringer("header", pkt.Header),
			zap.Stringer("from", from),
			zap.Error(err),
		)
	}
}

// abort stops everything Open started and returns err.
func (n *Node) abort(err error) error {
	n.cancel()
	err = errors.CombineErrors(err, n.g.Wait())
	if n.ledger != nil {
		err = errors.CombineErrors(err, n.ledger.Close())
	}
	return err
}
