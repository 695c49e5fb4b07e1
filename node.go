// Package overlay runs a peer of the dissemination overlay. A Node gossips
// small control messages to every peer it knows and broadcasts files to a
// group of peers along a spanning tree built over a hypercube.
package overlay

import (
	"context"
	"sync"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/chunk"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/palm"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/rumor"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const transferBuffer = 16

var ErrClosed = errors.New("[overlay] - node closed")

type Node struct {
	ID   peer.ID
	Addr address.Address
	// Directory resolves every peer the node gossips with or sends to.
	Directory peer.Directory
	// Rumors disseminates control messages.
	Rumors *rumor.Protocol
	// Relays holds every transfer session this node takes part in.
	Relays *palm.Registry

	options   *options
	logger    *zap.Logger
	ledger    *rumor.Ledger
	ctx       context.Context
	cancel    context.CancelFunc
	g         *errgroup.Group
	closeOnce sync.Once
	transfers chan Transfer
}

// Record returns the directory entry other peers reach this node through.
func (n *Node) Record() peer.Record {
	return peer.Record{
		ID:      n.ID,
		Control: n.options.transport.Control().Address(),
		Data:    n.options.transport.Streams().Address(),
	}
}

// |||||| GOSSIP ||||||

// Gossip authors a message and starts disseminating it to every known peer.
func (n *Node) Gossip(ctx context.Context, header string, body wire.Body) (rumor.Message, error) {
	msg := rumor.NewMessage(header, n.Rumors.GlobalTTL, body)
	return msg, n.Rumors.GossipMessage(ctx, msg)
}

// Subscribe delivers every message gossiped with header, once per message.
func (n *Node) Subscribe(header string) <-chan rumor.Message { return n.Rumors.Subscribe(header) }

// |||||| BROADCAST ||||||

// BroadcastReport describes a finished broadcast from the originator's side.
type BroadcastReport struct {
	chunk.Report
	Session palm.Session
	// Tree is the spanning tree the transfer was relayed along.
	Tree *palm.Tree
	// Confirmed lists the peers that accepted the session, this node
	// included.
	Confirmed []peer.ID
	// Missing lists confirmed peers that never joined the tree.
	Missing []peer.ID
}

// Broadcast sends the transfer described by m and read from src to peers.
// It forms a spanning tree over the peers that answer, relays the transfer
// down it, and tears the session down once every child has been released.
func (n *Node) Broadcast(
	ctx context.Context,
	peers []peer.ID,
	m chunk.Metadata,
	src chunk.Source,
) (BroadcastReport, error) {
	if n.ctx.Err() != nil {
		return BroadcastReport{}, ErrClosed
	}
	if err := m.Validate(); err != nil {
		return BroadcastReport{}, err
	}
	s := n.options.session
	s.ID, s.Key = "", ""
	s.ChunkSize = m.ChunkSize
	s.FileCount = len(m.Files)
	proto, err := palm.NewProtocol(n.Relays, s, peers)
	if err != nil {
		return BroadcastReport{}, err
	}
	defer func() {
		if err := n.Relays.Close(proto.Session().ID); err != nil {
			n.logger.Debug("failed to close session", zap.Error(err))
		}
	}()
	logger := n.logger.With(zap.String("session", proto.Session().ID))
	rep := BroadcastReport{Session: proto.Session()}

	var done palm.Event
	for e := range proto.Run(ctx) {
		logger.Debug("broadcast progress", zap.Stringer("event", e.Kind), zap.Stringer("peer", e.Peer))
		if e.Kind == palm.EventDone {
			done = e
		}
	}
	if done.Err != nil {
		return rep, done.Err
	}
	rep.Tree = done.Tree
	rep.Confirmed = proto.Confirmed()
	rep.Missing = done.Tree.Missing(rep.Confirmed)

	rep.Report, err = chunk.Send(ctx, proto.Relay(), m, src, logger)
	return rep, err
}

// BroadcastFiles broadcasts the files at paths, read from the node's
// filesystem.
func (n *Node) BroadcastFiles(ctx context.Context, peers []peer.ID, paths ...string) (BroadcastReport, error) {
	src, m, err := chunk.OpenFiles(n.options.fs, n.options.session.ChunkSize, paths...)
	if err != nil {
		return BroadcastReport{}, err
	}
	rep, err := n.Broadcast(ctx, peers, m, src)
	return rep, errors.CombineErrors(err, src.Close())
}

// |||||| RECEIVE ||||||

// Transfer is a transfer this node received as a member of someone else's
// broadcast.
type Transfer struct {
	chunk.Report
	Session palm.Session
	// Sink holds what was received.
	Sink chunk.Sink
	Err  error
}

// Transfers delivers every transfer this node finishes receiving. Transfers
// are dropped while the channel is full.
func (n *Node) Transfers() <-chan Transfer { return n.transfers }

// receive drives the relay of a session this node was invited to until the
// transfer ends, then tears the session down.
func (n *Node) receive(ctx context.Context, relay *palm.Relay) {
	s := relay.Session()
	sink := n.options.sink(s)
	rep, err := chunk.Receive(ctx, relay, sink)
	logger := n.logger.With(zap.String("session", s.ID))
	if err != nil {
		logger.Debug("transfer failed", zap.Error(err))
	} else {
		logger.Debug("transfer received", zap.Int("chunks", rep.Chunks))
	}
	select {
	case n.transfers <- Transfer{Report: rep, Session: s, Sink: sink, Err: err}:
	default:
		logger.Warn("transfer listener full, dropping report")
	}
	// Let the parent's downgrade land before the relay goes away.
	select {
	case <-time.After(s.LinkWaitTimeout):
	case <-n.ctx.Done():
		return
	}
	if err := n.Relays.Close(s.ID); err != nil {
		logger.Debug("failed to close session", zap.Error(err))
	}
}

// |||||| CLOSE ||||||

// Close stops every session, the gossip protocol and the transport.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.cancel()
		err = n.g.Wait()
		err = errors.CombineErrors(err, n.Relays.CloseAll())
		if n.ledger != nil {
			err = errors.CombineErrors(err, n.ledger.Close())
		}
	})
	return err
}
