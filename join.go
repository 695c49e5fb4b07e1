package overlay

import (
	"context"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/rumor"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"go.uber.org/zap"
)

// Presence headers announce peers joining and leaving the swarm.
const (
	HeaderPeerJoin  = "PEER_JOIN"
	HeaderPeerLeave = "PEER_LEAVE"
)

// mutableDirectory is implemented by directories the node can record
// presence changes in.
type mutableDirectory interface {
	Add(r peer.Record)
	Remove(id peer.ID)
}

// Join gossips this node's record so that every peer adds it to their
// directory.
func (n *Node) Join(ctx context.Context) error {
	_, err := n.Gossip(ctx, HeaderPeerJoin, recordBody(n.Record()))
	return err
}

// Leave gossips that this node is going away.
func (n *Node) Leave(ctx context.Context) error {
	_, err := n.Gossip(ctx, HeaderPeerLeave, wire.Body{"id": n.ID.String()})
	return err
}

// watchPresence applies presence rumors to the directory until ctx is
// cancelled. A directory the node cannot write to is left alone.
func (n *Node) watchPresence(ctx context.Context) {
	if _, ok := n.Directory.(mutableDirectory); !ok {
		return
	}
	joins := n.Subscribe(HeaderPeerJoin)
	leaves := n.Subscribe(HeaderPeerLeave)
	n.g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case m := <-joins:
				n.applyJoin(m)
			case m := <-leaves:
				n.applyLeave(m)
			}
		}
	})
}

func (n *Node) applyJoin(m rumor.Message) {
	r := recordFromBody(m.Body)
	if r.ID == "" || r.ID == n.ID {
		return
	}
	n.addPeer(r)
	n.logger.Debug("peer joined", zap.Stringer("peer", r.ID), zap.Stringer("control", r.Control))
}

func (n *Node) applyLeave(m rumor.Message) {
	id := peer.ID(m.Body.String("id"))
	if id == "" || id == n.ID {
		return
	}
	if dir, ok := n.Directory.(mutableDirectory); ok {
		dir.Remove(id)
	}
	n.logger.Debug("peer left", zap.Stringer("peer", id))
}

func (n *Node) addPeer(r peer.Record) {
	if dir, ok := n.Directory.(mutableDirectory); ok {
		dir.Add(r)
	}
}

func recordBody(r peer.Record) wire.Body {
	return wire.Body{
		"id":      r.ID.String(),
		"control": r.Control.String(),
		"data":    r.Data.String(),
	}
}

func recordFromBody(b wire.Body) peer.Record {
	return peer.Record{
		ID:      peer.ID(b.String("id")),
		Control: address.Address(b.String("control")),
		Data:    address.Address(b.String("data")),
	}
}
