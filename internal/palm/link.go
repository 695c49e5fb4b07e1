package palm

import (
	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
)

type LinkType uint8

const (
	// LinkActive carries relayed data over a stream.
	LinkActive LinkType = iota
	// LinkPassive carries control packets over datagrams.
	LinkPassive
)

func (t LinkType) String() string {
	if t == LinkActive {
		return "active"
	}
	return "passive"
}

type capability struct {
	ownsStream  bool
	carriesData bool
}

var capabilities = map[LinkType]capability{
	LinkActive:  {ownsStream: true, carriesData: true},
	LinkPassive: {},
}

type LinkStatus uint8

const (
	StatusOffline LinkStatus = iota
	StatusOnline
	// StatusLagging marks a link that missed a forward deadline. It keeps its
	// stream but is skipped for a few frames.
	StatusLagging
)

func (s LinkStatus) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusLagging:
		return "lagging"
	default:
		return "offline"
	}
}

type Direction uint8

const (
	DirectionNone Direction = iota
	// DirectionIncoming is a link to the parent.
	DirectionIncoming
	// DirectionOutgoing is a link to a child.
	DirectionOutgoing
)

func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return "none"
	}
}

// Link is one edge between a relay and a neighbor. Links are owned by their
// relay and only mutated under its lock. A link is live (online or lagging)
// exactly when it holds a stream.
type Link struct {
	ID        uint64
	Left      address.Address
	Right     address.Address
	PeerID    peer.ID
	Type      LinkType
	Status    LinkStatus
	Direction Direction

	conn       transport.Stream
	connecting bool
	skip       int
}

func (l *Link) live() bool { return l.conn != nil && l.Status != StatusOffline }

// adopt installs conn as the link's stream, closing any stream it replaces.
func (l *Link) adopt(conn transport.Stream, dir Direction) error {
	if !capabilities[l.Type].ownsStream {
		return errors.Newf("[palm] - %s link cannot own a stream", l.Type)
	}
	if l.conn != nil && l.conn != conn {
		_ = l.conn.Close()
	}
	l.conn = conn
	l.Status = StatusOnline
	l.Direction = dir
	l.skip = 0
	return nil
}

// clear closes the link's stream and takes it offline.
func (l *Link) clear() error {
	var err error
	if l.conn != nil {
		err = l.conn.Close()
	}
	l.conn = nil
	l.Status = StatusOffline
	l.Direction = DirectionNone
	l.connecting = false
	l.skip = 0
	return err
}

func (l *Link) snapshot() Link {
	return Link{
		ID:        l.ID,
		Left:      l.Left,
		Right:     l.Right,
		PeerID:    l.PeerID,
		Type:      l.Type,
		Status:    l.Status,
		Direction: l.Direction,
	}
}
