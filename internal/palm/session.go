package palm

import (
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Session describes one one-to-many transfer. It is created by the originator
// and copied to every participant; AdjacentPeers is the only field whose value
// differs between copies.
type Session struct {
	ID              string
	OriginateID     peer.ID
	Key             string
	Fanout          int
	ChunkSize       int
	LinkWaitTimeout time.Duration
	AdjacentPeers   []peer.ID
	FileCount       int
}

// NewSession returns a session originated by host with a fresh id and key and
// default transfer parameters.
func NewSession(host peer.ID) Session {
	return Session{
		ID:          uuid.NewString(),
		OriginateID: host,
		Key:         uuid.NewString(),
	}.Merge(DefaultSession())
}

func DefaultSession() Session {
	return Session{
		Fanout:          3,
		ChunkSize:       64 * 1024,
		LinkWaitTimeout: 2 * time.Second,
	}
}

func (s Session) Merge(def Session) Session {
	if s.Fanout == 0 {
		s.Fanout = def.Fanout
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = def.ChunkSize
	}
	if s.LinkWaitTimeout == 0 {
		s.LinkWaitTimeout = def.LinkWaitTimeout
	}
	return s
}

func (s Session) Validate() error {
	if s.ID == "" {
		return errors.New("[palm] - session id required")
	}
	if s.OriginateID == "" {
		return errors.New("[palm] - session originator required")
	}
	if s.Fanout < 1 {
		return errors.New("[palm] - fanout must be at least 1")
	}
	if s.ChunkSize <= 0 {
		return errors.New("[palm] - chunk size must be positive")
	}
	if s.LinkWaitTimeout <= 0 {
		return errors.New("[palm] - link wait timeout must be positive")
	}
	return nil
}

func (s Session) body() wire.Body {
	adjacent := make([]string, len(s.AdjacentPeers))
	for i, id := range s.AdjacentPeers {
		adjacent[i] = string(id)
	}
	return wire.Body{
		"key":            s.Key,
		"fanout":         s.Fanout,
		"chunk_size":     s.ChunkSize,
		"link_wait_ms":   s.LinkWaitTimeout.Milliseconds(),
		"file_count":     s.FileCount,
		"originate_id":   string(s.OriginateID),
		"adjacent_peers": adjacent,
	}
}

func sessionFromPacket(pkt wire.Packet) (Session, error) {
	b := pkt.Body
	s := Session{
		ID:              pkt.SessionID,
		OriginateID:     peer.ID(b.String("originate_id")),
		Key:             b.String("key"),
		Fanout:          b.Int("fanout"),
		ChunkSize:       b.Int("chunk_size"),
		LinkWaitTimeout: time.Duration(b.Int("link_wait_ms")) * time.Millisecond,
		FileCount:       b.Int("file_count"),
	}
	for _, id := range b.Strings("adjacent_peers") {
		s.AdjacentPeers = append(s.AdjacentPeers, peer.ID(id))
	}
	return s, errors.Wrap(s.Validate(), "[palm] - invalid session packet")
}
