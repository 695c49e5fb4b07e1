package palm

import (
	"context"
	"sync"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// requestAttempts is the number of times a request datagram is sent within
// its timeout.
const requestAttempts = 3

// Registry owns every relay running in this process and routes session
// traffic to them by session id.
type Registry struct {
	Config
	replies *replyMatcher
	mu      sync.RWMutex
	relays  map[string]*Relay
}

func NewRegistry(cfg Config) (*Registry, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Logger = cfg.Logger.Named("palm")
	if cfg.Progress == nil {
		cfg.Progress = NewProgress(nil, cfg.Host)
	}
	return &Registry{
		Config:  cfg,
		replies: newReplyMatcher(),
		relays:  make(map[string]*Relay),
	}, nil
}

// Open registers a relay for s. A session that is already open returns its
// existing relay.
func (r *Registry) Open(s Session, root bool) (*Relay, error) {
	relay, _, err := r.open(s, root)
	return relay, err
}

func (r *Registry) open(s Session, root bool) (*Relay, bool, error) {
	if err := s.Validate(); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if relay, ok := r.relays[s.ID]; ok {
		return relay, false, nil
	}
	relay := newRelay(r.Config, s, root)
	relay.SessionInit()
	r.relays[s.ID] = relay
	return relay, true, nil
}

func (r *Registry) Get(sessionID string) (*Relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relay, ok := r.relays[sessionID]
	return relay, ok
}

// Close tears down the session's relay and forgets it.
func (r *Registry) Close(sessionID string) error {
	r.mu.Lock()
	relay, ok := r.relays[sessionID]
	delete(r.relays, sessionID)
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownSession, "close %q", sessionID)
	}
	return relay.Close()
}

// CloseAll tears down every session.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	relays := r.relays
	r.relays = make(map[string]*Relay)
	r.mu.Unlock()
	var err error
	for _, relay := range relays {
		err = errors.CombineErrors(err, relay.Close())
	}
	return err
}

// |||||| DISPATCH ||||||

// Process routes a session control packet to the relay it names.
func (r *Registry) Process(ctx context.Context, from address.Address, pkt wire.Packet) error {
	switch pkt.Header {
	case wire.HeaderSessionInformReply, wire.HeaderSessionStateAck, wire.HeaderTreeGatherReply:
		if !r.replies.deliver(pkt) {
			r.Logger.Debug("unsolicited reply", zap.Stringer("header", pkt.Header), zap.String("msg", pkt.MsgID))
		}
		return nil
	case wire.HeaderSessionInform:
		return r.inform(ctx, from, pkt)
	}
	relay, ok := r.Get(pkt.SessionID)
	if !ok {
		return errors.Wrapf(ErrUnknownSession, "%s for session %q", pkt.Header, pkt.SessionID)
	}
	ctx = relay.ctx
	switch pkt.Header {
	case wire.HeaderSessionStateUpdate:
		return r.updateState(ctx, from, relay, pkt)
	case wire.HeaderTreeCheck:
		return relay.TreeCheck(ctx, pkt)
	case wire.HeaderTreeReject:
		relay.TreeReject(ctx, pkt)
	case wire.HeaderUpgradeConn:
		return relay.UpgradeConnection(ctx, pkt)
	case wire.HeaderDowngradeConn:
		relay.DowngradeConnection(ctx, pkt)
	case wire.HeaderTreeGather:
		return relay.Gather(ctx, pkt)
	default:
		return errors.Wrapf(wire.ErrMalformed, "unexpected header %s", pkt.Header)
	}
	return nil
}

// inform handles an invitation to a session: it opens a relay for it and
// answers with this peer's endpoints.
func (r *Registry) inform(ctx context.Context, from address.Address, pkt wire.Packet) error {
	s, err := sessionFromPacket(pkt)
	if err != nil {
		return err
	}
	relay, created, err := r.open(s, false)
	if err != nil {
		return err
	}
	reply := pkt.Reply(wire.HeaderSessionInformReply, string(r.Host), wire.Body{
		"key":          s.Key,
		"passive_addr": r.Control.Address().String(),
		"active_addr":  r.Streams.Address().String(),
	})
	if err := r.send(ctx, from, reply); err != nil {
		return err
	}
	if created {
		go r.OnSession(relay.ctx, relay)
	}
	return nil
}

func (r *Registry) updateState(ctx context.Context, from address.Address, relay *Relay, pkt wire.Packet) error {
	bodies := pkt.Body.Bodies("neighbors")
	neighbors := make([]Neighbor, 0, len(bodies))
	for _, b := range bodies {
		neighbors = append(neighbors, neighborFromBody(b))
	}
	// Retransmitted updates are acknowledged again.
	if err := relay.UpdateState(neighbors); err != nil && !errors.Is(err, ErrStaleState) {
		return err
	}
	return r.send(ctx, from, pkt.Reply(wire.HeaderSessionStateAck, string(r.Host), nil))
}

// AcceptStream reads the link handshake of an inbound stream and hands the
// stream to the relay of the session it names.
func (r *Registry) AcceptStream(ctx context.Context, s transport.Stream) {
	hctx, cancel := context.WithTimeout(ctx, DefaultSession().LinkWaitTimeout)
	frame, err := s.Receive(hctx)
	cancel()
	if err != nil {
		r.Logger.Debug("stream closed before handshake", zap.Error(err))
		_ = s.Close()
		return
	}
	pkt, err := wire.Decode(frame)
	if err == nil && pkt.Header != wire.HeaderUpdateStreamLink {
		err = errors.Wrapf(wire.ErrMalformed, "expected link handshake, got %s", pkt.Header)
	}
	if err != nil {
		r.Logger.Warn("malformed link handshake", zap.Stringer("from", s.RemoteAddress()), zap.Error(err))
		_ = s.Close()
		return
	}
	relay, ok := r.Get(pkt.SessionID)
	if !ok {
		r.Logger.Debug("link for unknown session", zap.String("session", pkt.SessionID))
		_ = s.Close()
		return
	}
	if err := relay.AddStreamLink(relay.ctx, s, pkt); err != nil {
		r.Logger.Debug("refused stream link", zap.String("peer", pkt.PeerID), zap.Error(err))
	}
}

// request sends pkt to addr and waits for the reply carrying the same
// message id, resending a few times within timeout.
func (r *Registry) request(
	ctx context.Context,
	to address.Address,
	pkt wire.Packet,
	expect wire.Header,
	timeout time.Duration,
) (wire.Packet, error) {
	replies, done := r.replies.expect(expect, pkt.MsgID, 1)
	defer done()
	b, err := wire.Encode(pkt)
	if err != nil {
		return wire.Packet{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t := time.NewTicker(timeout / requestAttempts)
	defer t.Stop()
	for {
		if err := r.Control.Send(ctx, to, b); err != nil {
			r.Logger.Debug("failed to send request", zap.Stringer("to", to), zap.Error(err))
		}
		select {
		case reply := <-replies:
			return reply, nil
		case <-t.C:
		case <-ctx.Done():
			return wire.Packet{}, errors.Wrapf(ctx.Err(), "[palm] - no %s from %s", expect, to)
		}
	}
}

func (r *Registry) send(ctx context.Context, to address.Address, pkt wire.Packet) error {
	b, err := wire.Encode(pkt)
	if err != nil {
		return err
	}
	return r.Control.Send(ctx, to, b)
}

// |||||| REPLIES ||||||

type replyKey struct {
	header wire.Header
	msgID  string
}

// replyMatcher hands reply packets to the request waiting for them.
type replyMatcher struct {
	mu      sync.Mutex
	pending map[replyKey]chan wire.Packet
}

func newReplyMatcher() *replyMatcher {
	return &replyMatcher{pending: make(map[replyKey]chan wire.Packet)}
}

// expect registers interest in up to n replies with header and msgID. The
// returned func must be called once the caller stops waiting.
func (m *replyMatcher) expect(header wire.Header, msgID string, n int) (<-chan wire.Packet, func()) {
	k := replyKey{header: header, msgID: msgID}
	c := make(chan wire.Packet, n)
	m.mu.Lock()
	m.pending[k] = c
	m.mu.Unlock()
	return c, func() {
		m.mu.Lock()
		delete(m.pending, k)
		m.mu.Unlock()
	}
}

func (m *replyMatcher) deliver(pkt wire.Packet) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pending[replyKey{header: pkt.Header, msgID: pkt.MsgID}]
	if !ok {
		return false
	}
	select {
	case c <- pkt:
	default:
	}
	return true
}
