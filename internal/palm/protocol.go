package palm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Protocol forms the spanning tree of one session from the originator's
// side. Each step completes before the next begins: lay the participants out
// on a hypercube, invite them, tell every confirmed peer its neighborhood,
// then trigger tree formation from the root relay.
type Protocol struct {
	registry  *Registry
	session   Session
	peers     []peer.ID
	relay     *Relay
	logger    *zap.Logger
	events    chan Event
	mu        sync.Mutex
	adjacency Adjacency
	confirmed map[peer.ID]Neighbor
}

// NewProtocol prepares a session originated by the registry's host and sent
// to peers. It opens the root relay.
func NewProtocol(reg *Registry, s Session, peers []peer.ID) (*Protocol, error) {
	if reg.Directory == nil {
		return nil, errors.New("[palm] - originating a session requires a directory")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Key == "" {
		s.Key = uuid.NewString()
	}
	s.OriginateID = reg.Host
	s = s.Merge(DefaultSession())
	ordered := []peer.ID{reg.Host}
	seen := map[peer.ID]bool{reg.Host: true}
	for _, id := range peers {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	relay, err := reg.Open(s, true)
	if err != nil {
		return nil, err
	}
	return &Protocol{
		registry:  reg,
		session:   s,
		peers:     ordered,
		relay:     relay,
		logger:    reg.Logger.With(zap.String("session", s.ID)),
		events:    make(chan Event, 4*len(ordered)+8),
		confirmed: map[peer.ID]Neighbor{reg.Host: {ID: reg.Host, Passive: reg.Control.Address(), Active: reg.Streams.Address()}},
	}, nil
}

func (p *Protocol) Session() Session { return p.session }

// Relay returns the root relay.
func (p *Protocol) Relay() *Relay { return p.relay }

// Adjacency returns a copy of the current candidate topology.
func (p *Protocol) Adjacency() Adjacency {
	p.mu.Lock()
	defer p.mu.Unlock()
	adj := make(Adjacency, len(p.adjacency))
	for id, n := range p.adjacency {
		adj[id] = append([]peer.ID(nil), n...)
	}
	return adj
}

// Confirmed returns the participants that accepted the session, the
// originator included.
func (p *Protocol) Confirmed() []peer.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedIDs(p.confirmed)
}

// Run executes every step and reports progress on the returned channel,
// which is closed after the final EventDone. The caller must drain it.
func (p *Protocol) Run(ctx context.Context) <-chan Event {
	go func() {
		defer close(p.events)
		tree, err := p.run(ctx)
		p.emit(ctx, Event{Kind: EventDone, Tree: tree, Err: err})
	}()
	return p.events
}

func (p *Protocol) run(ctx context.Context) (*Tree, error) {
	p.CreateHypercube()
	if err := p.InformPeers(ctx); err != nil {
		return nil, err
	}
	if err := p.UpdateStates(ctx); err != nil {
		return nil, err
	}
	if err := p.TriggerSpanningFormation(ctx); err != nil {
		return nil, err
	}
	return p.Settle(ctx)
}

func (p *Protocol) emit(ctx context.Context, e Event) {
	e.Session = p.session.ID
	p.registry.Progress.report(e)
	select {
	case p.events <- e:
	case <-ctx.Done():
	}
}

// CreateHypercube lays the participants out on a hypercube with the
// originator at corner zero.
func (p *Protocol) CreateHypercube() Adjacency {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adjacency = Hypercube(p.peers)
	return p.adjacency
}

// InformPeers invites every participant to the session and records the
// endpoints of those that answer within the link wait timeout. Participants
// that do not answer are pruned from the topology.
func (p *Protocol) InformPeers(ctx context.Context) error {
	var (
		mu          sync.Mutex
		unreachable []peer.ID
		g           errgroup.Group
	)
	for _, id := range p.peers[1:] {
		id := id
		g.Go(func() error {
			n, err := p.inform(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.logger.Debug("peer unreachable", zap.String("peer", string(id)), zap.Error(err))
				unreachable = append(unreachable, id)
				return nil
			}
			p.mu.Lock()
			p.confirmed[id] = n
			p.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.adjacency.Prune(unreachable...)
	confirmed := sortedIDs(p.confirmed)
	p.mu.Unlock()
	for _, id := range confirmed {
		if id != p.registry.Host {
			p.emit(ctx, Event{Kind: EventPeerConfirmed, Peer: id})
		}
	}
	sort.Slice(unreachable, func(i, j int) bool { return unreachable[i] < unreachable[j] })
	for _, id := range unreachable {
		p.emit(ctx, Event{Kind: EventPeerPruned, Peer: id})
	}
	return nil
}

func (p *Protocol) inform(ctx context.Context, id peer.ID) (Neighbor, error) {
	rec, ok := p.registry.Directory.Get(id)
	if !ok {
		return Neighbor{}, errors.Newf("[palm] - %s is not in the directory", id)
	}
	s := p.session
	p.mu.Lock()
	s.AdjacentPeers = append([]peer.ID(nil), p.adjacency[id]...)
	p.mu.Unlock()
	reply, err := p.registry.request(ctx, rec.Control, wire.Packet{
		Header:    wire.HeaderSessionInform,
		MsgID:     uuid.NewString(),
		SessionID: s.ID,
		PeerID:    string(p.registry.Host),
		Body:      s.body(),
	}, wire.HeaderSessionInformReply, s.LinkWaitTimeout)
	if err != nil {
		return Neighbor{}, err
	}
	if reply.Body.String("key") != s.Key {
		return Neighbor{}, errors.Newf("[palm] - %s answered with the wrong session key", id)
	}
	return Neighbor{
		ID:      id,
		Passive: address.Address(reply.Body.String("passive_addr")),
		Active:  address.Address(reply.Body.String("active_addr")),
	}, nil
}

// UpdateStates sends every confirmed peer its neighbors among the confirmed
// peers and waits for each to acknowledge. The root relay is updated
// directly.
func (p *Protocol) UpdateStates(ctx context.Context) error {
	p.mu.Lock()
	ids := sortedIDs(p.confirmed)
	p.mu.Unlock()
	var g errgroup.Group
	for _, id := range ids {
		if id == p.registry.Host {
			continue
		}
		id := id
		g.Go(func() error {
			if err := p.updateState(ctx, id); err != nil {
				p.logger.Debug("state update unacknowledged", zap.String("peer", string(id)), zap.Error(err))
				return nil
			}
			p.emit(ctx, Event{Kind: EventStateSent, Peer: id})
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.relay.UpdateState(p.neighborsOf(p.registry.Host))
}

func (p *Protocol) updateState(ctx context.Context, id peer.ID) error {
	neighbors := p.neighborsOf(id)
	bodies := make([]wire.Body, len(neighbors))
	for i, n := range neighbors {
		bodies[i] = n.body()
	}
	body := p.session.body()
	body["neighbors"] = bodies
	p.mu.Lock()
	to := p.confirmed[id].Passive
	p.mu.Unlock()
	_, err := p.registry.request(ctx, to, wire.Packet{
		Header:    wire.HeaderSessionStateUpdate,
		MsgID:     uuid.NewString(),
		SessionID: p.session.ID,
		PeerID:    string(p.registry.Host),
		Body:      body,
	}, wire.HeaderSessionStateAck, p.session.LinkWaitTimeout)
	return err
}

// neighborsOf returns id's hypercube neighbors that confirmed the session.
func (p *Protocol) neighborsOf(id peer.ID) []Neighbor {
	p.mu.Lock()
	defer p.mu.Unlock()
	var neighbors []Neighbor
	for _, n := range p.adjacency[id] {
		if rec, ok := p.confirmed[n]; ok {
			neighbors = append(neighbors, rec)
		}
	}
	return neighbors
}

// TriggerSpanningFormation offers the root's neighbors a tree check.
func (p *Protocol) TriggerSpanningFormation(ctx context.Context) error {
	if err := p.relay.Trigger(ctx); err != nil {
		return err
	}
	p.emit(ctx, Event{Kind: EventTreeTriggered, Peer: p.registry.Host})
	return nil
}

// Gather walks the current tree and returns its shape as reported by every
// relay that answered within the link wait timeout.
func (p *Protocol) Gather(ctx context.Context) (*Tree, error) {
	expected := len(p.Confirmed())
	msgID := uuid.NewString()
	replies, done := p.registry.replies.expect(wire.HeaderTreeGatherReply, msgID, expected)
	defer done()
	err := p.relay.Gather(ctx, wire.Packet{
		Header:    wire.HeaderTreeGather,
		MsgID:     msgID,
		SessionID: p.session.ID,
		PeerID:    string(p.registry.Host),
		Body: wire.Body{
			"depth":      0,
			"reply_addr": p.registry.Control.Address().String(),
		},
	})
	if err != nil {
		return nil, err
	}
	tree := NewTree(p.registry.Host)
	t := time.NewTimer(p.session.LinkWaitTimeout)
	defer t.Stop()
	for received := 0; received < expected; received++ {
		select {
		case reply := <-replies:
			tree.Add(peer.ID(reply.PeerID), peer.ID(reply.Body.String("parent_id")), reply.Body.Int("depth"))
		case <-t.C:
			return tree, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return tree, nil
}

// Settle gathers until every confirmed peer has joined the tree or the
// configured number of gathers has run, and returns the last tree seen.
func (p *Protocol) Settle(ctx context.Context) (*Tree, error) {
	var tree *Tree
	for attempt := 0; attempt < p.registry.GatherAttempts; attempt++ {
		var err error
		if tree, err = p.Gather(ctx); err != nil {
			return nil, err
		}
		if len(tree.Missing(p.Confirmed())) == 0 && tree.Validate() == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.session.LinkWaitTimeout / 2):
		}
	}
	if missing := tree.Missing(p.Confirmed()); len(missing) > 0 {
		p.logger.Debug("tree incomplete", zap.Int("missing", len(missing)))
	}
	p.emit(ctx, Event{Kind: EventTreeGathered, Tree: tree})
	return tree, nil
}

func sortedIDs(m map[peer.ID]Neighbor) []peer.ID {
	ids := make([]peer.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
