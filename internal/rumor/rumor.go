// Package rumor implements rumor-mongering: an epidemic protocol that spreads
// small control messages across every known peer by forwarding each message
// to a few randomly sampled peers, with a forwarding probability that decays
// as the message ages.
package rumor

import (
	"context"
	"sync"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const subscriberBuffer = 64

type Protocol struct {
	Config
	store  *Store
	policy Policy
	mu     sync.RWMutex
	subs   map[string][]chan Message
}

func New(cfg Config) (*Protocol, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Logger = cfg.Logger.Named("rumor")
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	return &Protocol{
		Config: cfg,
		store:  store,
		policy: NewPolicy(store, cfg),
		subs:   make(map[string][]chan Message),
	}, nil
}

func (p *Protocol) Store() *Store { return p.store }

func (p *Protocol) Policy() Policy { return p.policy }

// Run sweeps expired messages out of the store every half node TTL until
// ctx is cancelled.
func (p *Protocol) Run(ctx context.Context) error {
	t := time.NewTimer(p.NodeTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if expired := p.store.Expire(); len(expired) > 0 {
				p.Logger.Debug("dropped rumors", zap.Strings("ids", expired))
			}
			t.Reset(p.NodeTTL / 2)
		}
	}
}

// Subscribe returns a channel that receives every new message with the given
// header, once per message id. Messages are dropped for a subscriber whose
// buffer is full.
func (p *Protocol) Subscribe(header string) <-chan Message {
	c := make(chan Message, subscriberBuffer)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[header] = append(p.subs[header], c)
	return c
}

// Process decodes a rumor datagram and hands it to MessageArrived.
func (p *Protocol) Process(ctx context.Context, from address.Address, pkt wire.Packet) error {
	msg, err := FromPacket(pkt)
	if err != nil {
		p.Logger.Warn("rejecting malformed rumor", zap.Stringer("from", from), zap.Error(err))
		return err
	}
	return p.MessageArrived(ctx, msg, from)
}

// MessageArrived handles a message received from the network. Malformed
// messages are rejected. Messages the policy considers dead are ignored.
// Known messages are only forwarded; new ones are stored, delivered to
// subscribers and forwarded.
func (p *Protocol) MessageArrived(ctx context.Context, msg Message, from address.Address) error {
	if err := msg.Validate(); err != nil {
		p.Logger.Warn("rejecting malformed rumor", zap.Stringer("from", from), zap.Error(err))
		return err
	}
	if !p.policy.ShouldRumor(msg) {
		return nil
	}
	if p.store.Known(msg.ID) {
		p.forward(ctx, msg)
		return nil
	}
	if !p.store.Insert(msg) {
		return nil
	}
	p.deliver(msg)
	p.forward(ctx, msg)
	return nil
}

// GossipMessage starts disseminating a locally authored message.
func (p *Protocol) GossipMessage(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if !p.store.Insert(msg) {
		return errors.Newf("[rumor] - message %s already disseminated", msg.ID)
	}
	p.forward(ctx, msg)
	return nil
}

func (p *Protocol) forward(ctx context.Context, msg Message) {
	candidates := p.Directory.Peers().WhereNot(p.Host)
	sample := p.store.SamplePeers(msg.ID, candidates.IDs(), p.Alpha, p.Rand)
	if len(sample) == 0 {
		return
	}
	b, err := Encode(msg, p.Host.String())
	if err != nil {
		p.Logger.Error("failed to encode rumor", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	for _, id := range sample {
		rec := candidates[id]
		if err := p.Transport.Send(ctx, rec.Control, b); err != nil {
			p.Logger.Debug("rumor send failed", zap.Stringer("peer", id), zap.Error(err))
		}
	}
	p.Logger.Debug("forwarded rumor", zap.String("id", msg.ID), zap.Int("peers", len(sample)))
}

func (p *Protocol) deliver(msg Message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.subs[msg.Header] {
		select {
		case c <- msg:
		default:
			p.Logger.Warn("subscriber full, dropping rumor", zap.String("id", msg.ID))
		}
	}
}
