package palm_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/palm"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/ShaikAli65/PeerConnect-sub000/mock"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

type node struct {
	id       peer.ID
	control  *mock.Datagram
	streams  *mock.Streams
	registry *palm.Registry
	relays   chan *palm.Relay
	pumped   chan error
	mu       sync.Mutex
	frames   [][]byte
}

func (n *node) neighbor() palm.Neighbor {
	return palm.Neighbor{ID: n.id, Passive: n.control.Address(), Active: n.streams.Address()}
}

func (n *node) consume(_ context.Context, frame []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frames = append(n.frames, frame)
	return nil
}

func (n *node) received() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.frames...)
}

func (n *node) relay(sessionID string) *palm.Relay {
	r, ok := n.registry.Get(sessionID)
	Expect(ok).To(BeTrue())
	return r
}

type cluster struct {
	net     *mock.Network
	streams *mock.StreamNetwork
	dir     *peer.StaticDirectory
	nodes   []*node
}

// newCluster starts n registries on in-memory networks. When pump is set
// every invited node pumps its relay into its frame log.
func newCluster(n int, cfg palm.Config, pump bool) *cluster {
	c := &cluster{
		net:     mock.NewNetwork(),
		streams: mock.NewStreamNetwork(),
		dir:     peer.NewStaticDirectory(),
	}
	for i := 0; i < n; i++ {
		nd := &node{
			id:      peer.ID(fmt.Sprintf("peer-%d", i)),
			control: c.net.Route(""),
			streams: c.streams.Route(""),
			relays:  make(chan *palm.Relay, 16),
			pumped:  make(chan error, 16),
		}
		c.dir.Add(peer.Record{ID: nd.id, Control: nd.control.Address(), Data: nd.streams.Address()})
		ncfg := cfg
		ncfg.Host = nd.id
		ncfg.Control = nd.control
		ncfg.Streams = nd.streams
		ncfg.Directory = c.dir
		ncfg.Logger = zap.NewNop()
		ncfg.OnSession = func(ctx context.Context, r *palm.Relay) {
			nd.relays <- r
			if pump {
				nd.pumped <- r.Pump(ctx, nd.consume)
			}
		}
		reg, err := palm.NewRegistry(ncfg)
		Expect(err).ToNot(HaveOccurred())
		nd.registry = reg
		nd.control.Handle(func(ctx context.Context, from address.Address, b []byte) {
			pkt, err := wire.Decode(b)
			if err != nil {
				return
			}
			_ = reg.Process(ctx, from, pkt)
		})
		nd.streams.Handle(reg.AcceptStream)
		c.nodes = append(c.nodes, nd)
	}
	return c
}

func (c *cluster) ids() []peer.ID {
	ids := make([]peer.ID, len(c.nodes))
	for i, n := range c.nodes {
		ids[i] = n.id
	}
	return ids
}

func (c *cluster) close() {
	for _, n := range c.nodes {
		Expect(n.registry.CloseAll()).To(Succeed())
	}
}

// run executes a protocol to completion and returns its final event.
func run(ctx context.Context, p *palm.Protocol) (done palm.Event, events []palm.Event) {
	for e := range p.Run(ctx) {
		events = append(events, e)
		if e.Kind == palm.EventDone {
			done = e
		}
	}
	return done, events
}
