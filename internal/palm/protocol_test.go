package palm_test

import (
	"context"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/palm"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func kinds(events []palm.Event, kind palm.EventKind) []peer.ID {
	var ids []peer.ID
	for _, e := range events {
		if e.Kind == kind {
			ids = append(ids, e.Peer)
		}
	}
	return ids
}

var _ = Describe("Protocol", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		c      *cluster
	)
	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 20*time.Second)
	})
	AfterEach(func() {
		cancel()
		c.close()
	})

	It("Should form a spanning tree over eight peers", func() {
		c = newCluster(8, palm.Config{}, false)
		p, err := palm.NewProtocol(c.nodes[0].registry, palm.Session{
			Fanout:          3,
			LinkWaitTimeout: 500 * time.Millisecond,
		}, c.ids()[1:])
		Expect(err).ToNot(HaveOccurred())
		done, events := run(ctx, p)
		Expect(done.Err).ToNot(HaveOccurred())
		Expect(kinds(events, palm.EventPeerConfirmed)).To(HaveLen(7))
		Expect(kinds(events, palm.EventPeerPruned)).To(BeEmpty())

		tree := done.Tree
		Expect(tree.Root).To(Equal(peer.ID("peer-0")))
		Expect(tree.Len()).To(Equal(8))
		Expect(tree.Validate()).To(Succeed())
		for _, n := range c.nodes[1:] {
			parent, ok := n.relay(p.Session().ID).Parent()
			Expect(ok).To(BeTrue())
			Expect(tree.Parents[n.id]).To(Equal(parent))
			Expect(p.Adjacency()[n.id]).To(ContainElement(parent))
		}
		for _, n := range c.nodes {
			r := n.relay(p.Session().ID)
			Expect(len(r.Children())).To(BeNumerically("<=", r.Session().Fanout))
		}
		Expect(p.Relay().State()).To(Equal(palm.StateTreeCheckDone))
	})

	It("Should prune peers that never answer the invite", func() {
		c = newCluster(9, palm.Config{}, false)
		silent := []peer.ID{c.nodes[3].id, c.nodes[6].id}
		c.net.Drop(c.nodes[3].control.Address())
		c.net.Drop(c.nodes[6].control.Address())
		p, err := palm.NewProtocol(c.nodes[0].registry, palm.Session{
			Fanout:          4,
			LinkWaitTimeout: 300 * time.Millisecond,
		}, c.ids()[1:])
		Expect(err).ToNot(HaveOccurred())
		done, events := run(ctx, p)
		Expect(done.Err).ToNot(HaveOccurred())
		Expect(kinds(events, palm.EventPeerPruned)).To(ConsistOf(silent[0], silent[1]))
		Expect(p.Confirmed()).To(HaveLen(7))

		adj := p.Adjacency()
		Expect(adj).To(HaveLen(7))
		for _, neighbors := range adj {
			Expect(neighbors).ToNot(ContainElements(silent[0]))
			Expect(neighbors).ToNot(ContainElements(silent[1]))
		}
		Expect(adj.Symmetric()).To(BeTrue())
		Expect(done.Tree.Len()).To(Equal(7))
		Expect(done.Tree.Missing(silent)).To(ConsistOf(silent[0], silent[1]))
		Expect(done.Tree.Validate()).To(Succeed())
		Expect(c.nodes[0].registry.Progress.Stats().PeersPruned).To(Equal(int64(2)))
	})

	It("Should deliver every frame to every peer, metadata first", func() {
		c = newCluster(8, palm.Config{}, true)
		p, err := palm.NewProtocol(c.nodes[0].registry, palm.Session{
			Fanout:          2,
			LinkWaitTimeout: 500 * time.Millisecond,
		}, c.ids()[1:])
		Expect(err).ToNot(HaveOccurred())
		done, _ := run(ctx, p)
		Expect(done.Err).ToNot(HaveOccurred())
		Expect(done.Tree.Len()).To(Equal(8))

		frames := [][]byte{[]byte("meta"), []byte("chunk-0"), []byte("chunk-1"), {}}
		for _, f := range frames {
			Expect(p.Relay().Forward(ctx, f)).To(Succeed())
		}
		p.Relay().Finish(ctx)
		for _, n := range c.nodes[1:] {
			Eventually(n.pumped, 5*time.Second).Should(Receive(BeNil()))
			Expect(n.received()).To(Equal(frames))
		}
		Expect(p.Relay().Children()).To(BeEmpty())
		Expect(c.nodes[0].registry.Progress.Stats().ChunksForwarded).To(BeNumerically(">=", 4))
	})
})
