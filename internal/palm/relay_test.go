package palm_test

import (
	"context"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/palm"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testSession(wait time.Duration, fanout int) palm.Session {
	s := palm.NewSession("peer-0")
	s.Fanout = fanout
	s.LinkWaitTimeout = wait
	return s
}

// open opens s on n with the given neighbors installed.
func open(n *node, s palm.Session, root bool, neighbors ...*node) *palm.Relay {
	r, err := n.registry.Open(s, root)
	Expect(err).ToNot(HaveOccurred())
	ns := make([]palm.Neighbor, len(neighbors))
	for i, nb := range neighbors {
		ns[i] = nb.neighbor()
	}
	Expect(r.UpdateState(ns)).To(Succeed())
	return r
}

var _ = Describe("Relay", func() {
	var (
		ctx context.Context
		c   *cluster
	)
	BeforeEach(func() { ctx = context.Background() })
	AfterEach(func() { c.close() })

	Describe("State", func() {
		BeforeEach(func() { c = newCluster(3, palm.Config{}, false) })
		It("Should clamp fanout to the number of neighbors", func() {
			r := open(c.nodes[1], testSession(time.Second, 3), false, c.nodes[0])
			Expect(r.State()).To(Equal(palm.StateLinksInitialized))
			Expect(r.Session().Fanout).To(Equal(1))
			Expect(r.Session().AdjacentPeers).To(Equal([]peer.ID{"peer-0"}))
			l, ok := r.Link("peer-0")
			Expect(ok).To(BeTrue())
			Expect(l.Type).To(Equal(palm.LinkActive))
			Expect(l.Status).To(Equal(palm.StatusOffline))
			Expect(l.Right).To(Equal(c.nodes[0].streams.Address()))
		})
		It("Should reject a second state update as stale", func() {
			r := open(c.nodes[1], testSession(time.Second, 3), false, c.nodes[0])
			Expect(r.UpdateState(nil)).To(MatchError(palm.ErrStaleState))
		})
		It("Should reject a tree check from an unknown peer", func() {
			s := testSession(time.Second, 3)
			r := open(c.nodes[1], s, false, c.nodes[0])
			Expect(r.TreeCheck(ctx, wire.Packet{
				Header:    wire.HeaderTreeCheck,
				SessionID: s.ID,
				PeerID:    "peer-2",
			})).To(Succeed())
			Expect(c.nodes[1].registry.Progress.Stats().TreeRejects).To(Equal(int64(1)))
			_, ok := r.Parent()
			Expect(ok).To(BeFalse())
		})
		It("Should give up on a parent that never connects", func() {
			s := testSession(100*time.Millisecond, 3)
			r := open(c.nodes[1], s, false, c.nodes[0])
			err := r.TreeCheck(ctx, wire.Packet{Header: wire.HeaderTreeCheck, SessionID: s.ID, PeerID: "peer-0"})
			Expect(err).To(MatchError(palm.ErrConnectionRefused))
			Expect(r.State()).To(Equal(palm.StateLinksInitialized))
		})
	})

	Describe("Parent race", func() {
		It("Should accept exactly one parent when offers arrive together", func() {
			c = newCluster(5, palm.Config{}, false)
			s := testSession(500*time.Millisecond, 1)
			target := open(c.nodes[0], s, false, c.nodes[1], c.nodes[2], c.nodes[3], c.nodes[4])
			offerers := make([]*palm.Relay, 0, 4)
			for _, n := range c.nodes[1:] {
				offerers = append(offerers, open(n, s, true, c.nodes[0]))
			}
			for _, o := range offerers {
				o := o
				go func() {
					defer GinkgoRecover()
					Expect(o.Trigger(ctx)).To(Succeed())
				}()
			}
			Eventually(func() bool { _, ok := target.Parent(); return ok }).Should(BeTrue())
			parent, _ := target.Parent()
			Consistently(func() int {
				adopted := 0
				for _, o := range offerers {
					adopted += len(o.Children())
				}
				return adopted
			}, time.Second).Should(BeNumerically("<=", 1))
			Eventually(func() []peer.ID {
				var ids []peer.ID
				for i, o := range offerers {
					if len(o.Children()) == 1 {
						ids = append(ids, c.nodes[i+1].id)
					}
				}
				return ids
			}).Should(Equal([]peer.ID{parent}))
			Expect(target.State()).To(Equal(palm.StateTreeCheckDone))
		})
	})

	Describe("Fanout", func() {
		It("Should never hold more children than its fanout", func() {
			c = newCluster(6, palm.Config{}, false)
			s := testSession(500*time.Millisecond, 2)
			root := open(c.nodes[0], s, true, c.nodes[1], c.nodes[2], c.nodes[3], c.nodes[4], c.nodes[5])
			for _, n := range c.nodes[1:] {
				open(n, s, false, c.nodes[0])
			}
			Expect(root.Trigger(ctx)).To(Succeed())
			Eventually(root.Children).Should(HaveLen(2))
			Expect(root.PassiveOnly()).To(HaveLen(3))
			Expect(root.UpgradeConnection(ctx, wire.Packet{
				Header:    wire.HeaderUpgradeConn,
				SessionID: s.ID,
				PeerID:    "peer-5",
				Body:      wire.Body{"active_addr": c.nodes[5].streams.Address().String()},
			})).To(Succeed())
			Consistently(root.Children, 300*time.Millisecond).Should(HaveLen(2))
		})
	})

	Describe("Tree reject", func() {
		It("Should offer the freed slot to the next neighbor when an offer is rejected", func() {
			c = newCluster(3, palm.Config{}, false)
			s := testSession(500*time.Millisecond, 1)
			root := open(c.nodes[0], s, true, c.nodes[1], c.nodes[2])
			// peer-1 does not know the root and turns its offer down.
			open(c.nodes[1], s, false, c.nodes[2])
			open(c.nodes[2], s, false, c.nodes[0])
			Expect(root.Trigger(ctx)).To(Succeed())
			Eventually(root.Children).Should(Equal([]peer.ID{"peer-2"}))
			Expect(c.nodes[1].registry.Progress.Stats().TreeRejects).To(Equal(int64(1)))
			Expect(root.PassiveOnly()).To(ContainElement(peer.ID("peer-1")))
		})

		It("Should withdraw an unanswered offer and offer the next neighbor", func() {
			c = newCluster(3, palm.Config{}, false)
			wait := 150 * time.Millisecond
			s := testSession(wait, 1)
			root := open(c.nodes[0], s, true, c.nodes[1], c.nodes[2])
			// peer-1 was never invited, so its offer goes unanswered.
			open(c.nodes[2], s, false, c.nodes[0])
			Expect(root.Trigger(ctx)).To(Succeed())
			Consistently(root.Children, wait).Should(BeEmpty())
			Eventually(root.Children, 4*wait).Should(Equal([]peer.ID{"peer-2"}))
			Expect(root.PassiveOnly()).To(ContainElement(peer.ID("peer-1")))
		})
	})

	Describe("Forward", func() {
		var (
			s     palm.Session
			root  *palm.Relay
			wait  = 200 * time.Millisecond
			ready = func(n *node) *palm.Relay { return n.relay(s.ID) }
		)
		formPair := func(children ...*node) {
			s = testSession(wait, len(children))
			root = open(c.nodes[0], s, true, children...)
			for _, n := range children {
				open(n, s, false, c.nodes[0])
			}
			Expect(root.Trigger(ctx)).To(Succeed())
			Eventually(root.Children).Should(HaveLen(len(children)))
		}

		It("Should mark a child that misses the deadline as lagging and skip it once", func() {
			c = newCluster(3, palm.Config{}, false)
			formPair(c.nodes[1], c.nodes[2])
			fast := ready(c.nodes[1])
			go func() { c.nodes[1].pumped <- fast.Pump(ctx, c.nodes[1].consume) }()

			Expect(root.Forward(ctx, []byte("meta"))).To(Succeed())
			slow, _ := root.Link("peer-2")
			Expect(slow.Status).To(Equal(palm.StatusLagging))
			Eventually(c.nodes[1].received).Should(HaveLen(1))

			start := time.Now()
			Expect(root.Forward(ctx, []byte("a"))).To(Succeed())
			Expect(time.Since(start)).To(BeNumerically("<", wait))
			Eventually(c.nodes[1].received).Should(HaveLen(2))

			Expect(root.Forward(ctx, []byte("b"))).To(Succeed())
			Eventually(c.nodes[1].received).Should(Equal([][]byte{[]byte("meta"), []byte("a"), []byte("b")}))
			Expect(c.nodes[0].registry.Progress.Stats().LinksLagging).To(Equal(int64(2)))
		})

		It("Should give up on a frame no child accepts", func() {
			c = newCluster(2, palm.Config{ForwardRetries: 1}, false)
			formPair(c.nodes[1])
			err := root.Forward(ctx, []byte("meta"))
			Expect(err).To(MatchError(palm.ErrForwardExhausted))
			Expect(c.nodes[0].registry.Progress.Stats().ForwardFailures).To(Equal(int64(1)))
		})

		It("Should give up after a single attempt when retries are disabled", func() {
			c = newCluster(2, palm.Config{ForwardRetries: palm.NoRetry}, false)
			formPair(c.nodes[1])
			start := time.Now()
			err := root.Forward(ctx, []byte("meta"))
			Expect(err).To(MatchError(palm.ErrForwardExhausted))
			Expect(err.Error()).To(ContainSubstring("after 1 attempts"))
			Expect(time.Since(start)).To(BeNumerically("<", 2*wait))
		})

		It("Should adopt a replacement parent stream and keep relaying", func() {
			c = newCluster(2, palm.Config{}, false)
			formPair(c.nodes[1])
			child := ready(c.nodes[1])
			go func() { c.nodes[1].pumped <- child.Pump(ctx, c.nodes[1].consume) }()
			before, _ := root.Link("peer-1")

			Expect(root.Forward(ctx, []byte("meta"))).To(Succeed())
			Eventually(c.nodes[1].received).Should(HaveLen(1))

			c.streams.Sever(c.nodes[0].streams.Address(), c.nodes[1].streams.Address())
			Expect(root.Forward(ctx, []byte("a"))).To(Succeed())
			Eventually(c.nodes[1].received).Should(HaveLen(2))

			after, _ := root.Link("peer-1")
			Expect(after.ID).To(Equal(before.ID))
			Expect(after.Status).To(Equal(palm.StatusOnline))
			parent, ok := child.Parent()
			Expect(ok).To(BeTrue())
			Expect(parent).To(Equal(peer.ID("peer-0")))

			Expect(root.Forward(ctx, []byte{})).To(Succeed())
			Eventually(c.nodes[1].pumped).Should(Receive(BeNil()))
			Expect(c.nodes[1].received()).To(Equal([][]byte{[]byte("meta"), []byte("a"), {}}))
		})

		It("Should release children and their parent link once the stream ends", func() {
			c = newCluster(2, palm.Config{}, false)
			formPair(c.nodes[1])
			child := ready(c.nodes[1])
			go func() { c.nodes[1].pumped <- child.Pump(ctx, c.nodes[1].consume) }()
			Expect(root.Forward(ctx, []byte("meta"))).To(Succeed())
			Expect(root.Forward(ctx, []byte{})).To(Succeed())
			root.Finish(ctx)
			Expect(root.Children()).To(BeEmpty())
			Eventually(c.nodes[1].pumped).Should(Receive(BeNil()))
			Eventually(func() bool { _, ok := child.Link("peer-0"); return ok }).Should(BeFalse())
			Expect(child.PassiveOnly()).To(ContainElement(peer.ID("peer-0")))
		})
	})
})
