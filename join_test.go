package overlay_test

import (
	"context"
	"time"

	overlay "github.com/ShaikAli65/PeerConnect-sub000"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/chunk"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/ShaikAli65/PeerConnect-sub000/mock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

func known(n *overlay.Node, id peer.ID) func() bool {
	return func() bool {
		_, ok := n.Directory.Get(id)
		return ok
	}
}

var _ = Describe("Join", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		nodes  []*overlay.Node
	)
	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 20*time.Second)
		nodes = nil
	})
	AfterEach(func() {
		cancel()
		for _, n := range nodes {
			Expect(n.Close()).To(Succeed())
		}
	})

	Describe("Presence", func() {
		var (
			datagrams *mock.Network
			streams   *mock.StreamNetwork
		)
		BeforeEach(func() {
			datagrams, streams = mock.NewNetwork(), mock.NewStreamNetwork()
		})
		open := func(id peer.ID, opts ...overlay.Option) *overlay.Node {
			n, err := overlay.Open("", append([]overlay.Option{
				overlay.WithID(id),
				overlay.WithTransport(mock.NewTransport(datagrams, streams)),
				overlay.MemBacked(),
				alwaysForward,
			}, opts...)...)
			Expect(err).ToNot(HaveOccurred())
			nodes = append(nodes, n)
			return n
		}

		It("Should add itself to its own directory", func() {
			n := open("seed")
			Expect(known(n, "seed")()).To(BeTrue())
		})

		It("Should spread a joining peer's record through the seed", func() {
			seed := open("seed")
			first := open("first", overlay.WithPeers(seed.Record()))
			Expect(first.Join(ctx)).To(Succeed())
			Eventually(known(seed, "first")).Should(BeTrue())
			r, _ := seed.Directory.Get("first")
			Expect(r).To(Equal(first.Record()))

			second := open("second", overlay.WithPeers(seed.Record()))
			Expect(second.Join(ctx)).To(Succeed())
			Eventually(known(seed, "second")).Should(BeTrue())
			Eventually(known(first, "second")).Should(BeTrue())
		})

		It("Should remove a peer that leaves", func() {
			seed := open("seed")
			member := open("member", overlay.WithPeers(seed.Record()))
			Expect(member.Join(ctx)).To(Succeed())
			Eventually(known(seed, "member")).Should(BeTrue())
			Expect(member.Leave(ctx)).To(Succeed())
			Eventually(known(seed, "member")).Should(BeFalse())
		})

		It("Should leave a read-only directory alone", func() {
			dir := readOnly{peer.NewStaticDirectory()}
			seed := open("seed", overlay.WithDirectory(dir))
			Expect(known(seed, "seed")()).To(BeFalse())
		})
	})

	Describe("Network", func() {
		open := func(opts ...overlay.Option) *overlay.Node {
			n, err := overlay.Open("localhost:0", append([]overlay.Option{
				overlay.MemBacked(),
				overlay.WithLogger(zap.NewNop()),
				alwaysForward,
				fastSessions,
			}, opts...)...)
			Expect(err).ToNot(HaveOccurred())
			nodes = append(nodes, n)
			return n
		}

		It("Should share one port between datagrams and streams", func() {
			n := open()
			r := n.Record()
			Expect(r.Control.Port()).ToNot(BeZero())
			Expect(r.Data.Port()).To(Equal(r.Control.Port()))
			Expect(r.ID).To(Equal(peer.ID(n.Addr)))
		})

		It("Should gossip and broadcast over UDP and gRPC", func() {
			a, b := open(), open()
			origin := open(overlay.WithPeers(a.Record(), b.Record()))

			sub := a.Subscribe("PRESENCE")
			_, err := origin.Gossip(ctx, "PRESENCE", wire.Body{"status": "away"})
			Expect(err).ToNot(HaveOccurred())
			Eventually(sub, 5*time.Second).Should(Receive())

			data := []byte("relayed over real sockets")
			m := chunk.NewMetadata(6, chunk.FileInfo{Name: "msg", Size: int64(len(data))})
			rep, err := origin.Broadcast(ctx, []peer.ID{a.ID, b.ID}, m, chunk.Split(data, 6))
			Expect(err).ToNot(HaveOccurred())
			Expect(rep.Undelivered).To(BeZero())
			for _, n := range []*overlay.Node{a, b} {
				t := receive(n)
				Expect(t.Err).ToNot(HaveOccurred())
				Expect(t.Sink.(*chunk.Buffer).Bytes()).To(Equal(data))
			}
		})
	})
})

// readOnly hides the mutating methods of a directory.
type readOnly struct{ dir *peer.StaticDirectory }

func (r readOnly) Get(id peer.ID) (peer.Record, bool) { return r.dir.Get(id) }

func (r readOnly) Peers() peer.Group { return r.dir.Peers() }
