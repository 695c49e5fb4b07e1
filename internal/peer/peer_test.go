package peer_test

import (
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Group", func() {
	It("Should exclude the given ids", func() {
		g := peer.Group{"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"}}
		Expect(g.WhereNot("a", "c").IDs()).To(Equal([]peer.ID{"b"}))
		Expect(g).To(HaveLen(3))
	})
})

var _ = Describe("StaticDirectory", func() {
	It("Should return a copy of the known peers", func() {
		d := peer.NewStaticDirectory(peer.Record{ID: "a", Control: "localhost:1"})
		peers := d.Peers()
		delete(peers, "a")
		r, ok := d.Get("a")
		Expect(ok).To(BeTrue())
		Expect(r.Control.String()).To(Equal("localhost:1"))
	})
	It("Should reflect removals on the next enumeration", func() {
		d := peer.NewStaticDirectory(peer.Record{ID: "a"}, peer.Record{ID: "b"})
		d.Remove("a")
		Expect(d.Peers().IDs()).To(Equal([]peer.ID{"b"}))
		_, ok := d.Get("a")
		Expect(ok).To(BeFalse())
	})
})
