package palm_test

import (
	"fmt"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/palm"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func peerIDs(n int) []peer.ID {
	ids := make([]peer.ID, n)
	for i := range ids {
		ids[i] = peer.ID(fmt.Sprintf("p%d", i))
	}
	return ids
}

var _ = Describe("Hypercube", func() {
	It("Should place eight peers on a three dimensional cube", func() {
		ids := peerIDs(8)
		adj := palm.Hypercube(ids)
		Expect(palm.Dimensions(8)).To(Equal(3))
		Expect(adj["p0"]).To(ConsistOf(peer.ID("p1"), peer.ID("p2"), peer.ID("p4")))
		Expect(adj["p5"]).To(ConsistOf(peer.ID("p4"), peer.ID("p7"), peer.ID("p1")))
		for _, id := range ids {
			Expect(adj[id]).To(HaveLen(3))
		}
	})
	It("Should skip corners past the last peer", func() {
		adj := palm.Hypercube(peerIDs(5))
		Expect(palm.Dimensions(5)).To(Equal(3))
		Expect(adj["p4"]).To(ConsistOf(peer.ID("p0")))
		Expect(adj["p1"]).To(ConsistOf(peer.ID("p0"), peer.ID("p3")))
	})
	It("Should handle a lone originator", func() {
		adj := palm.Hypercube(peerIDs(1))
		Expect(adj["p0"]).To(BeEmpty())
	})
	DescribeTable("Should produce a symmetric adjacency", func(n int) {
		Expect(palm.Hypercube(peerIDs(n)).Symmetric()).To(BeTrue())
	},
		Entry("2 peers", 2),
		Entry("7 peers", 7),
		Entry("9 peers", 9),
		Entry("16 peers", 16),
		Entry("33 peers", 33),
	)
	It("Should remove pruned peers from every neighbor list", func() {
		adj := palm.Hypercube(peerIDs(9))
		adj.Prune("p3", "p6")
		Expect(adj).ToNot(HaveKey(peer.ID("p3")))
		Expect(adj).ToNot(HaveKey(peer.ID("p6")))
		for _, neighbors := range adj {
			Expect(neighbors).ToNot(ContainElement(peer.ID("p3")))
			Expect(neighbors).ToNot(ContainElement(peer.ID("p6")))
		}
		Expect(adj.Symmetric()).To(BeTrue())
	})
})

var _ = Describe("Tree", func() {
	It("Should validate a tree rooted at the originator", func() {
		t := palm.NewTree("p0")
		t.Add("p1", "p0", 1)
		t.Add("p2", "p1", 2)
		Expect(t.Validate()).To(Succeed())
		Expect(t.Len()).To(Equal(3))
		Expect(t.Children("p0")).To(Equal([]peer.ID{"p1"}))
		Expect(t.Missing([]peer.ID{"p0", "p2", "p3"})).To(Equal([]peer.ID{"p3"}))
	})
	It("Should reject a parent outside the tree", func() {
		t := palm.NewTree("p0")
		t.Add("p1", "p9", 1)
		Expect(t.Validate()).To(HaveOccurred())
	})
	It("Should reject a cycle", func() {
		t := palm.NewTree("p0")
		t.Add("p1", "p2", 1)
		t.Add("p2", "p1", 2)
		Expect(t.Validate()).To(HaveOccurred())
	})
})
