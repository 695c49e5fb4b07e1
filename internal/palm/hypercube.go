package palm

import (
	"math/bits"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
)

// Adjacency maps every participant to the participants it may form a tree
// edge with.
type Adjacency map[peer.ID][]peer.ID

// Dimensions returns the dimension of the smallest hypercube holding count
// participants.
func Dimensions(count int) int {
	if count <= 1 {
		return 0
	}
	return bits.Len(uint(count - 1))
}

// Hypercube lays peers out on the corners of a hypercube in order, with
// peers[0] (the originator) at corner 0. Two peers are adjacent when their
// indices differ in exactly one bit. Corners past len(peers) are empty.
func Hypercube(peers []peer.ID) Adjacency {
	adj := make(Adjacency, len(peers))
	dims := Dimensions(len(peers))
	for i, id := range peers {
		adj[id] = make([]peer.ID, 0, dims)
		for j := 0; j < dims; j++ {
			if k := i ^ (1 << j); k < len(peers) {
				adj[id] = append(adj[id], peers[k])
			}
		}
	}
	return adj
}

// Prune removes ids and every edge touching them.
func (a Adjacency) Prune(ids ...peer.ID) {
	drop := make(map[peer.ID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(a, id)
	}
	for id, neighbors := range a {
		kept := neighbors[:0]
		for _, n := range neighbors {
			if _, ok := drop[n]; !ok {
				kept = append(kept, n)
			}
		}
		a[id] = kept
	}
}

// Symmetric reports whether every edge appears in both directions.
func (a Adjacency) Symmetric() bool {
	for id, neighbors := range a {
		for _, n := range neighbors {
			found := false
			for _, back := range a[n] {
				if back == id {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}
