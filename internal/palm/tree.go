package palm

import (
	"sort"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/cockroachdb/errors"
)

// Tree is the realized shape of a session's spanning tree as reported by a
// gather.
type Tree struct {
	Root    peer.ID
	Parents map[peer.ID]peer.ID
	Depths  map[peer.ID]int
}

func NewTree(root peer.ID) *Tree {
	return &Tree{
		Root:    root,
		Parents: map[peer.ID]peer.ID{},
		Depths:  map[peer.ID]int{root: 0},
	}
}

// Add records that id sits at depth below parent. The root's parent is
// ignored.
func (t *Tree) Add(id, parent peer.ID, depth int) {
	if id == t.Root {
		return
	}
	t.Parents[id] = parent
	t.Depths[id] = depth
}

// Len returns the number of peers in the tree, root included.
func (t *Tree) Len() int { return len(t.Depths) }

func (t *Tree) Contains(id peer.ID) bool {
	_, ok := t.Depths[id]
	return ok
}

func (t *Tree) Children(id peer.ID) []peer.ID {
	var ids []peer.ID
	for child, parent := range t.Parents {
		if parent == id {
			ids = append(ids, child)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Missing returns the ids absent from the tree.
func (t *Tree) Missing(ids []peer.ID) []peer.ID {
	var missing []peer.ID
	for _, id := range ids {
		if !t.Contains(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

// Validate checks that every peer other than the root has exactly one parent
// inside the tree and that following parents always reaches the root.
func (t *Tree) Validate() error {
	for id, parent := range t.Parents {
		if parent == "" {
			return errors.Newf("[palm] - %s has no parent", id)
		}
		if !t.Contains(parent) {
			return errors.Newf("[palm] - parent %s of %s is not in the tree", parent, id)
		}
	}
	for id := range t.Parents {
		cur := id
		for steps := 0; cur != t.Root; steps++ {
			if steps > len(t.Parents) {
				return errors.Newf("[palm] - cycle through %s", id)
			}
			cur = t.Parents[cur]
		}
	}
	return nil
}
