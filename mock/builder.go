package mock

import (
	"fmt"

	overlay "github.com/ShaikAli65/PeerConnect-sub000"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/cockroachdb/errors"
)

// Builder opens nodes on shared in-memory networks. Directories are fully
// meshed: every node it opens knows every other.
type Builder struct {
	DefaultOptions []overlay.Option
	Datagrams      *Network
	Streams        *StreamNetwork
	Nodes          []*overlay.Node
	dirs           []*peer.StaticDirectory
}

// NewMemBuilder returns a Builder whose nodes keep every file in memory.
func NewMemBuilder(defaultOpts ...overlay.Option) *Builder {
	return &Builder{
		DefaultOptions: append([]overlay.Option{overlay.MemBacked()}, defaultOpts...),
		Datagrams:      NewNetwork(),
		Streams:        NewStreamNetwork(),
	}
}

// New opens a node named peer-<n>, where n is the number of nodes opened
// before it.
func (b *Builder) New(opts ...overlay.Option) (*overlay.Node, error) {
	dir := peer.NewStaticDirectory()
	for _, n := range b.Nodes {
		dir.Add(n.Record())
	}
	base := []overlay.Option{
		overlay.WithID(peer.ID(fmt.Sprintf("peer-%d", len(b.Nodes)))),
		overlay.WithTransport(NewTransport(b.Datagrams, b.Streams)),
		overlay.WithDirectory(dir),
	}
	n, err := overlay.Open("", append(append(base, b.DefaultOptions...), opts...)...)
	if err != nil {
		return nil, err
	}
	for _, d := range b.dirs {
		d.Add(n.Record())
	}
	b.Nodes = append(b.Nodes, n)
	b.dirs = append(b.dirs, dir)
	return n, nil
}

// IDs returns the id of every node opened so far.
func (b *Builder) IDs() []peer.ID {
	ids := make([]peer.ID, len(b.Nodes))
	for i, n := range b.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Close closes every node.
func (b *Builder) Close() error {
	var err error
	for _, n := range b.Nodes {
		err = errors.CombineErrors(err, n.Close())
	}
	return err
}
