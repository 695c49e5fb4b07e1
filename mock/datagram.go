package mock

import (
	"context"
	"sync"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
)

// Entry records a single datagram sent over a Network.
type Entry struct {
	From    address.Address
	To      address.Address
	Payload []byte
}

// Network is an in-memory datagram network. Datagrams sent to an address
// without a route are silently dropped, mirroring UDP.
type Network struct {
	mu      sync.RWMutex
	routes  map[address.Address]*Datagram
	entries []Entry
}

func NewNetwork() *Network {
	return &Network{routes: make(map[address.Address]*Datagram)}
}

// Route binds a new Datagram transport to addr. If addr is empty, a unique
// address is assigned.
func (n *Network) Route(addr address.Address) *Datagram {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		addr = address.Newf("localhost:%d", 10000+len(n.routes))
	}
	d := &Datagram{net: n, addr: addr}
	n.routes[addr] = d
	return d
}

// Drop removes the route for addr, making it unreachable.
func (n *Network) Drop(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.routes, addr)
}

// Entries returns a copy of every datagram sent so far.
func (n *Network) Entries() []Entry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]Entry(nil), n.entries...)
}

func (n *Network) send(from, to address.Address, payload []byte) {
	n.mu.Lock()
	n.entries = append(n.entries, Entry{From: from, To: to, Payload: payload})
	target, ok := n.routes[to]
	n.mu.Unlock()
	if ok {
		go target.deliver(from, payload)
	}
}

// Datagram implements transport.Datagram over a Network.
type Datagram struct {
	net     *Network
	addr    address.Address
	mu      sync.RWMutex
	handler transport.DatagramHandler
}

var _ transport.Datagram = (*Datagram)(nil)

// Send implements transport.Datagram.
func (d *Datagram) Send(ctx context.Context, to address.Address, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.net.send(d.addr, to, append([]byte(nil), payload...))
	return nil
}

// Handle implements transport.Datagram.
func (d *Datagram) Handle(handle transport.DatagramHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handle
}

// Address implements transport.Datagram.
func (d *Datagram) Address() address.Address { return d.addr }

func (d *Datagram) deliver(from address.Address, payload []byte) {
	d.mu.RLock()
	h := d.handler
	d.mu.RUnlock()
	if h != nil {
		h(context.Background(), from, payload)
	}
}
