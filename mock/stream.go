package mock

import (
	"context"
	"io"
	"sync"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
)

var ErrUnreachable = errors.New("[mock] - unreachable")

// StreamNetwork is an in-memory stream network. Links are synchronous: a Send
// completes only once the other end has received the frame.
type StreamNetwork struct {
	mu     sync.RWMutex
	routes map[address.Address]*Streams
	pipes  []livePipe
}

type livePipe struct {
	from, to address.Address
	p        *pipe
}

func NewStreamNetwork() *StreamNetwork {
	return &StreamNetwork{routes: make(map[address.Address]*Streams)}
}

// Route binds a new Streams transport to addr. If addr is empty, a unique
// address is assigned.
func (n *StreamNetwork) Route(addr address.Address) *Streams {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		addr = address.Newf("localhost:%d", 20000+len(n.routes))
	}
	s := &Streams{net: n, addr: addr}
	n.routes[addr] = s
	return s
}

// Drop removes the route for addr. Existing links are unaffected.
func (n *StreamNetwork) Drop(addr address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.routes, addr)
}

// Sever closes every link between a and b, in either direction.
func (n *StreamNetwork) Sever(a, b address.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.pipes[:0]
	for _, lp := range n.pipes {
		if (lp.from == a && lp.to == b) || (lp.from == b && lp.to == a) {
			lp.p.close()
			continue
		}
		kept = append(kept, lp)
	}
	n.pipes = kept
}

func (n *StreamNetwork) track(from, to address.Address, p *pipe) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pipes = append(n.pipes, livePipe{from: from, to: to, p: p})
}

func (n *StreamNetwork) route(addr address.Address) (*Streams, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.routes[addr]
	return s, ok
}

// Streams implements transport.Streams over a StreamNetwork.
type Streams struct {
	net     *StreamNetwork
	addr    address.Address
	mu      sync.RWMutex
	handler transport.StreamHandler
}

var _ transport.Streams = (*Streams)(nil)

// Dial implements transport.Streams.
func (s *Streams) Dial(ctx context.Context, to address.Address) (transport.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, ok := s.net.route(to)
	if !ok {
		return nil, errors.Wrapf(ErrUnreachable, "no route to %s", to)
	}
	target.mu.RLock()
	h := target.handler
	target.mu.RUnlock()
	if h == nil {
		return nil, errors.Wrapf(ErrUnreachable, "%s is not accepting streams", to)
	}
	local, remote := Pipe(s.addr, to)
	s.net.track(s.addr, to, local.(*end).pipe)
	go h(context.Background(), remote)
	return local, nil
}

// Handle implements transport.Streams.
func (s *Streams) Handle(handle transport.StreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handle
}

// Address implements transport.Streams.
func (s *Streams) Address() address.Address { return s.addr }

// |||||| PIPE ||||||

type pipe struct {
	once   sync.Once
	closed chan struct{}
}

func (p *pipe) close() { p.once.Do(func() { close(p.closed) }) }

type end struct {
	*pipe
	in     <-chan []byte
	out    chan<- []byte
	remote address.Address
}

// Pipe returns the two connected ends of a synchronous in-memory link. from
// is the address of the dialing end, to the address of the accepting end.
func Pipe(from, to address.Address) (transport.Stream, transport.Stream) {
	p := &pipe{closed: make(chan struct{})}
	ab, ba := make(chan []byte), make(chan []byte)
	return &end{pipe: p, in: ba, out: ab, remote: to}, &end{pipe: p, in: ab, out: ba, remote: from}
}

// Send implements transport.Stream.
func (e *end) Send(ctx context.Context, frame []byte) error {
	select {
	case <-e.closed:
		return transport.ErrClosed
	default:
	}
	select {
	case e.out <- append([]byte{}, frame...):
		return nil
	case <-e.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements transport.Stream.
func (e *end) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-e.in:
		return f, nil
	case <-e.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RemoteAddress implements transport.Stream.
func (e *end) RemoteAddress() address.Address { return e.remote }

// Close implements transport.Stream. Closing either end closes the link.
func (e *end) Close() error {
	e.close()
	return nil
}
