// Package grpc implements transport.Streams as a bidirectional gRPC stream
// per link. Frames travel as wrapperspb.BytesValue messages, so no generated
// service code is required.
package grpc

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName = "peerconnect.overlay.v1.RelayService"
	linkMethod  = "/" + serviceName + "/Link"
)

type linkServer interface {
	Link(stream grpc.ServerStream) error
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*linkServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Link",
			Handler:       func(srv interface{}, stream grpc.ServerStream) error { return srv.(linkServer).Link(stream) },
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "overlay/v1/relay.proto",
}

// |||||| TRANSPORT ||||||

type Transport struct {
	lis     net.Listener
	server  *grpc.Server
	logger  *zap.Logger
	mu      sync.RWMutex
	handler transport.StreamHandler
}

var _ transport.Streams = (*Transport)(nil)

// Listen binds a TCP listener on addr and registers the relay service. Call
// Serve to begin accepting links.
func Listen(addr address.Address, logger *zap.Logger) (*Transport, error) {
	lis, err := net.Listen("tcp", addr.String())
	if err != nil {
		return nil, errors.Wrapf(err, "[grpc] - failed to listen on %s", addr)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{lis: lis, server: grpc.NewServer(), logger: logger.Named("grpc")}
	t.server.RegisterService(&relayServiceDesc, t)
	return t, nil
}

// Serve accepts links until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.server.Stop()
	}()
	if err := t.server.Serve(t.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "[grpc] - serve failed")
	}
	return nil
}

// Address implements transport.Streams.
func (t *Transport) Address() address.Address { return address.FromNet(t.lis.Addr()) }

// Handle implements transport.Streams.
func (t *Transport) Handle(handle transport.StreamHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handle
}

// Dial implements transport.Streams.
func (t *Transport) Dial(ctx context.Context, to address.Address) (transport.Stream, error) {
	conn, err := grpc.DialContext(ctx, to.String(), grpc.WithInsecure(), grpc.WithBlock())
	if err != nil {
		return nil, errors.Wrapf(err, "[grpc] - failed to dial %s", to)
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	cs, err := conn.NewStream(streamCtx, &relayServiceDesc.Streams[0], linkMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "[grpc] - failed to open link to %s", to)
	}
	s := &clientStream{
		stream: newStream(cs, to),
		cs:     cs,
		conn:   conn,
		cancel: cancel,
	}
	return s, nil
}

// Link serves one inbound link. It returns once either end closes it.
func (t *Transport) Link(ss grpc.ServerStream) error {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()
	if h == nil {
		return status.Error(codes.Unavailable, "not accepting links")
	}
	var remote address.Address
	if p, ok := peer.FromContext(ss.Context()); ok {
		remote = address.FromNet(p.Addr)
	}
	s := newStream(ss, remote)
	h(ss.Context(), s)
	select {
	case <-s.done:
	case <-ss.Context().Done():
	}
	return nil
}

// |||||| STREAM ||||||

type msgStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

type stream struct {
	ms      msgStream
	remote  address.Address
	frames  chan []byte
	writes  chan outbound
	recvErr error
	once    sync.Once
	done    chan struct{}
	exited  chan struct{}
	flushed chan struct{}
}

// outbound is a frame handed to the stream's writer. errC is buffered so the
// writer never blocks on a sender that gave up.
type outbound struct {
	ctx   context.Context
	frame []byte
	errC  chan error
}

func newStream(ms msgStream, remote address.Address) *stream {
	s := &stream{
		ms:      ms,
		remote:  remote,
		frames:  make(chan []byte),
		writes:  make(chan outbound),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		flushed: make(chan struct{}),
	}
	go s.read()
	go s.write()
	return s
}

func (s *stream) read() {
	defer close(s.exited)
	defer close(s.frames)
	for {
		m := &wrapperspb.BytesValue{}
		if err := s.ms.RecvMsg(m); err != nil {
			if status.Code(err) == codes.Canceled {
				err = io.EOF
			}
			s.recvErr = err
			return
		}
		select {
		case s.frames <- m.Value:
		case <-s.done:
			s.recvErr = io.EOF
			return
		}
	}
}

// write is the only caller of SendMsg. Frames go out in the order they were
// handed over; a frame whose sender gave up before the handover is dropped.
func (s *stream) write() {
	defer close(s.flushed)
	for {
		select {
		case <-s.done:
			return
		case w := <-s.writes:
			if err := w.ctx.Err(); err != nil {
				w.errC <- err
				continue
			}
			w.errC <- s.ms.SendMsg(&wrapperspb.BytesValue{Value: w.frame})
		}
	}
}

// Send implements transport.Stream.
func (s *stream) Send(ctx context.Context, frame []byte) error {
	w := outbound{ctx: ctx, frame: frame, errC: make(chan error, 1)}
	select {
	case <-s.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.writes <- w:
	}
	select {
	case err := <-w.errC:
		return err
	case <-s.flushed:
		select {
		case err := <-w.errC:
			return err
		default:
			return transport.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements transport.Stream.
func (s *stream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, s.recvErr
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RemoteAddress implements transport.Stream.
func (s *stream) RemoteAddress() address.Address { return s.remote }

// Close implements transport.Stream.
func (s *stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type clientStream struct {
	*stream
	cs     grpc.ClientStream
	conn   *grpc.ClientConn
	cancel context.CancelFunc
}

// closeGrace bounds how long a closed client link keeps its connection open
// for the server to drain the frames already sent.
const closeGrace = time.Second

// Close implements transport.Stream. It returns at once; the link is torn
// down in the background within closeGrace.
func (c *clientStream) Close() error {
	c.once.Do(func() {
		close(c.done)
		go c.shutdown()
	})
	return nil
}

func (c *clientStream) shutdown() {
	t := time.NewTimer(closeGrace)
	defer t.Stop()
	select {
	case <-c.flushed:
		// The writer has exited, so CloseSend cannot race a SendMsg.
		_ = c.cs.CloseSend()
		select {
		case <-c.exited:
		case <-t.C:
		}
	case <-t.C:
	}
	c.cancel()
	_ = c.conn.Close()
}
