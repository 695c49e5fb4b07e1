// Package udp implements transport.Datagram over a UDP socket.
package udp

import (
	"context"
	"net"
	"sync"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const maxDatagramSize = 64 << 10

type Transport struct {
	conn    net.PacketConn
	logger  *zap.Logger
	mu      sync.RWMutex
	handler transport.DatagramHandler
}

var _ transport.Datagram = (*Transport)(nil)

// Listen binds a UDP socket on addr. Call Serve to start dispatching
// inbound datagrams to the registered handler.
func Listen(addr address.Address, logger *zap.Logger) (*Transport, error) {
	conn, err := net.ListenPacket("udp", addr.String())
	if err != nil {
		return nil, errors.Wrapf(err, "[udp] - failed to listen on %s", addr)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{conn: conn, logger: logger.Named("udp")}, nil
}

// Send implements transport.Datagram.
func (t *Transport) Send(ctx context.Context, to address.Address, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", to.String())
	if err != nil {
		return errors.Wrapf(err, "[udp] - failed to resolve %s", to)
	}
	_, err = t.conn.WriteTo(payload, udpAddr)
	return err
}

// Handle implements transport.Datagram.
func (t *Transport) Handle(handle transport.DatagramHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handle
}

// Address implements transport.Datagram.
func (t *Transport) Address() address.Address { return address.FromNet(t.conn.LocalAddr()) }

// Serve reads datagrams until ctx is cancelled, handing each one to the
// handler on its own goroutine.
func (t *Transport) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = t.conn.Close()
	}()
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := t.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "[udp] - read failed")
		}
		t.mu.RLock()
		h := t.handler
		t.mu.RUnlock()
		if h == nil {
			t.logger.Debug("dropping datagram, no handler", zap.Stringer("from", from))
			continue
		}
		payload := append([]byte(nil), buf[:n]...)
		go h(ctx, address.FromNet(from), payload)
	}
}

func (t *Transport) Close() error { return t.conn.Close() }
