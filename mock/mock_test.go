package mock_test

import (
	"context"
	"io"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/mock"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Network", func() {
	It("Should deliver a datagram to the routed handler", func() {
		net := mock.NewNetwork()
		t1, t2 := net.Route(""), net.Route("")
		received := make(chan address.Address, 1)
		t2.Handle(func(_ context.Context, from address.Address, payload []byte) {
			Expect(payload).To(Equal([]byte("hello")))
			received <- from
		})
		Expect(t1.Send(context.Background(), t2.Address(), []byte("hello"))).To(Succeed())
		Eventually(received).Should(Receive(Equal(t1.Address())))
		Expect(net.Entries()).To(HaveLen(1))
	})
	It("Should silently drop datagrams to an unrouted address", func() {
		net := mock.NewNetwork()
		t1 := net.Route("")
		Expect(t1.Send(context.Background(), "localhost:1", []byte("x"))).To(Succeed())
	})
})

var _ = Describe("StreamNetwork", func() {
	It("Should pass frames between the dialing and accepting ends", func() {
		net := mock.NewStreamNetwork()
		s1, s2 := net.Route(""), net.Route("")
		accepted := make(chan transport.Stream, 1)
		s2.Handle(func(_ context.Context, s transport.Stream) { accepted <- s })
		ctx := context.Background()
		local, err := s1.Dial(ctx, s2.Address())
		Expect(err).ToNot(HaveOccurred())
		var remote transport.Stream
		Eventually(accepted).Should(Receive(&remote))
		go func() { defer GinkgoRecover(); Expect(local.Send(ctx, []byte("frame"))).To(Succeed()) }()
		f, err := remote.Receive(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(f).To(Equal([]byte("frame")))
		Expect(remote.RemoteAddress()).To(Equal(s1.Address()))
	})
	It("Should time out a send nobody receives", func() {
		local, _ := mock.Pipe("a", "b")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		Expect(local.Send(ctx, []byte("x"))).To(MatchError(context.DeadlineExceeded))
	})
	It("Should return EOF once the link is closed", func() {
		local, remote := mock.Pipe("a", "b")
		Expect(local.Close()).To(Succeed())
		_, err := remote.Receive(context.Background())
		Expect(err).To(Equal(io.EOF))
		err = remote.Send(context.Background(), nil)
		Expect(err).To(MatchError(transport.ErrClosed))
		Expect(err.Error()).To(HavePrefix("[transport] - "))
	})
	It("Should refuse to dial an address without a handler", func() {
		net := mock.NewStreamNetwork()
		s1, s2 := net.Route(""), net.Route("")
		_, err := s1.Dial(context.Background(), s2.Address())
		Expect(err).To(HaveOccurred())
	})
	It("Should close severed links on both ends", func() {
		net := mock.NewStreamNetwork()
		s1, s2 := net.Route(""), net.Route("")
		accepted := make(chan transport.Stream, 1)
		s2.Handle(func(_ context.Context, s transport.Stream) { accepted <- s })
		local, err := s1.Dial(context.Background(), s2.Address())
		Expect(err).ToNot(HaveOccurred())
		var remote transport.Stream
		Eventually(accepted).Should(Receive(&remote))
		net.Sever(s2.Address(), s1.Address())
		_, err = remote.Receive(context.Background())
		Expect(err).To(Equal(io.EOF))
		Expect(local.Send(context.Background(), nil)).To(MatchError(transport.ErrClosed))
	})
})
