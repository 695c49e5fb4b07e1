package palm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Forward sends frame to every live child, at most Fanout at a time. A child
// that misses the link wait deadline is marked lagging and skipped for the
// next LagSkip frames. A child whose stream broke is redialled once. When no
// child accepts the frame the relay backs off for one link wait period and
// tries again, up to ForwardRetries times.
func (r *Relay) Forward(ctx context.Context, frame []byte) error {
	for attempt := 0; ; attempt++ {
		targets := r.forwardTargets(attempt > 0)
		if len(targets) == 0 {
			return nil
		}
		if n := r.forwardOnce(ctx, targets, frame); n > 0 {
			r.Progress.report(Event{Kind: EventChunkForwarded, Session: r.session.ID, Count: n})
			return nil
		}
		if r.ForwardRetries != RetryForever && attempt >= r.retries() {
			r.Progress.report(Event{Kind: EventForwardFailed, Session: r.session.ID})
			return errors.Wrapf(ErrForwardExhausted, "no child accepted frame after %d attempts", attempt+1)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.session.LinkWaitTimeout):
		}
	}
}

// forwardTargets returns the live children. Lagging children still owed a
// skip are left out unless the frame is being retried.
func (r *Relay) forwardTargets(retry bool) []*Link {
	r.mu.Lock()
	defer r.mu.Unlock()
	var targets []*Link
	for _, n := range r.neighbors {
		l, ok := r.active[n.ID]
		if !ok || l.Direction != DirectionOutgoing || !l.live() {
			continue
		}
		if l.Status == StatusLagging && l.skip > 0 && !retry {
			l.skip--
			continue
		}
		targets = append(targets, l)
	}
	return targets
}

func (r *Relay) forwardOnce(ctx context.Context, targets []*Link, frame []byte) int {
	r.mu.Lock()
	limit := r.session.Fanout
	r.mu.Unlock()
	if limit < 1 {
		limit = 1
	}
	var (
		delivered int64
		sem       = semaphore.NewWeighted(int64(limit))
		g         errgroup.Group
	)
	for _, l := range targets {
		l := l
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if r.sendFrame(ctx, l, frame) {
				atomic.AddInt64(&delivered, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered)
}

func (r *Relay) sendFrame(ctx context.Context, l *Link, frame []byte) bool {
	r.mu.Lock()
	conn := l.conn
	r.mu.Unlock()
	if conn == nil {
		return false
	}
	err := r.sendWithin(ctx, conn, frame)
	if err == nil {
		r.mu.Lock()
		if l.conn == conn && l.Status == StatusLagging {
			l.Status = StatusOnline
		}
		r.mu.Unlock()
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		r.mu.Lock()
		if l.conn == conn {
			l.Status = StatusLagging
			l.skip = r.LagSkip
		}
		r.mu.Unlock()
		r.Logger.Debug("child link lagging", zap.String("peer", string(l.PeerID)))
		r.Progress.report(Event{Kind: EventLinkLagging, Session: r.session.ID, Peer: l.PeerID})
		return false
	}
	r.Logger.Debug("child link broken, redialling", zap.String("peer", string(l.PeerID)), zap.Error(err))
	return r.redial(ctx, l, conn, frame)
}

// redial replaces a broken child stream and resends frame over the new one.
// The link goes offline if the child cannot be reached.
func (r *Relay) redial(ctx context.Context, l *Link, broken transport.Stream, frame []byte) bool {
	r.mu.Lock()
	if l.conn != broken || l.connecting {
		r.mu.Unlock()
		return false
	}
	l.connecting = true
	addr := l.Right
	r.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, r.session.LinkWaitTimeout)
	conn, err := r.dial(dctx, addr)
	cancel()

	r.mu.Lock()
	l.connecting = false
	if err != nil || r.closed || l.conn != broken {
		if err == nil {
			_ = conn.Close()
		}
		if l.conn == broken {
			_ = l.clear()
		}
		r.mu.Unlock()
		r.Logger.Debug("failed to redial child", zap.String("peer", string(l.PeerID)), zap.Error(err))
		return false
	}
	_ = l.adopt(conn, DirectionOutgoing)
	r.mu.Unlock()
	return r.sendWithin(ctx, conn, frame) == nil
}

func (r *Relay) sendWithin(ctx context.Context, conn transport.Stream, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.session.LinkWaitTimeout)
	defer cancel()
	return conn.Send(ctx, frame)
}

// Pump drives a non-root relay's data path. It waits for the parent link,
// then hands every frame from the parent to consume and forwards it to the
// children. The first frame is forwarded before it is consumed so the whole
// subtree holds it before data arrives. Pump returns nil once the empty
// end-of-stream frame has been relayed, and ErrNoParent if the relay never
// had or lost its parent.
func (r *Relay) Pump(ctx context.Context, consume func(ctx context.Context, frame []byte) error) error {
	if r.root {
		return errors.New("[palm] - the root relay has no parent to pump from")
	}
	r.mu.Lock()
	r.pumping = true
	r.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, r.ParentTimeout)
	parent, err := r.parent.wait(wctx)
	cancel()
	if err != nil {
		r.Finish(r.ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.Progress.report(Event{Kind: EventNoParent, Session: r.session.ID, Peer: r.Host})
		return errors.Wrapf(ErrNoParent, "no parent within %s", r.ParentTimeout)
	}
	defer r.Finish(r.ctx)

	for first := true; ; first = false {
		frame, err := r.receive(ctx, parent)
		if err != nil {
			if errors.Is(err, ErrNoParent) {
				r.Progress.report(Event{Kind: EventNoParent, Session: r.session.ID, Peer: r.Host})
			}
			return err
		}
		if first {
			r.relayFrame(ctx, frame)
		}
		if err := consume(ctx, frame); err != nil {
			return errors.Wrap(err, "[palm] - failed to consume frame")
		}
		if !first {
			r.relayFrame(ctx, frame)
		}
		if len(frame) == 0 {
			return nil
		}
	}
}

func (r *Relay) relayFrame(ctx context.Context, frame []byte) {
	if err := r.Forward(ctx, frame); err != nil {
		r.Logger.Debug("frame not relayed to children", zap.Error(err))
	}
}

// receive reads the next frame from the parent link. When the link breaks it
// waits for the parent to connect a replacement stream, for as long as the
// forward retry policy would keep the parent retrying.
func (r *Relay) receive(ctx context.Context, l *Link) ([]byte, error) {
	for {
		r.mu.Lock()
		conn := l.conn
		r.mu.Unlock()
		if conn != nil {
			frame, err := conn.Receive(ctx)
			if err == nil {
				return frame, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.Logger.Debug("parent link broken, awaiting replacement", zap.Error(err))
			r.mu.Lock()
			if l.conn == conn && l.Status == StatusOnline {
				l.Status = StatusLagging
			}
			r.mu.Unlock()
		}
		if err := r.awaitReplacement(ctx); err != nil {
			r.mu.Lock()
			if l.conn == conn {
				_ = l.clear()
			}
			r.mu.Unlock()
			return nil, err
		}
	}
}

func (r *Relay) awaitReplacement(ctx context.Context) error {
	var expired <-chan time.Time
	if r.ForwardRetries != RetryForever {
		t := time.NewTimer(r.recoveryWindow())
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-r.replaced:
		return nil
	case <-expired:
		return errors.Wrapf(ErrNoParent, "parent link not replaced within %s", r.recoveryWindow())
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrSessionClosed
	}
}

func (r *Relay) recoveryWindow() time.Duration {
	return r.session.LinkWaitTimeout * time.Duration(r.retries()+1)
}
