package palm

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/internal/wire"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the position of a relay in tree formation. States only move
// forward.
type State uint8

const (
	StateInitial State = iota
	StateSessionInit
	StateLinksInitialized
	StateTreeCheckDone
)

func (s State) String() string {
	switch s {
	case StateSessionInit:
		return "session_init"
	case StateLinksInitialized:
		return "links_initialized"
	case StateTreeCheckDone:
		return "tree_check_done"
	default:
		return "initial"
	}
}

// Neighbor is a participant adjacent to a relay in the candidate topology.
type Neighbor struct {
	ID      peer.ID
	Passive address.Address
	Active  address.Address
}

func (n Neighbor) body() wire.Body {
	return wire.Body{
		"peer_id":      string(n.ID),
		"passive_addr": n.Passive.String(),
		"active_addr":  n.Active.String(),
	}
}

func neighborFromBody(b wire.Body) Neighbor {
	return Neighbor{
		ID:      peer.ID(b.String("peer_id")),
		Passive: address.Address(b.String("passive_addr")),
		Active:  address.Address(b.String("active_addr")),
	}
}

// Relay is one peer's participant in a session's spanning tree. It holds one
// active and one passive link per neighbor, accepts exactly one parent, and
// relays data from the parent to at most Fanout children.
type Relay struct {
	Config
	root   bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	parent *parentFuture
	// replaced is signalled when the parent link adopts a replacement stream.
	replaced chan struct{}

	mu          sync.Mutex
	session     Session
	state       State
	closed      bool
	neighbors   []Neighbor
	active      map[peer.ID]*Link
	passive     map[peer.ID]*Link
	nextLinkID  uint64
	window      int
	forming     bool
	parentID    peer.ID
	offered     mapset.Set[peer.ID]
	candidates  mapset.Set[peer.ID]
	passiveOnly mapset.Set[peer.ID]
	gathered    mapset.Set[string]
	pumping     bool
	// releasePending is set when the parent releases this relay while it is
	// still reading from the parent link.
	releasePending bool
}

func newRelay(cfg Config, s Session, root bool) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	cfg.Logger = cfg.Logger.With(zap.String("session", s.ID))
	r := &Relay{
		Config:      cfg,
		root:        root,
		ctx:         ctx,
		cancel:      cancel,
		parent:      newParentFuture(),
		replaced:    make(chan struct{}, 1),
		session:     s,
		active:      make(map[peer.ID]*Link),
		passive:     make(map[peer.ID]*Link),
		offered:     mapset.NewSet[peer.ID](),
		candidates:  mapset.NewSet[peer.ID](),
		passiveOnly: mapset.NewSet[peer.ID](),
		gathered:    mapset.NewSet[string](),
	}
	if root {
		r.parent.resolve(nil)
	}
	return r
}

// |||||| ACCESSORS ||||||

func (r *Relay) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) Root() bool { return r.root }

// Parent returns the peer this relay accepted as its parent.
func (r *Relay) Parent() (peer.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parentID, r.parentID != ""
}

// Children returns the peers this relay holds live outgoing links to.
func (r *Relay) Children() []peer.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []peer.ID
	for id, l := range r.active {
		if l.Direction == DirectionOutgoing && l.live() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Link returns a copy of the active link to id.
func (r *Relay) Link(id peer.ID) (Link, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.active[id]
	if !ok {
		return Link{}, false
	}
	return l.snapshot(), true
}

// PassiveOnly returns the neighbors this relay only exchanges control packets
// with.
func (r *Relay) PassiveOnly() []peer.ID {
	ids := r.passiveOnly.ToSlice()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Done is closed when the relay's session is torn down.
func (r *Relay) Done() <-chan struct{} { return r.ctx.Done() }

// |||||| STATE ||||||

// SessionInit moves a fresh relay into the session. The relay's passive
// endpoint is the process control transport; registering the relay with its
// Registry is what routes session traffic to it.
func (r *Relay) SessionInit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state < StateSessionInit {
		r.state = StateSessionInit
	}
}

// UpdateState installs the relay's neighborhood: one active and one passive
// link per neighbor. Fanout is clamped to the number of neighbors.
func (r *Relay) UpdateState(neighbors []Neighbor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state >= StateLinksInitialized {
		return errors.Wrapf(ErrStaleState, "state update received in %s", r.state)
	}
	adjacent := make([]peer.ID, 0, len(neighbors))
	for _, n := range neighbors {
		if _, dup := r.active[n.ID]; dup || n.ID == r.Host || n.ID == "" {
			continue
		}
		r.active[n.ID] = r.newLink(n.ID, LinkActive, r.Streams.Address(), n.Active)
		r.passive[n.ID] = r.newLink(n.ID, LinkPassive, r.Control.Address(), n.Passive)
		r.neighbors = append(r.neighbors, n)
		adjacent = append(adjacent, n.ID)
	}
	r.session.AdjacentPeers = adjacent
	if r.session.Fanout > len(r.neighbors) {
		r.session.Fanout = len(r.neighbors)
	}
	r.state = StateLinksInitialized
	return nil
}

func (r *Relay) newLink(id peer.ID, t LinkType, left, right address.Address) *Link {
	r.nextLinkID++
	return &Link{ID: r.nextLinkID, Left: left, Right: right, PeerID: id, Type: t}
}

func (r *Relay) advance(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s > r.state {
		r.state = s
	}
}

// |||||| TREE CHECK ||||||

// Trigger starts tree formation from the root by offering the first window
// of neighbors a tree check.
func (r *Relay) Trigger(ctx context.Context) error {
	if !r.root {
		return errors.New("[palm] - only the root relay triggers tree formation")
	}
	r.mu.Lock()
	if r.forming {
		r.mu.Unlock()
		return nil
	}
	r.forming = true
	r.mu.Unlock()
	r.forwardTreeCheck(ctx, "")
	r.advance(StateTreeCheckDone)
	return nil
}

// TreeCheck handles a neighbor offering to parent this relay. If the offer is
// admissible the relay asks the neighbor to connect back and waits for the
// parent link. The relay that wins offers its own neighbors a tree check.
func (r *Relay) TreeCheck(ctx context.Context, pkt wire.Packet) error {
	from := peer.ID(pkt.PeerID)
	replyTo := address.Address(pkt.Body.String("passive_addr"))
	if reason := r.admit(from); reason != "" {
		r.Logger.Debug("rejecting tree check",
			zap.String("from", string(from)),
			zap.String("reason", reason),
		)
		r.Progress.report(Event{Kind: EventTreeRejected, Session: r.session.ID, Peer: from})
		if err := r.reject(ctx, from, replyTo); err != nil {
			r.Logger.Debug("failed to send reject", zap.Error(err))
		}
		return nil
	}
	if err := r.awaitParent(ctx, from); err != nil {
		r.candidates.Remove(from)
		r.Logger.Debug("tree check abandoned", zap.String("from", string(from)), zap.Error(err))
		if rerr := r.reject(ctx, from, replyTo); rerr != nil {
			r.Logger.Debug("failed to send reject", zap.Error(rerr))
		}
		if errors.Is(err, errLostRace) {
			return nil
		}
		return err
	}
	r.mu.Lock()
	if r.forming {
		r.mu.Unlock()
		return nil
	}
	r.forming = true
	r.mu.Unlock()
	r.forwardTreeCheck(ctx, "")
	r.advance(StateTreeCheckDone)
	return nil
}

func (r *Relay) admit(from peer.ID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[from]; !ok {
		return "unknown peer"
	}
	if r.liveActive() > r.session.Fanout {
		return "fanout exceeded"
	}
	if r.parent.resolved() {
		return "parent resolved"
	}
	if r.state >= StateTreeCheckDone {
		return "tree check done"
	}
	if !r.candidates.Add(from) {
		return "already a candidate"
	}
	return ""
}

// reject declines an offer from to. A peer this relay has no link to is
// answered at replyTo, the passive address carried by its offer.
func (r *Relay) reject(ctx context.Context, to peer.ID, replyTo address.Address) error {
	body := wire.Body{"origin_id": string(r.Host)}
	r.mu.Lock()
	_, known := r.passive[to]
	r.mu.Unlock()
	if known || replyTo == "" {
		return r.sendControl(ctx, to, wire.HeaderTreeReject, body)
	}
	return r.send(ctx, replyTo, wire.Packet{
		Header:    wire.HeaderTreeReject,
		MsgID:     uuid.NewString(),
		SessionID: r.session.ID,
		PeerID:    string(r.Host),
		Body:      body,
	})
}

// awaitParent asks from to upgrade its link to us, repeating the request
// with growing intervals until the parent future resolves or the link wait
// timeout passes.
func (r *Relay) awaitParent(ctx context.Context, from peer.ID) error {
	r.mu.Lock()
	linkID := r.active[from].ID
	r.mu.Unlock()
	var (
		timeout  = r.session.LinkWaitTimeout
		deadline = time.Now().Add(timeout)
		interval = r.UpgradeBaseRetry
		body     = wire.Body{"link_id": int64(linkID), "active_addr": r.Streams.Address().String()}
	)
	for {
		if err := r.sendControl(ctx, from, wire.HeaderUpgradeConn, body); err != nil {
			r.Logger.Debug("failed to send upgrade request", zap.String("to", string(from)), zap.Error(err))
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			break
		}
		if interval < wait {
			wait = interval
		}
		wctx, cancel := context.WithTimeout(ctx, wait)
		parent, err := r.parent.wait(wctx)
		cancel()
		if err == nil {
			if parent != nil && parent.PeerID == from {
				return nil
			}
			return errLostRace
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		interval = time.Duration(float64(interval) * r.UpgradeRetryScale)
	}
	return errors.Wrapf(ErrConnectionRefused, "%s did not connect within %s", from, timeout)
}

// forwardTreeCheck offers the next window of neighbors a tree check. The
// window holds as many neighbors as there are free child slots; neighbors
// passed by the window are never offered again.
func (r *Relay) forwardTreeCheck(ctx context.Context, exclude peer.ID) {
	r.mu.Lock()
	size := r.session.Fanout - r.outgoing() - r.offered.Cardinality()
	var targets []peer.ID
	for len(targets) < size && r.window < len(r.neighbors) {
		n := r.neighbors[r.window]
		r.window++
		if n.ID == exclude || n.ID == r.parentID || r.offered.Contains(n.ID) {
			continue
		}
		if l, ok := r.active[n.ID]; !ok || l.live() || l.connecting {
			continue
		}
		targets = append(targets, n.ID)
		r.offered.Add(n.ID)
	}
	for _, n := range r.neighbors {
		l, ok := r.active[n.ID]
		child := ok && l.Direction == DirectionOutgoing && l.live()
		if n.ID == r.parentID || child || r.offered.Contains(n.ID) {
			r.passiveOnly.Remove(n.ID)
			continue
		}
		r.passiveOnly.Add(n.ID)
	}
	r.mu.Unlock()

	for _, id := range targets {
		body := wire.Body{"origin_id": string(r.Host), "passive_addr": r.Control.Address().String()}
		if err := r.sendControl(ctx, id, wire.HeaderTreeCheck, body); err != nil {
			r.Logger.Debug("failed to send tree check", zap.String("to", string(id)), zap.Error(err))
		}
		id := id
		r.background(func(ctx context.Context) { r.expireOffer(ctx, id) })
	}
}

// expireOffer withdraws an offer the neighbor never answered.
func (r *Relay) expireOffer(ctx context.Context, id peer.ID) {
	t := time.NewTimer(2 * r.session.LinkWaitTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	r.mu.Lock()
	l := r.active[id]
	stale := r.offered.Contains(id) && (l == nil || (!l.live() && !l.connecting))
	r.mu.Unlock()
	if stale {
		r.Logger.Debug("tree check offer expired", zap.String("peer", string(id)))
		r.rejected(ctx, id)
	}
}

// TreeReject handles a neighbor declining this relay's offer. The freed slot
// is offered to the next window of neighbors.
func (r *Relay) TreeReject(ctx context.Context, pkt wire.Packet) {
	r.rejected(ctx, peer.ID(pkt.PeerID))
}

func (r *Relay) rejected(ctx context.Context, from peer.ID) {
	r.mu.Lock()
	if !r.offered.Contains(from) {
		r.mu.Unlock()
		return
	}
	r.offered.Remove(from)
	r.passiveOnly.Add(from)
	more := r.forming && r.window < len(r.neighbors)
	r.mu.Unlock()
	if more {
		r.forwardTreeCheck(ctx, from)
	}
}

// |||||| LINKS ||||||

// UpgradeConnection handles a neighbor asking this relay to open the stream
// that makes it a child. Repeated requests for a link that is live or
// connecting are ignored.
func (r *Relay) UpgradeConnection(ctx context.Context, pkt wire.Packet) error {
	from := peer.ID(pkt.PeerID)
	r.mu.Lock()
	l, ok := r.active[from]
	switch {
	case !ok:
		r.mu.Unlock()
		return errors.Wrapf(ErrLinkRefused, "no active link to %s", from)
	case l.live() || l.connecting:
		r.mu.Unlock()
		return nil
	case r.outgoing() >= r.session.Fanout:
		r.mu.Unlock()
		r.Logger.Debug("refusing upgrade, no free child slots", zap.String("from", string(from)))
		return nil
	}
	l.connecting = true
	addr := address.Address(pkt.Body.String("active_addr"))
	if addr == "" {
		addr = l.Right
	}
	r.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, r.session.LinkWaitTimeout)
	conn, err := r.dial(dctx, addr)
	cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	l.connecting = false
	if err != nil {
		r.Logger.Debug("failed to upgrade link", zap.String("peer", string(from)), zap.Error(err))
		return nil
	}
	if r.closed {
		_ = conn.Close()
		return ErrSessionClosed
	}
	_ = l.adopt(conn, DirectionOutgoing)
	r.offered.Remove(from)
	r.passiveOnly.Remove(from)
	return nil
}

// dial opens a stream to addr and performs the link handshake.
func (r *Relay) dial(ctx context.Context, addr address.Address) (transport.Stream, error) {
	conn, err := r.Streams.Dial(ctx, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "[palm] - failed to dial %s", addr)
	}
	hs, err := wire.Encode(wire.Packet{
		Header:    wire.HeaderUpdateStreamLink,
		MsgID:     uuid.NewString(),
		SessionID: r.session.ID,
		PeerID:    string(r.Host),
	})
	if err == nil {
		err = conn.Send(ctx, hs)
	}
	var ack []byte
	if err == nil {
		ack, err = conn.Receive(ctx)
	}
	if err == nil && !bytes.Equal(ack, wire.LinkOK) {
		err = errors.Newf("[palm] - unexpected link acknowledgement %q", ack)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// AddStreamLink handles an inbound stream whose handshake names this
// session. A stream from a peer whose link is live replaces that link's
// stream. A stream from an awaited parent candidate resolves the parent, once.
// Every other stream is refused and closed.
func (r *Relay) AddStreamLink(ctx context.Context, conn transport.Stream, pkt wire.Packet) error {
	from := peer.ID(pkt.PeerID)
	r.mu.Lock()
	l, ok := r.active[from]
	if !ok || r.closed {
		r.mu.Unlock()
		_ = conn.Close()
		return errors.Wrapf(ErrLinkRefused, "no active link to %s", from)
	}
	if l.live() {
		_ = l.adopt(conn, l.Direction)
		isParent := from == r.parentID
		r.mu.Unlock()
		r.Logger.Debug("adopted replacement link", zap.String("peer", string(from)))
		if err := r.ack(ctx, conn); err != nil {
			return err
		}
		if isParent {
			select {
			case r.replaced <- struct{}{}:
			default:
			}
		}
		return nil
	}
	if !r.candidates.Contains(from) || !r.parent.resolve(l) {
		r.mu.Unlock()
		_ = conn.Close()
		return errors.Wrapf(ErrLinkRefused, "%s is not an awaited parent", from)
	}
	_ = l.adopt(conn, DirectionIncoming)
	r.parentID = from
	r.candidates.Clear()
	r.offered.Remove(from)
	r.passiveOnly.Remove(from)
	r.mu.Unlock()
	r.Logger.Debug("accepted parent", zap.String("peer", string(from)))
	return r.ack(ctx, conn)
}

func (r *Relay) ack(ctx context.Context, conn transport.Stream) error {
	ctx, cancel := context.WithTimeout(ctx, r.session.LinkWaitTimeout)
	defer cancel()
	return errors.Wrap(conn.Send(ctx, wire.LinkOK), "[palm] - failed to acknowledge link")
}

// DowngradeConnection handles the parent releasing this relay. The link is
// demoted to passive-only once the relay stops reading from it.
func (r *Relay) DowngradeConnection(_ context.Context, pkt wire.Packet) {
	r.demote(peer.ID(pkt.PeerID))
}

// Downgrade releases child id and tells it so.
func (r *Relay) Downgrade(ctx context.Context, id peer.ID) error {
	err := r.sendControl(ctx, id, wire.HeaderDowngradeConn, nil)
	r.demote(id)
	return err
}

func (r *Relay) demote(id peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.active[id]
	if !ok {
		return
	}
	if id == r.parentID && r.pumping {
		r.releasePending = true
		return
	}
	_ = l.clear()
	delete(r.active, id)
	r.offered.Remove(id)
	r.passiveOnly.Add(id)
}

// Finish releases every child. A parent release that arrived while the relay
// was still reading is applied now.
func (r *Relay) Finish(ctx context.Context) {
	for _, id := range r.Children() {
		if err := r.Downgrade(ctx, id); err != nil {
			r.Logger.Debug("failed to release child", zap.String("peer", string(id)), zap.Error(err))
		}
	}
	r.mu.Lock()
	r.pumping = false
	pending, parent := r.releasePending, r.parentID
	r.mu.Unlock()
	if pending {
		r.demote(parent)
	}
}

// liveActive counts live active links in either direction.
func (r *Relay) liveActive() int {
	n := 0
	for _, l := range r.active {
		if l.live() {
			n++
		}
	}
	return n
}

// outgoing counts child links that are live or being dialled.
func (r *Relay) outgoing() int {
	n := 0
	for _, l := range r.active {
		if (l.Direction == DirectionOutgoing && l.live()) || l.connecting {
			n++
		}
	}
	return n
}

// |||||| GATHER ||||||

// Gather reports this relay's parent and depth to the gatherer and passes
// the gather on to its children.
func (r *Relay) Gather(ctx context.Context, pkt wire.Packet) error {
	if !r.gathered.Add(pkt.MsgID) {
		return nil
	}
	parent, _ := r.Parent()
	depth := pkt.Body.Int("depth")
	replyTo := address.Address(pkt.Body.String("reply_addr"))
	reply := pkt.Reply(wire.HeaderTreeGatherReply, string(r.Host), wire.Body{
		"parent_id": string(parent),
		"depth":     depth,
	})
	if err := r.send(ctx, replyTo, reply); err != nil {
		return err
	}
	for _, child := range r.Children() {
		err := r.sendControlID(ctx, child, wire.HeaderTreeGather, pkt.MsgID, wire.Body{
			"depth":      depth + 1,
			"parent_id":  string(r.Host),
			"reply_addr": replyTo.String(),
		})
		if err != nil {
			r.Logger.Debug("failed to pass gather", zap.String("to", string(child)), zap.Error(err))
		}
	}
	return nil
}

// |||||| LIFECYCLE ||||||

// background runs f on its own goroutine for the lifetime of the session.
func (r *Relay) background(f func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		f(r.ctx)
	}()
}

// Close tears the session down: background tasks are cancelled and every
// link's stream is closed.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()
	var err error
	for _, l := range r.active {
		err = errors.CombineErrors(err, l.clear())
	}
	r.mu.Unlock()
	r.wg.Wait()
	return err
}

// |||||| CONTROL ||||||

func (r *Relay) sendControl(ctx context.Context, to peer.ID, h wire.Header, body wire.Body) error {
	return r.sendControlID(ctx, to, h, uuid.NewString(), body)
}

func (r *Relay) sendControlID(ctx context.Context, to peer.ID, h wire.Header, msgID string, body wire.Body) error {
	r.mu.Lock()
	l, ok := r.passive[to]
	r.mu.Unlock()
	if !ok {
		return errors.Newf("[palm] - no passive link to %s", to)
	}
	return r.send(ctx, l.Right, wire.Packet{
		Header:    h,
		MsgID:     msgID,
		SessionID: r.session.ID,
		PeerID:    string(r.Host),
		Body:      body,
	})
}

func (r *Relay) send(ctx context.Context, to address.Address, pkt wire.Packet) error {
	b, err := wire.Encode(pkt)
	if err != nil {
		return err
	}
	return r.Control.Send(ctx, to, b)
}
