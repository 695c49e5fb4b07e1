package palm

import (
	"sync"
	"sync/atomic"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type EventKind uint8

const (
	EventPeerConfirmed EventKind = iota + 1
	EventPeerPruned
	EventStateSent
	EventTreeTriggered
	EventTreeGathered
	EventDone
	EventChunkForwarded
	EventLinkLagging
	EventTreeRejected
	EventForwardFailed
	EventNoParent
)

var eventNames = map[EventKind]string{
	EventPeerConfirmed:  "peer_confirmed",
	EventPeerPruned:     "peer_pruned",
	EventStateSent:      "state_sent",
	EventTreeTriggered:  "tree_triggered",
	EventTreeGathered:   "tree_gathered",
	EventDone:           "done",
	EventChunkForwarded: "chunk_forwarded",
	EventLinkLagging:    "link_lagging",
	EventTreeRejected:   "tree_rejected",
	EventForwardFailed:  "forward_failed",
	EventNoParent:       "no_parent",
}

func (k EventKind) String() string { return eventNames[k] }

// Event is one observable step of a transfer.
type Event struct {
	Kind    EventKind
	Session string
	Peer    peer.ID
	// Count is the number of children reached for EventChunkForwarded.
	Count int
	// Tree is set on EventTreeGathered and EventDone.
	Tree *Tree
	Err  error
}

// Stats is a point-in-time copy of a Progress's counters.
type Stats struct {
	ChunksForwarded int64
	PeersConfirmed  int64
	PeersPruned     int64
	TreeRejects     int64
	LinksLagging    int64
	ForwardFailures int64
	Orphaned        int64
}

// Progress counts transfer events for one process, exporting them as
// prometheus counters and fanning them out to subscribers.
type Progress struct {
	counters map[EventKind]prometheus.Counter
	stats    map[EventKind]*int64
	mu       sync.RWMutex
	subs     []chan Event
}

const eventBuffer = 256

// NewProgress creates a Progress for host. Metrics are registered with reg
// when it is non-nil.
func NewProgress(reg prometheus.Registerer, host peer.ID) *Progress {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{
			Namespace:   "peerconnect",
			Subsystem:   "palm",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"host": string(host)},
		})
	}
	p := &Progress{
		counters: map[EventKind]prometheus.Counter{
			EventChunkForwarded: counter("chunk_deliveries_total", "Frames delivered to children."),
			EventPeerConfirmed:  counter("peers_confirmed_total", "Participants that answered a session invite."),
			EventPeerPruned:     counter("peers_pruned_total", "Participants pruned from the candidate topology."),
			EventTreeRejected:   counter("tree_rejects_total", "Tree checks rejected by this relay."),
			EventLinkLagging:    counter("links_lagging_total", "Child links that missed a forward deadline."),
			EventForwardFailed:  counter("forward_failures_total", "Frames no child accepted after every retry."),
			EventNoParent:       counter("orphaned_relays_total", "Relays that never resolved or lost their parent."),
		},
		stats: make(map[EventKind]*int64),
	}
	for k := range p.counters {
		p.stats[k] = new(int64)
	}
	return p
}

// Subscribe returns a channel receiving every event reported after the call.
// Events are dropped for a subscriber whose buffer is full.
func (p *Progress) Subscribe() <-chan Event {
	c := make(chan Event, eventBuffer)
	p.mu.Lock()
	p.subs = append(p.subs, c)
	p.mu.Unlock()
	return c
}

func (p *Progress) Stats() Stats {
	load := func(k EventKind) int64 { return atomic.LoadInt64(p.stats[k]) }
	return Stats{
		ChunksForwarded: load(EventChunkForwarded),
		PeersConfirmed:  load(EventPeerConfirmed),
		PeersPruned:     load(EventPeerPruned),
		TreeRejects:     load(EventTreeRejected),
		LinksLagging:    load(EventLinkLagging),
		ForwardFailures: load(EventForwardFailed),
		Orphaned:        load(EventNoParent),
	}
}

func (p *Progress) report(e Event) {
	n := int64(1)
	if e.Kind == EventChunkForwarded {
		n = int64(e.Count)
	}
	if c, ok := p.counters[e.Kind]; ok {
		c.Add(float64(n))
		atomic.AddInt64(p.stats[e.Kind], n)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.subs {
		select {
		case c <- e:
		default:
		}
	}
}
