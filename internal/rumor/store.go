package rumor

import (
	"sort"
	"sync"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
)

type entry struct {
	id        string
	firstSeen time.Time
	created   time.Time
	sampled   mapset.Set[peer.ID]
}

// Store tracks the messages this node is actively disseminating and the ids
// of messages it has stopped disseminating. A message id is either active or
// dropped, never both.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	dropped mapset.Set[string]
	nodeTTL time.Duration
	now     func() time.Time
	ledger  *Ledger
	logger  *zap.Logger
}

// NewStore creates a store, seeding the dropped set from cfg.Ledger when one
// is configured.
func NewStore(cfg Config) (*Store, error) {
	s := &Store{
		entries: make(map[string]*entry),
		dropped: mapset.NewThreadUnsafeSet[string](),
		nodeTTL: cfg.NodeTTL,
		now:     cfg.Now,
		ledger:  cfg.Ledger,
		logger:  cfg.Logger,
	}
	if s.ledger != nil {
		ids, err := s.ledger.Load()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			s.dropped.Add(id)
		}
	}
	return s, nil
}

// Insert adds msg to the active store. It returns false if the id is already
// active or has been dropped.
func (s *Store) Insert(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[msg.ID]; ok || s.dropped.Contains(msg.ID) {
		return false
	}
	s.entries[msg.ID] = &entry{
		id:        msg.ID,
		firstSeen: s.now(),
		created:   msg.Created,
		sampled:   mapset.NewThreadUnsafeSet[peer.ID](),
	}
	return true
}

// Known reports whether id is in the active store.
func (s *Store) Known(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Dropped reports whether id is in the dropped set.
func (s *Store) Dropped(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped.Contains(id)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sampled returns the peers already sampled for id.
func (s *Store) Sampled(id string) []peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	return e.sampled.ToSlice()
}

// SamplePeers reservoir-samples up to k peers from candidates that have not
// yet been sampled for id, and records them as sampled. It returns nothing
// for an id that is not active.
func (s *Store) SamplePeers(id string, candidates []peer.ID, k int, rnd func() float64) []peer.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	pool := make([]peer.ID, 0, len(candidates))
	for _, c := range candidates {
		if !e.sampled.Contains(c) {
			pool = append(pool, c)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	sample := reservoir(pool, k, rnd)
	for _, p := range sample {
		e.sampled.Add(p)
	}
	return sample
}

func reservoir(pool []peer.ID, k int, rnd func() float64) []peer.ID {
	res := make([]peer.ID, 0, k)
	for i, p := range pool {
		if i < k {
			res = append(res, p)
			continue
		}
		if j := int(rnd() * float64(i+1)); j < k {
			res[j] = p
		}
	}
	return res
}

// Expire moves every entry first seen more than the node TTL ago into the
// dropped set and returns the moved ids.
func (s *Store) Expire() (expired []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, e := range s.entries {
		if now.Sub(e.firstSeen) <= s.nodeTTL {
			continue
		}
		delete(s.entries, id)
		s.dropped.Add(id)
		expired = append(expired, id)
		if s.ledger != nil {
			if err := s.ledger.Drop(id); err != nil {
				s.logger.Error("failed to persist dropped rumor", zap.String("id", id), zap.Error(err))
			}
		}
	}
	return expired
}
