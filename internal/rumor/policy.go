package rumor

import (
	"math"
	"time"
)

// Policy decides whether a message is still worth forwarding.
type Policy struct {
	store     *Store
	globalTTL time.Duration
	minChance float64
	rand      func() float64
	now       func() time.Time
}

func NewPolicy(store *Store, cfg Config) Policy {
	return Policy{
		store:     store,
		globalTTL: cfg.GlobalTTL,
		minChance: cfg.MinChance,
		rand:      cfg.Rand,
		now:       cfg.Now,
	}
}

// Chance returns the probability with which msg should be forwarded. It
// decays linearly from 1 at creation to the minimum chance at the global
// TTL, and is zero for dropped or expired messages.
func (p Policy) Chance(msg Message) float64 {
	if p.store.Dropped(msg.ID) {
		return 0
	}
	elapsed := p.now().Sub(msg.Created)
	if elapsed > p.globalTTL {
		return 0
	}
	remaining := float64(p.globalTTL-elapsed) / float64(p.globalTTL)
	return math.Min(1, math.Max(p.minChance, remaining))
}

// ShouldRumor draws against Chance.
func (p Policy) ShouldRumor(msg Message) bool {
	chance := p.Chance(msg)
	if chance == 0 {
		return false
	}
	return p.rand() < chance
}
