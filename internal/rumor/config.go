package rumor

import (
	"math/rand"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type Config struct {
	// Host is the local peer. It is never sampled as a gossip target.
	Host peer.ID
	// Alpha is the number of peers sampled on every forward.
	Alpha int
	// GlobalTTL is the hard deadline, measured from a message's creation,
	// after which no peer forwards it.
	GlobalTTL time.Duration
	// NodeTTL is how long this node keeps a message in its active store after
	// first seeing it before moving it to the dropped set.
	NodeTTL time.Duration
	// MinChance is the floor of the forwarding probability while a message is
	// younger than GlobalTTL.
	MinChance float64
	// Transport carries rumors to sampled peers.
	Transport transport.Datagram
	// Directory enumerates the peers eligible for sampling. It is consulted on
	// every forward.
	Directory peer.Directory
	// Ledger optionally persists dropped message ids.
	Ledger *Ledger
	// Rand returns a uniform float in [0, 1). Defaults to math/rand.
	Rand func() float64
	// Now returns the current time. Defaults to time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.GlobalTTL == 0 {
		cfg.GlobalTTL = def.GlobalTTL
	}
	if cfg.NodeTTL == 0 {
		cfg.NodeTTL = def.NodeTTL
	}
	if cfg.MinChance == 0 {
		cfg.MinChance = def.MinChance
	}
	if cfg.Transport == nil {
		cfg.Transport = def.Transport
	}
	if cfg.Directory == nil {
		cfg.Directory = def.Directory
	}
	if cfg.Ledger == nil {
		cfg.Ledger = def.Ledger
	}
	if cfg.Rand == nil {
		cfg.Rand = def.Rand
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg Config) Validate() error {
	if cfg.Transport == nil {
		return errors.New("[rumor] - transport required")
	}
	if cfg.Directory == nil {
		return errors.New("[rumor] - directory required")
	}
	if cfg.Alpha < 1 {
		return errors.New("[rumor] - alpha must be positive")
	}
	if cfg.GlobalTTL <= 0 || cfg.NodeTTL <= 0 {
		return errors.New("[rumor] - ttl must be positive")
	}
	if cfg.MinChance < 0 || cfg.MinChance > 1 {
		return errors.New("[rumor] - min chance must be in [0, 1]")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Alpha:     3,
		GlobalTTL: 60 * time.Second,
		NodeTTL:   20 * time.Second,
		MinChance: 0.6,
		Rand:      rand.Float64,
		Now:       time.Now,
		Logger:    zap.NewNop(),
	}
}
