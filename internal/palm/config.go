package palm

import (
	"context"
	"time"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/peer"
	"github.com/ShaikAli65/PeerConnect-sub000/transport"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	// RetryForever makes a relay retry an undelivered frame until its session
	// ends.
	RetryForever = -1
	// NoRetry makes a relay give up on a frame after its first attempt. A
	// zero ForwardRetries takes the default instead.
	NoRetry = -2
)

type Config struct {
	// Host is the local peer.
	Host peer.ID
	// Control carries session control packets. Its address is the passive
	// endpoint advertised to neighbors.
	Control transport.Datagram
	// Streams carries relayed data. Its address is the active endpoint
	// advertised to neighbors.
	Streams transport.Streams
	// Directory resolves participants to their control addresses. Only the
	// originator consults it.
	Directory peer.Directory
	// Progress receives transfer counters. Defaults to an unregistered
	// Progress.
	Progress *Progress
	// ForwardRetries is the number of extra attempts made to deliver a frame
	// when no child accepted it. RetryForever disables the bound and NoRetry
	// allows none.
	ForwardRetries int
	// LagSkip is the number of frames a lagging child is skipped for before
	// it is tried again.
	LagSkip int
	// UpgradeBaseRetry is the first interval between upgrade requests sent to
	// a would-be parent.
	UpgradeBaseRetry time.Duration
	// UpgradeRetryScale grows the upgrade interval after every attempt.
	UpgradeRetryScale float64
	// ParentTimeout bounds how long a non-root relay waits for a parent
	// before giving up on the session.
	ParentTimeout time.Duration
	// GatherAttempts bounds how many gathers the originator runs while
	// waiting for every confirmed peer to join the tree.
	GatherAttempts int
	// OnSession is called, on its own goroutine, for every session this
	// process is invited to.
	OnSession func(ctx context.Context, r *Relay)
	Logger    *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Control == nil {
		cfg.Control = def.Control
	}
	if cfg.Streams == nil {
		cfg.Streams = def.Streams
	}
	if cfg.Directory == nil {
		cfg.Directory = def.Directory
	}
	if cfg.Progress == nil {
		cfg.Progress = def.Progress
	}
	if cfg.ForwardRetries == 0 {
		cfg.ForwardRetries = def.ForwardRetries
	}
	if cfg.LagSkip == 0 {
		cfg.LagSkip = def.LagSkip
	}
	if cfg.UpgradeBaseRetry == 0 {
		cfg.UpgradeBaseRetry = def.UpgradeBaseRetry
	}
	if cfg.UpgradeRetryScale == 0 {
		cfg.UpgradeRetryScale = def.UpgradeRetryScale
	}
	if cfg.ParentTimeout == 0 {
		cfg.ParentTimeout = def.ParentTimeout
	}
	if cfg.GatherAttempts == 0 {
		cfg.GatherAttempts = def.GatherAttempts
	}
	if cfg.OnSession == nil {
		cfg.OnSession = def.OnSession
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg Config) Validate() error {
	if cfg.Host == "" {
		return errors.New("[palm] - host required")
	}
	if cfg.Control == nil {
		return errors.New("[palm] - control transport required")
	}
	if cfg.Streams == nil {
		return errors.New("[palm] - stream transport required")
	}
	if cfg.ForwardRetries < NoRetry {
		return errors.New("[palm] - forward retries must be non-negative, NoRetry or RetryForever")
	}
	if cfg.UpgradeRetryScale < 1 {
		return errors.New("[palm] - upgrade retry scale must be at least 1")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		ForwardRetries:    3,
		LagSkip:           1,
		UpgradeBaseRetry:  50 * time.Millisecond,
		UpgradeRetryScale: 1.5,
		ParentTimeout:     30 * time.Second,
		GatherAttempts:    5,
		OnSession:         func(context.Context, *Relay) {},
		Logger:            zap.NewNop(),
	}
}

// retries resolves ForwardRetries to a count of extra attempts. It is
// negative only for RetryForever.
func (cfg Config) retries() int {
	if cfg.ForwardRetries == NoRetry {
		return 0
	}
	return cfg.ForwardRetries
}
