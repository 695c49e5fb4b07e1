package palm

import "github.com/cockroachdb/errors"

var (
	// ErrStaleState is returned when a message targets a relay state the relay
	// has already moved past.
	ErrStaleState = errors.New("[palm] - stale relay state")
	// ErrConnectionRefused is returned when a would-be parent never connects
	// back within the link wait timeout.
	ErrConnectionRefused = errors.New("[palm] - connection refused")
	// ErrNoParent is returned when a non-root relay never resolves a parent,
	// or loses it with no replacement. Its branch receives no further data.
	ErrNoParent = errors.New("[palm] - no parent link")
	// ErrUnknownSession is returned for traffic naming a session this process
	// does not participate in.
	ErrUnknownSession = errors.New("[palm] - unknown session")
	// ErrSessionClosed is returned by operations on a relay whose session has
	// been torn down.
	ErrSessionClosed = errors.New("[palm] - session closed")
	// ErrForwardExhausted is returned when no child accepted a frame within the
	// configured number of forward attempts.
	ErrForwardExhausted = errors.New("[palm] - forward retries exhausted")
	// ErrLinkRefused is returned when an inbound stream is neither an awaited
	// parent nor a replacement for a live link.
	ErrLinkRefused = errors.New("[palm] - stream link refused")

	errLostRace = errors.New("[palm] - parent resolved to another peer")
)
