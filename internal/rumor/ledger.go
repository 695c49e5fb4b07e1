package rumor

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

var droppedPrefix = []byte("rumor/dropped/")

// Ledger durably records the ids of dropped messages so that a rumor that
// died before a restart stays dead after it.
type Ledger struct {
	db *pebble.DB
}

// OpenLedger opens (or creates) a ledger in dirname. If fs is nil the
// operating system filesystem is used.
func OpenLedger(dirname string, fs vfs.FS) (*Ledger, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dirname, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "[rumor] - failed to open ledger at %s", dirname)
	}
	return &Ledger{db: db}, nil
}

func droppedKey(id string) []byte {
	return append(append([]byte{}, droppedPrefix...), id...)
}

// Drop records id as dropped.
func (l *Ledger) Drop(id string) error {
	return l.db.Set(droppedKey(id), []byte{}, pebble.Sync)
}

// Dropped reports whether id was recorded as dropped.
func (l *Ledger) Dropped(id string) (bool, error) {
	_, closer, err := l.db.Get(droppedKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

// Load returns every dropped id in the ledger.
func (l *Ledger) Load() (ids []string, err error) {
	upper := append(append([]byte{}, droppedPrefix[:len(droppedPrefix)-1]...), droppedPrefix[len(droppedPrefix)-1]+1)
	iter := l.db.NewIter(&pebble.IterOptions{LowerBound: droppedPrefix, UpperBound: upper})
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Key()[len(droppedPrefix):]))
	}
	return ids, iter.Close()
}

func (l *Ledger) Close() error { return l.db.Close() }
