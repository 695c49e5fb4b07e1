package peer

import (
	"sort"
	"sync"

	"github.com/ShaikAli65/PeerConnect-sub000/internal/address"
)

// ID uniquely identifies a peer in the swarm.
type ID string

func (id ID) String() string { return string(id) }

// Record is the directory entry for a peer. Control is the datagram address
// used for gossip and overlay handshakes, Data is the stream address used for
// bulk transfer.
type Record struct {
	ID      ID
	Control address.Address
	Data    address.Address
}

// Directory resolves peers by ID and enumerates every known peer. The
// overlay only reads from a Directory.
type Directory interface {
	Get(id ID) (Record, bool)
	Peers() Group
}

// |||||| GROUP ||||||

type Group map[ID]Record

func (g Group) Where(cond func(ID, Record) bool) Group {
	out := make(Group, len(g))
	for id, r := range g {
		if cond(id, r) {
			out[id] = r
		}
	}
	return out
}

func (g Group) WhereNot(ids ...ID) Group {
	return g.Where(func(id ID, _ Record) bool {
		for _, ex := range ids {
			if ex == id {
				return false
			}
		}
		return true
	})
}

// IDs returns the IDs in the group in ascending order.
func (g Group) IDs() []ID {
	ids := make([]ID, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g Group) Copy() Group { return g.Where(func(ID, Record) bool { return true }) }

// |||||| STATIC DIRECTORY ||||||

// StaticDirectory is an in-memory Directory. It is safe for concurrent use.
type StaticDirectory struct {
	mu    sync.RWMutex
	group Group
}

func NewStaticDirectory(records ...Record) *StaticDirectory {
	d := &StaticDirectory{group: make(Group, len(records))}
	for _, r := range records {
		d.group[r.ID] = r
	}
	return d
}

func (d *StaticDirectory) Add(r Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.group[r.ID] = r
}

func (d *StaticDirectory) Remove(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.group, id)
}

// Get implements Directory.
func (d *StaticDirectory) Get(id ID) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.group[id]
	return r, ok
}

// Peers implements Directory.
func (d *StaticDirectory) Peers() Group {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.group.Copy()
}
