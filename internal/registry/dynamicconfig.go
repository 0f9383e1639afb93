package registry

import (
	"sync"

	"github.com/iox2go/iceoryx2/internal/lockfree"
)

// PortKind is the role a registered port plays within its service.
type PortKind uint8

const (
	KindPublisher PortKind = iota
	KindSubscriber
	KindNotifier
	KindListener
	KindClient
	KindServer
)

func (k PortKind) String() string {
	switch k {
	case KindPublisher:
		return "Publisher"
	case KindSubscriber:
		return "Subscriber"
	case KindNotifier:
		return "Notifier"
	case KindListener:
		return "Listener"
	case KindClient:
		return "Client"
	case KindServer:
		return "Server"
	default:
		return "Unknown"
	}
}

// PortDescriptor is one live port's entry in a service's dynamic config:
// its id, role, and the monitoring token (node id) whose death makes the
// entry eligible for reaping.
type PortDescriptor struct {
	PortID uint64
	NodeID uint64
	Kind   PortKind
}

// DynamicConfig is the fixed-capacity registry of a service's currently
// alive ports. Slot allocation goes through a lock-free unique-index set so
// at most one writer ever owns a slot, and an atomic bitset mirrors
// occupancy so discovery scans can skip empty slots without taking the
// table lock for long.
type DynamicConfig struct {
	slots    *lockfree.UniqueIndexSet
	occupied *lockfree.AtomicBitset

	mu      sync.RWMutex
	entries []PortDescriptor
	caps    map[PortKind]uint64
	counts  map[PortKind]uint64
	locked  bool
}

// NewDynamicConfig creates a table with room for capacity ports total and
// the given per-kind limits (kinds absent from caps are unlimited up to the
// table capacity).
func NewDynamicConfig(capacity uint32, caps map[PortKind]uint64) *DynamicConfig {
	if capacity == 0 {
		capacity = 1
	}
	copied := make(map[PortKind]uint64, len(caps))
	for k, v := range caps {
		copied[k] = v
	}
	return &DynamicConfig{
		slots:    lockfree.NewUniqueIndexSet(capacity),
		occupied: lockfree.NewAtomicBitset(uint64(capacity)),
		entries:  make([]PortDescriptor, capacity),
		caps:     copied,
		counts:   make(map[PortKind]uint64),
	}
}

// Register claims a slot for desc, enforcing the per-kind capacity limit.
func (d *DynamicConfig) Register(desc PortDescriptor) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		return 0, ErrDynamicConfigLocked
	}
	if limit, ok := d.caps[desc.Kind]; ok && d.counts[desc.Kind] >= limit {
		return 0, ErrPortCapacityExceeded
	}
	slot, err := d.slots.AcquireRawIndex()
	if err != nil {
		return 0, ErrPortCapacityExceeded
	}
	d.entries[slot] = desc
	d.counts[desc.Kind]++
	d.occupied.Set(uint64(slot))
	return slot, nil
}

// Unregister releases the slot previously returned by Register.
func (d *DynamicConfig) Unregister(slot uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.occupied.Reset(uint64(slot)) {
		return
	}
	kind := d.entries[slot].Kind
	if d.counts[kind] > 0 {
		d.counts[kind]--
	}
	d.entries[slot] = PortDescriptor{}
	d.slots.ReleaseRawIndex(slot, lockfree.ReleaseDefault)
}

// Count returns the number of live ports of the given kind.
func (d *DynamicConfig) Count(kind PortKind) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.counts[kind]
}

// List returns a snapshot of every occupied entry of the given kind.
func (d *DynamicConfig) List(kind PortKind) []PortDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []PortDescriptor
	for slot := range d.entries {
		if d.occupied.Test(uint64(slot)) && d.entries[slot].Kind == kind {
			out = append(out, d.entries[slot])
		}
	}
	return out
}

// All returns a snapshot of every occupied entry.
func (d *DynamicConfig) All() []PortDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []PortDescriptor
	for slot := range d.entries {
		if d.occupied.Test(uint64(slot)) {
			out = append(out, d.entries[slot])
		}
	}
	return out
}

// OccupiedSlots returns the indices of every occupied slot, for diagnostic
// surfaces that render the table as a bitmap.
func (d *DynamicConfig) OccupiedSlots() []uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []uint32
	for slot := range d.entries {
		if d.occupied.Test(uint64(slot)) {
			out = append(out, uint32(slot))
		}
	}
	return out
}

// Capacity returns the total number of slots in the table.
func (d *DynamicConfig) Capacity() uint32 { return d.slots.Capacity() }

// IsEmpty reports whether no port is currently registered.
func (d *DynamicConfig) IsEmpty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for kind := range d.counts {
		if d.counts[kind] > 0 {
			return false
		}
	}
	return true
}

// Lock freezes the table for teardown: subsequent Registers fail.
func (d *DynamicConfig) Lock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = true
}

// Reap removes every entry whose node isDead reports true, invoking
// onRemove for each removed descriptor exactly once. It returns the number
// of entries removed.
func (d *DynamicConfig) Reap(isDead func(nodeID uint64) bool, onRemove func(PortDescriptor)) int {
	d.mu.Lock()
	var victims []uint32
	for slot := range d.entries {
		if d.occupied.Test(uint64(slot)) && isDead(d.entries[slot].NodeID) {
			victims = append(victims, uint32(slot))
		}
	}
	removed := make([]PortDescriptor, 0, len(victims))
	for _, slot := range victims {
		removed = append(removed, d.entries[slot])
		d.occupied.Reset(uint64(slot))
		kind := d.entries[slot].Kind
		if d.counts[kind] > 0 {
			d.counts[kind]--
		}
		d.entries[slot] = PortDescriptor{}
		d.slots.ReleaseRawIndex(slot, lockfree.ReleaseDefault)
	}
	d.mu.Unlock()

	if onRemove != nil {
		for _, desc := range removed {
			onRemove(desc)
		}
	}
	return len(removed)
}
