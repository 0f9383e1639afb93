package lockfree

import (
	"errors"
	"sync/atomic"
)

// AcquireFailure explains why UniqueIndexSet.Acquire could not hand out an
// index.
type AcquireFailure int

const (
	// OutOfIndices means every index is currently borrowed.
	OutOfIndices AcquireFailure = iota
	// IsLocked means the set was locked by a LockIfLastIndex release and no
	// further acquisitions are possible until the set is recreated.
	IsLocked
)

func (f AcquireFailure) Error() string {
	switch f {
	case OutOfIndices:
		return "unique index set: out of indices"
	case IsLocked:
		return "unique index set: is locked"
	default:
		return "unique index set: unknown failure"
	}
}

// ReleaseMode selects what happens to an index's slot when it is released.
type ReleaseMode int

const (
	// ReleaseDefault always returns the index to the free list.
	ReleaseDefault ReleaseMode = iota
	// ReleaseLockIfLastIndex returns the index to the free list unless this
	// release brings the number of borrowed indices to zero, in which case
	// the set is locked instead: the index is withheld and every subsequent
	// Acquire fails with IsLocked. Used to freeze a slot map once its last
	// user has departed, so a destruction race cannot hand the slot to a
	// new owner.
	ReleaseLockIfLastIndex
)

// ReleaseState reports the outcome of a LockIfLastIndex release.
type ReleaseState int

const (
	// Unlocked means the index was returned to the free list normally.
	Unlocked ReleaseState = iota
	// Locked means the set transitioned to locked and the index was
	// withheld.
	Locked
)

const emptyStackTop = ^uint32(0)

// UniqueIndexSet is a fixed-capacity, lock-free, multi-producer/multi-consumer
// pool of indices in [0, capacity). Indices are handed out by Acquire and
// returned by Release in LIFO order via a Treiber stack; the stack head packs
// a tag alongside the top index so concurrent pop/push pairs cannot suffer an
// ABA collision within the lifetime of any single index set.
type UniqueIndexSet struct {
	capacity uint32
	next     []atomic.Uint32
	head     atomic.Uint64
	borrowed atomic.Int64
	locked   atomic.Bool
}

// NewUniqueIndexSet creates a set containing every index in [0, capacity).
// capacity must be at least 1.
func NewUniqueIndexSet(capacity uint32) *UniqueIndexSet {
	if capacity == 0 {
		capacity = 1
	}
	s := &UniqueIndexSet{
		capacity: capacity,
		next:     make([]atomic.Uint32, capacity),
	}
	for i := uint32(0); i < capacity; i++ {
		if i+1 < capacity {
			s.next[i].Store(i + 1)
		} else {
			s.next[i].Store(emptyStackTop)
		}
	}
	s.head.Store(packStackHead(0, 0))
	return s
}

// Capacity returns the fixed number of indices the set was created with.
func (s *UniqueIndexSet) Capacity() uint32 { return s.capacity }

// BorrowedIndices returns the number of indices currently acquired.
func (s *UniqueIndexSet) BorrowedIndices() int {
	return int(s.borrowed.Load())
}

// UniqueIndex is a borrowed slot from a UniqueIndexSet. It carries no
// ownership enforcement beyond the value itself; callers release it exactly
// once via the originating set.
type UniqueIndex struct {
	value uint32
}

// Value returns the borrowed index.
func (u UniqueIndex) Value() uint32 { return u.value }

// Acquire borrows the most recently released index, or the lowest unused
// index if the set has never been drained.
func (s *UniqueIndexSet) Acquire() (UniqueIndex, error) {
	idx, err := s.AcquireRawIndex()
	if err != nil {
		return UniqueIndex{}, err
	}
	return UniqueIndex{value: idx}, nil
}

// AcquireRawIndex is the unwrapped form of Acquire for callers that manage
// index lifetime themselves (for example a slot map storing the index
// alongside other per-slot state).
func (s *UniqueIndexSet) AcquireRawIndex() (uint32, error) {
	if s.locked.Load() {
		return 0, IsLocked
	}
	for {
		oldHead := s.head.Load()
		top, tag := unpackStackHead(oldHead)
		if top == emptyStackTop {
			return 0, OutOfIndices
		}
		newTop := s.next[top].Load()
		newHead := packStackHead(newTop, tag+1)
		if s.head.CompareAndSwap(oldHead, newHead) {
			s.borrowed.Add(1)
			return top, nil
		}
	}
}

// Release returns idx to the free list under the default release mode.
func (s *UniqueIndexSet) Release(idx UniqueIndex) {
	s.ReleaseRawIndex(idx.value, ReleaseDefault)
}

// ReleaseRawIndex returns idx according to mode. See ReleaseMode for the
// semantics of each mode.
func (s *UniqueIndexSet) ReleaseRawIndex(idx uint32, mode ReleaseMode) ReleaseState {
	remaining := s.borrowed.Add(-1)
	if mode == ReleaseLockIfLastIndex && remaining == 0 {
		s.locked.Store(true)
		return Locked
	}
	s.push(idx)
	return Unlocked
}

func (s *UniqueIndexSet) push(idx uint32) {
	for {
		oldHead := s.head.Load()
		top, tag := unpackStackHead(oldHead)
		s.next[idx].Store(top)
		newHead := packStackHead(idx, tag+1)
		if s.head.CompareAndSwap(oldHead, newHead) {
			return
		}
	}
}

func packStackHead(top, tag uint32) uint64 {
	return uint64(tag)<<32 | uint64(top)
}

func unpackStackHead(head uint64) (top, tag uint32) {
	return uint32(head), uint32(head >> 32)
}

// ErrUniqueIndexSetExhausted reports a requested capacity that does not fit
// within a set's backing capacity.
var ErrUniqueIndexSetExhausted = errors.New("unique index set: requested capacity exceeds backing capacity")
