package shm

import (
	"sync/atomic"

	"github.com/iox2go/iceoryx2/internal/lockfree"
)

// Layout describes the size and alignment of a requested chunk.
type Layout struct {
	Size      uint64
	Alignment uint64
}

// Align rounds v up to the next multiple of alignment (a power of two).
func Align(v, alignment uint64) uint64 {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// ResizeStrategy selects how ResizeHint grows a pool that ran out of
// buckets or was asked for a larger chunk layout.
type ResizeStrategy int

const (
	// ResizeStatic never grows: the hint echoes the current geometry.
	ResizeStatic ResizeStrategy = iota
	// ResizeBestFit grows to exactly what the rejected request needs.
	ResizeBestFit
	// ResizePowerOfTwo grows size and count to the next powers of two,
	// amortizing repeated growth.
	ResizePowerOfTwo
)

// BucketLayout is the fixed chunk geometry of one pool: every bucket has
// the same size and alignment, decided at pool creation.
type BucketLayout struct {
	Size      uint64
	Alignment uint64
	Count     uint64
}

// PayloadBytes returns the total payload a segment needs to host this pool.
func (b BucketLayout) PayloadBytes() uint64 {
	return Align(b.Size, b.Alignment) * b.Count
}

// PoolAllocator hands out fixed-size buckets carved from a segment's
// payload. Free buckets are tracked in a lock-free unique-index set, making
// allocate/deallocate safe against concurrent use and LIFO over recently
// freed buckets.
type PoolAllocator struct {
	layout      BucketLayout
	stride      uint64
	free        *lockfree.UniqueIndexSet
	usedBuckets atomic.Int64
}

// NewPoolAllocator creates a pool with the given bucket geometry. The
// caller guarantees the owning segment's payload spans at least
// layout.PayloadBytes() bytes.
func NewPoolAllocator(layout BucketLayout) *PoolAllocator {
	return &PoolAllocator{
		layout: layout,
		stride: Align(layout.Size, layout.Alignment),
		free:   lockfree.NewUniqueIndexSet(uint32(layout.Count)),
	}
}

// Layout returns the pool's bucket geometry.
func (p *PoolAllocator) Layout() BucketLayout { return p.layout }

// NumberOfUsedBuckets reports how many buckets are currently allocated.
func (p *PoolAllocator) NumberOfUsedBuckets() int {
	return int(p.usedBuckets.Load())
}

// Fits reports whether a single chunk of the requested layout fits in one
// bucket of this pool.
func (p *PoolAllocator) Fits(layout Layout) bool {
	return layout.Size <= p.layout.Size && layout.Alignment <= p.layout.Alignment
}

// Allocate returns the byte offset (from the segment payload base) of a
// free bucket. It fails with AllocationExceedsMaxSupportedAlignment when
// the request's alignment exceeds the bucket alignment, and with
// AllocationOutOfMemory when the request is too large for a bucket or no
// bucket is free.
func (p *PoolAllocator) Allocate(layout Layout) (uint64, error) {
	if layout.Alignment > p.layout.Alignment {
		return 0, AllocationExceedsMaxSupportedAlignment
	}
	if layout.Size > p.layout.Size {
		return 0, AllocationOutOfMemory
	}
	idx, err := p.free.AcquireRawIndex()
	if err != nil {
		return 0, AllocationOutOfMemory
	}
	p.usedBuckets.Add(1)
	return uint64(idx) * p.stride, nil
}

// Deallocate returns the bucket at offset to the free pool. Behavior is
// undefined if offset was not previously returned by Allocate.
func (p *PoolAllocator) Deallocate(offset uint64, _ Layout) {
	idx := uint32(offset / p.stride)
	p.free.ReleaseRawIndex(idx, lockfree.ReleaseDefault)
	p.usedBuckets.Add(-1)
}

// ResizeHint proposes the bucket geometry for a new, larger segment after
// this pool rejected a request of the given layout. With ResizeBestFit and
// ResizePowerOfTwo the returned geometry fits at least one chunk of the
// request; ResizeStatic returns the current geometry unchanged, which may not.
func (p *PoolAllocator) ResizeHint(layout Layout, strategy ResizeStrategy) BucketLayout {
	switch strategy {
	case ResizeStatic:
		return p.layout
	case ResizeBestFit:
		return BucketLayout{
			Size:      maxU64(layout.Size, p.layout.Size),
			Alignment: maxU64(layout.Alignment, p.layout.Alignment),
			Count:     maxU64(p.layout.Count, 1),
		}
	case ResizePowerOfTwo:
		return BucketLayout{
			Size:      nextPowerOfTwo(maxU64(layout.Size, p.layout.Size)),
			Alignment: maxU64(layout.Alignment, p.layout.Alignment),
			Count:     nextPowerOfTwo(p.layout.Count + 1),
		}
	default:
		return p.layout
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func nextPowerOfTwo(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}
