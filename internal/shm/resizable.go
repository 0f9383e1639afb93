package shm

import (
	"fmt"
	"sync"
	"time"

	"github.com/iox2go/iceoryx2/internal/logx"
	"github.com/iox2go/iceoryx2/internal/transport"
)

// RetentionPolicy controls what happens to an older, fully drained segment
// after the resizable memory has grown past it.
type RetentionPolicy int

const (
	// RetainUntilPortDestruction keeps every segment mapped until Close.
	RetainUntilPortDestruction RetentionPolicy = iota
	// EagerUnmap unmaps a segment as soon as its pool reports zero used
	// buckets after growth has moved allocation to a newer segment.
	EagerUnmap
)

// MaxSegments bounds the SegmentID space of one ResizableMemory; ids are
// never reused while a peer may still hold an offset into them.
const MaxSegments = 8

type segmentEntry struct {
	seg   *Segment
	alloc *PoolAllocator
}

// ResizableMemory owns an ordered set of segments, each with its own pool
// allocator, and grows by appending a new segment when the current one
// cannot satisfy an allocation. Readers resolve (segment id, offset) pairs
// back to local memory via Translate. Translate only resolves segments this
// instance created and still maps; it does not open segments by name, and
// an id it does not map yields TranslationUnknownSegment.
type ResizableMemory struct {
	provider  *Provider
	name      string
	strategy  ResizeStrategy
	retention RetentionPolicy
	maxSegs   int

	mu       sync.RWMutex
	segments [MaxSegments]*segmentEntry
	current  transport.SegmentID
	nextID   int
	closed   bool
}

// NewResizableMemory creates the first segment with the given bucket
// geometry. name seeds the per-segment artifact names; maxSegments caps
// growth (values outside 1..MaxSegments are replaced by MaxSegments).
func NewResizableMemory(provider *Provider, name string, layout BucketLayout, strategy ResizeStrategy, retention RetentionPolicy, maxSegments int) (*ResizableMemory, error) {
	if maxSegments < 1 || maxSegments > MaxSegments {
		maxSegments = MaxSegments
	}
	m := &ResizableMemory{
		provider:  provider,
		name:      name,
		strategy:  strategy,
		retention: retention,
		maxSegs:   maxSegments,
	}
	if err := m.addSegmentLocked(layout); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ResizableMemory) segmentName(id int) string {
	return fmt.Sprintf("%s_%d", m.name, id)
}

func (m *ResizableMemory) addSegmentLocked(layout BucketLayout) error {
	if m.nextID >= m.maxSegs {
		return AllocationExceedsMaxSupportedSegments
	}
	seg, err := m.provider.Create(m.segmentName(m.nextID), layout.PayloadBytes())
	if err != nil {
		return err
	}
	id := transport.SegmentID(m.nextID)
	m.segments[id] = &segmentEntry{seg: seg, alloc: NewPoolAllocator(layout)}
	m.current = id
	m.nextID++
	return nil
}

// Allocate returns a chunk satisfying layout as a (PointerOffset, local
// slice) pair. When the current segment is exhausted it grows by creating a
// new segment sized by the pool's ResizeHint; with ResizeStatic, exhaustion
// surfaces as AllocationOutOfMemory instead.
func (m *ResizableMemory) Allocate(layout Layout) (transport.PointerOffset, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, nil, AllocationOutOfMemory
	}

	entry := m.segments[m.current]
	off, err := entry.alloc.Allocate(layout)
	if err == nil {
		ptr := transport.NewPointerOffset(m.current, off)
		return ptr, entry.seg.Payload()[off : off+layout.Size], nil
	}
	if err == AllocationExceedsMaxSupportedAlignment && layout.Alignment > entry.alloc.Layout().Alignment {
		// A larger alignment needs a new segment geometry, same as growth.
	} else if err != AllocationOutOfMemory {
		return 0, nil, err
	}
	if m.strategy == ResizeStatic {
		return 0, nil, err
	}

	hint := entry.alloc.ResizeHint(layout, m.strategy)
	if err := m.addSegmentLocked(hint); err != nil {
		return 0, nil, err
	}
	m.maybeReleaseDrainedLocked()

	entry = m.segments[m.current]
	off, err = entry.alloc.Allocate(layout)
	if err != nil {
		return 0, nil, err
	}
	logx.For("shm").Debugf("memory %q grew to segment %d (%d-byte buckets)", m.name, m.current, hint.Size)
	ptr := transport.NewPointerOffset(m.current, off)
	return ptr, entry.seg.Payload()[off : off+layout.Size], nil
}

// Translate resolves ptr to the chunk bytes within this memory. length is
// the number of bytes the caller will access starting at the offset.
func (m *ResizableMemory) Translate(ptr transport.PointerOffset, length uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry := m.segments[ptr.Segment()]
	if entry == nil {
		return nil, TranslationUnknownSegment
	}
	payload := entry.seg.Payload()
	off := ptr.Offset()
	if off+length > uint64(len(payload)) {
		return nil, TranslationOffsetOutOfBounds
	}
	return payload[off : off+length], nil
}

// Deallocate routes ptr back to its segment's pool.
func (m *ResizableMemory) Deallocate(ptr transport.PointerOffset, layout Layout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.segments[ptr.Segment()]
	if entry == nil {
		return
	}
	entry.alloc.Deallocate(ptr.Offset(), layout)
	m.maybeReleaseDrainedLocked()
}

// maybeReleaseDrainedLocked unmaps fully drained non-current segments under
// the EagerUnmap policy.
func (m *ResizableMemory) maybeReleaseDrainedLocked() {
	if m.retention != EagerUnmap {
		return
	}
	for id, entry := range m.segments {
		if entry == nil || transport.SegmentID(id) == m.current {
			continue
		}
		if entry.alloc.NumberOfUsedBuckets() == 0 {
			entry.seg.Close()
			m.segments[id] = nil
		}
	}
}

// NumberOfSegments returns how many segments are currently mapped.
func (m *ResizableMemory) NumberOfSegments() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.segments {
		if e != nil {
			n++
		}
	}
	return n
}

// CurrentLayout returns the bucket geometry of the segment new allocations
// are served from.
func (m *ResizableMemory) CurrentLayout() BucketLayout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.segments[m.current].alloc.Layout()
}

// Close unmaps and removes every owned segment.
func (m *ResizableMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, entry := range m.segments {
		if entry == nil {
			continue
		}
		entry.seg.Close()
		m.segments[id] = nil
	}
	return nil
}

// OpenTimeout is the default bound an opener waits for a racing creator.
const OpenTimeout = 100 * time.Millisecond
