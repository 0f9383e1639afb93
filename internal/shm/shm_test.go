package shm

import (
	"errors"
	"testing"

	"github.com/iox2go/iceoryx2/internal/transport"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	return &Provider{Root: t.TempDir()}
}

func TestSegmentCreateIsExclusive(t *testing.T) {
	p := testProvider(t)
	seg, err := p.Create("data_0", 4096)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer seg.Close()

	if _, err := p.Create("data_0", 4096); !errors.Is(err, SegmentAlreadyExists) {
		t.Fatalf("expected SegmentAlreadyExists, got %v", err)
	}
}

func TestSegmentOpenSeesCreatorWrites(t *testing.T) {
	p := testProvider(t)
	seg, err := p.Create("data_1", 4096)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer seg.Close()
	copy(seg.Payload(), []byte("hello"))

	opened, err := p.Open("data_1", 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer opened.Close()

	if opened.Capacity() != 4096 {
		t.Fatalf("expected capacity 4096, got %d", opened.Capacity())
	}
	if string(opened.Payload()[:5]) != "hello" {
		t.Fatalf("opener does not see creator's payload")
	}
	if opened.HasOwnership() {
		t.Fatal("opener must not own the segment")
	}
}

func TestSegmentOpenMissingFails(t *testing.T) {
	p := testProvider(t)
	if _, err := p.Open("nope", 0); !errors.Is(err, SegmentDoesNotExist) {
		t.Fatalf("expected SegmentDoesNotExist, got %v", err)
	}
}

func TestSegmentReleaseOwnershipPersists(t *testing.T) {
	p := testProvider(t)
	seg, err := p.Create("data_2", 128)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	seg.ReleaseOwnership()
	seg.Close()

	opened, err := p.Open("data_2", 0)
	if err != nil {
		t.Fatalf("segment should persist after non-owning close: %v", err)
	}
	opened.Close()
}

func TestSegmentList(t *testing.T) {
	p := testProvider(t)
	a, _ := p.Create("seg_a", 64)
	defer a.Close()
	b, _ := p.Create("seg_b", 64)
	defer b.Close()

	names, err := p.List()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 segments, got %v", names)
	}
}

func TestLocalSegmentWorksWithoutFilesystem(t *testing.T) {
	p := &Provider{Local: true}
	seg, err := p.Create("local", 256)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer seg.Close()
	if seg.Capacity() != 256 {
		t.Fatalf("expected capacity 256, got %d", seg.Capacity())
	}
	seg.Payload()[0] = 0xAB
}

func TestPoolAllocatorExhaustion(t *testing.T) {
	alloc := NewPoolAllocator(BucketLayout{Size: 64, Alignment: 8, Count: 2})
	layout := Layout{Size: 64, Alignment: 8}

	a, err := alloc.Allocate(layout)
	if err != nil {
		t.Fatalf("first allocate failed: %v", err)
	}
	b, err := alloc.Allocate(layout)
	if err != nil {
		t.Fatalf("second allocate failed: %v", err)
	}
	if a == b {
		t.Fatal("allocator returned the same bucket twice")
	}
	if _, err := alloc.Allocate(layout); !errors.Is(err, AllocationOutOfMemory) {
		t.Fatalf("expected AllocationOutOfMemory, got %v", err)
	}
	if alloc.NumberOfUsedBuckets() != 2 {
		t.Fatalf("expected 2 used buckets, got %d", alloc.NumberOfUsedBuckets())
	}

	alloc.Deallocate(b, layout)
	if _, err := alloc.Allocate(layout); err != nil {
		t.Fatalf("allocate after deallocate failed: %v", err)
	}
}

func TestPoolAllocatorRejectsOversizedAlignment(t *testing.T) {
	alloc := NewPoolAllocator(BucketLayout{Size: 64, Alignment: 8, Count: 4})
	if _, err := alloc.Allocate(Layout{Size: 8, Alignment: 64}); !errors.Is(err, AllocationExceedsMaxSupportedAlignment) {
		t.Fatalf("expected AllocationExceedsMaxSupportedAlignment, got %v", err)
	}
}

func TestPoolAllocatorRoundTripRestoresState(t *testing.T) {
	alloc := NewPoolAllocator(BucketLayout{Size: 32, Alignment: 8, Count: 8})
	layout := Layout{Size: 32, Alignment: 8}

	offsets := make([]uint64, 0, 8)
	for i := 0; i < 8; i++ {
		off, err := alloc.Allocate(layout)
		if err != nil {
			t.Fatalf("allocate %d failed: %v", i, err)
		}
		offsets = append(offsets, off)
	}
	for _, off := range offsets {
		alloc.Deallocate(off, layout)
	}
	if alloc.NumberOfUsedBuckets() != 0 {
		t.Fatalf("expected empty pool, got %d used", alloc.NumberOfUsedBuckets())
	}
	// The full capacity must be allocatable again, bucket order irrelevant.
	for i := 0; i < 8; i++ {
		if _, err := alloc.Allocate(layout); err != nil {
			t.Fatalf("re-allocate %d failed: %v", i, err)
		}
	}
}

func TestResizeHintStrategies(t *testing.T) {
	alloc := NewPoolAllocator(BucketLayout{Size: 48, Alignment: 8, Count: 3})
	req := Layout{Size: 100, Alignment: 16}

	static := alloc.ResizeHint(req, ResizeStatic)
	if static != alloc.Layout() {
		t.Fatalf("static hint must echo current layout, got %+v", static)
	}

	best := alloc.ResizeHint(req, ResizeBestFit)
	if best.Size != 100 || best.Alignment != 16 {
		t.Fatalf("best-fit hint wrong: %+v", best)
	}

	pow := alloc.ResizeHint(req, ResizePowerOfTwo)
	if pow.Size != 128 || pow.Count != 4 {
		t.Fatalf("power-of-two hint wrong: %+v", pow)
	}
}

func TestResizableMemoryGrowsOnExhaustion(t *testing.T) {
	p := testProvider(t)
	m, err := NewResizableMemory(p, "pub_data", BucketLayout{Size: 64, Alignment: 8, Count: 1}, ResizePowerOfTwo, RetainUntilPortDestruction, 4)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer m.Close()

	layout := Layout{Size: 64, Alignment: 8}
	first, _, err := m.Allocate(layout)
	if err != nil {
		t.Fatalf("first allocate failed: %v", err)
	}
	second, _, err := m.Allocate(layout)
	if err != nil {
		t.Fatalf("allocate after growth failed: %v", err)
	}
	if first.Segment() == second.Segment() {
		t.Fatal("expected growth into a new segment")
	}
	if m.NumberOfSegments() != 2 {
		t.Fatalf("expected 2 segments, got %d", m.NumberOfSegments())
	}
}

func TestResizableMemoryTranslate(t *testing.T) {
	p := testProvider(t)
	m, err := NewResizableMemory(p, "pub_data2", BucketLayout{Size: 16, Alignment: 8, Count: 4}, ResizeBestFit, RetainUntilPortDestruction, 2)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer m.Close()

	ptr, chunk, err := m.Allocate(Layout{Size: 16, Alignment: 8})
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	chunk[0] = 0xEF

	translated, err := m.Translate(ptr, 16)
	if err != nil {
		t.Fatalf("translate failed: %v", err)
	}
	if translated[0] != 0xEF {
		t.Fatal("translate returned a different chunk")
	}

	bogus := transport.NewPointerOffset(7, 0)
	if _, err := m.Translate(bogus, 16); !errors.Is(err, TranslationUnknownSegment) {
		t.Fatalf("expected TranslationUnknownSegment, got %v", err)
	}
}

func TestResizableMemoryMaxSegmentsBound(t *testing.T) {
	p := testProvider(t)
	m, err := NewResizableMemory(p, "pub_data3", BucketLayout{Size: 32, Alignment: 8, Count: 1}, ResizeBestFit, RetainUntilPortDestruction, 2)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer m.Close()

	layout := Layout{Size: 32, Alignment: 8}
	if _, _, err := m.Allocate(layout); err != nil {
		t.Fatalf("allocate 1 failed: %v", err)
	}
	if _, _, err := m.Allocate(layout); err != nil {
		t.Fatalf("allocate 2 failed: %v", err)
	}
	if _, _, err := m.Allocate(layout); !errors.Is(err, AllocationExceedsMaxSupportedSegments) {
		t.Fatalf("expected AllocationExceedsMaxSupportedSegments, got %v", err)
	}
}

func TestResizableMemoryEagerUnmapReleasesDrainedSegments(t *testing.T) {
	p := testProvider(t)
	m, err := NewResizableMemory(p, "pub_data4", BucketLayout{Size: 32, Alignment: 8, Count: 1}, ResizeBestFit, EagerUnmap, 4)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer m.Close()

	layout := Layout{Size: 32, Alignment: 8}
	first, _, err := m.Allocate(layout)
	if err != nil {
		t.Fatalf("allocate 1 failed: %v", err)
	}
	if _, _, err := m.Allocate(layout); err != nil {
		t.Fatalf("allocate 2 failed: %v", err)
	}

	m.Deallocate(first, layout)
	if m.NumberOfSegments() != 1 {
		t.Fatalf("expected drained segment to be unmapped, have %d", m.NumberOfSegments())
	}
}
