package transport

import (
	"errors"
	"math/rand"
	"testing"
)

func newTestConnection(t *testing.T, cfg Config) (*Sender, *Receiver) {
	t.Helper()
	conn, err := Create(cfg)
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if err := Open(conn, cfg); err != nil {
		t.Fatalf("open connection: %v", err)
	}
	return NewSender(conn), NewReceiver(conn)
}

func TestOpenRejectsIncompatibleConfig(t *testing.T) {
	cfg := DefaultConfig()
	conn, err := Create(cfg)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	other := cfg
	other.BufferSize++
	if err := Open(conn, other); !errors.Is(err, CreationIncompatibleBufferSize) {
		t.Fatalf("expected CreationIncompatibleBufferSize, got %v", err)
	}

	other = cfg
	other.EnableSafeOverflow = !cfg.EnableSafeOverflow
	if err := Open(conn, other); !errors.Is(err, CreationIncompatibleOverflowSetting) {
		t.Fatalf("expected CreationIncompatibleOverflowSetting, got %v", err)
	}

	other = cfg
	other.NumberOfChannels = cfg.NumberOfChannels + 1
	if err := Open(conn, other); !errors.Is(err, CreationIncompatibleNumberOfChannels) {
		t.Fatalf("expected CreationIncompatibleNumberOfChannels, got %v", err)
	}
}

func TestFifoDeliveryOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 8
	cfg.MaxBorrowedSamplesPerChannel = 8
	sender, receiver := newTestConnection(t, cfg)

	for i := 0; i < 8; i++ {
		if _, err := sender.TrySend(NewPointerOffset(0, uint64(i)*64), 0); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	for i := 0; i < 8; i++ {
		ptr, err := receiver.Receive(0)
		if err != nil || ptr == nil {
			t.Fatalf("receive %d failed: ptr=%v err=%v", i, ptr, err)
		}
		if ptr.Offset() != uint64(i)*64 {
			t.Fatalf("FIFO violated: got offset %d at position %d", ptr.Offset(), i)
		}
	}
}

func TestSendToFullWithoutOverflowRejectsAndKeepsRing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	sender, receiver := newTestConnection(t, cfg)

	for i := 0; i < 2; i++ {
		if _, err := sender.TrySend(NewPointerOffset(0, uint64(i)), 0); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if _, err := sender.TrySend(NewPointerOffset(0, 99), 0); !errors.Is(err, SendReceiveBufferFull) {
		t.Fatalf("expected SendReceiveBufferFull, got %v", err)
	}

	// Ring contents must be unchanged by the rejected send.
	first, err := receiver.Receive(0)
	if err != nil || first == nil || first.Offset() != 0 {
		t.Fatalf("ring disturbed by rejected send: %v %v", first, err)
	}
}

func TestSafeOverflowReturnsDisplacedOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	cfg.EnableSafeOverflow = true
	sender, receiver := newTestConnection(t, cfg)

	for i := 1; i <= 2; i++ {
		displaced, err := sender.TrySend(NewPointerOffset(0, uint64(i)), 0)
		if err != nil || displaced != nil {
			t.Fatalf("send %d: displaced=%v err=%v", i, displaced, err)
		}
	}
	displaced, err := sender.TrySend(NewPointerOffset(0, 3), 0)
	if err != nil {
		t.Fatalf("overflowing send failed: %v", err)
	}
	if displaced == nil || displaced.Offset() != 1 {
		t.Fatalf("expected displaced oldest offset 1, got %v", displaced)
	}

	// Remaining delivery order: 2, then 3.
	for _, want := range []uint64{2, 3} {
		ptr, err := receiver.Receive(0)
		if err != nil || ptr == nil || ptr.Offset() != want {
			t.Fatalf("expected offset %d, got %v (err %v)", want, ptr, err)
		}
	}
}

func TestReceiveEnforcesMaxBorrow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 4
	cfg.MaxBorrowedSamplesPerChannel = 2
	sender, receiver := newTestConnection(t, cfg)

	for i := 0; i < 4; i++ {
		if _, err := sender.TrySend(NewPointerOffset(0, uint64(i)), 0); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	a, _ := receiver.Receive(0)
	b, _ := receiver.Receive(0)
	if a == nil || b == nil {
		t.Fatal("first two receives must succeed")
	}
	if _, err := receiver.Receive(0); !errors.Is(err, ReceiveWouldExceedMaxBorrowValue) {
		t.Fatalf("expected ReceiveWouldExceedMaxBorrowValue, got %v", err)
	}

	if err := receiver.Release(*a, 0); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if c, err := receiver.Receive(0); err != nil || c == nil {
		t.Fatalf("receive after release failed: %v %v", c, err)
	}
	if receiver.BorrowCount(0) != 2 {
		t.Fatalf("expected borrow count 2, got %d", receiver.BorrowCount(0))
	}
}

func TestReclaimReturnsReleasedOffsets(t *testing.T) {
	cfg := DefaultConfig()
	sender, receiver := newTestConnection(t, cfg)

	sent := NewPointerOffset(1, 128)
	if _, err := sender.TrySend(sent, 0); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ptr, err := receiver.Receive(0)
	if err != nil || ptr == nil {
		t.Fatalf("receive failed: %v", err)
	}
	if err := receiver.Release(*ptr, 0); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	reclaimed, err := sender.Reclaim(0)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed == nil || *reclaimed != sent {
		t.Fatalf("expected reclaimed %v, got %v", sent, reclaimed)
	}
	// Nothing further to reclaim.
	if again, _ := sender.Reclaim(0); again != nil {
		t.Fatalf("expected empty release ring, reclaimed %v", again)
	}
}

func TestAcquireUsedOffsetsDrainsExactlyOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 4
	cfg.MaxBorrowedSamplesPerChannel = 4
	sender, receiver := newTestConnection(t, cfg)

	for i := 0; i < 3; i++ {
		if _, err := sender.TrySend(NewPointerOffset(0, uint64(i)), 0); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	// The consumer takes one sample and then "dies" holding it.
	if ptr, err := receiver.Receive(0); err != nil || ptr == nil {
		t.Fatal("receive failed")
	}

	var recovered []PointerOffset
	sender.AcquireUsedOffsets(0, func(p PointerOffset) { recovered = append(recovered, p) })
	if len(recovered) != 3 {
		t.Fatalf("expected all 3 outstanding offsets recovered, got %d", len(recovered))
	}

	recovered = recovered[:0]
	sender.AcquireUsedOffsets(0, func(p PointerOffset) { recovered = append(recovered, p) })
	if len(recovered) != 0 {
		t.Fatalf("second drain must be empty, got %d", len(recovered))
	}
}

func TestDisplacedOffsetLeavesUsedChunkList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 2
	cfg.EnableSafeOverflow = true
	sender, receiver := newTestConnection(t, cfg)

	for i := 1; i <= 2; i++ {
		if _, err := sender.TrySend(NewPointerOffset(0, uint64(i)), 0); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	displaced, err := sender.TrySend(NewPointerOffset(0, 3), 0)
	if err != nil || displaced == nil {
		t.Fatalf("overflowing send: displaced=%v err=%v", displaced, err)
	}

	// The consumer dies holding one sample; the dead-peer drain must hand
	// back only the offsets still reachable through the connection. The
	// displaced offset was already returned to the producer above, so a
	// second appearance here would recycle the same chunk twice.
	if ptr, err := receiver.Receive(0); err != nil || ptr == nil {
		t.Fatal("receive failed")
	}

	var recovered []PointerOffset
	sender.AcquireUsedOffsets(0, func(p PointerOffset) { recovered = append(recovered, p) })
	if len(recovered) != 2 {
		t.Fatalf("expected 2 recovered offsets, got %d (%v)", len(recovered), recovered)
	}
	for _, p := range recovered {
		if p == *displaced {
			t.Fatalf("displaced offset %v must not reappear in the used-chunk drain", *displaced)
		}
	}
}

// TestOffsetAccountingInvariant fuzzes send/receive/release/reclaim
// sequences and checks that every offset is always in exactly one place:
// free at the producer, in the delivery ring, borrowed by the consumer, or
// in the release ring.
func TestOffsetAccountingInvariant(t *testing.T) {
	const pool = 8
	cfg := DefaultConfig()
	cfg.BufferSize = pool
	cfg.MaxBorrowedSamplesPerChannel = pool
	sender, receiver := newTestConnection(t, cfg)

	rng := rand.New(rand.NewSource(7))
	free := make([]PointerOffset, 0, pool)
	for i := 0; i < pool; i++ {
		free = append(free, NewPointerOffset(0, uint64(i)*256))
	}
	var inFlight, borrowed, released int

	check := func(step int) {
		if len(free)+inFlight+borrowed+released != pool {
			t.Fatalf("step %d: accounting broken: free=%d inFlight=%d borrowed=%d released=%d",
				step, len(free), inFlight, borrowed, released)
		}
	}

	held := make([]PointerOffset, 0, pool)
	for step := 0; step < 10000; step++ {
		switch rng.Intn(4) {
		case 0: // send
			if len(free) == 0 {
				continue
			}
			ptr := free[len(free)-1]
			if _, err := sender.TrySend(ptr, 0); err == nil {
				free = free[:len(free)-1]
				inFlight++
			}
		case 1: // receive
			ptr, err := receiver.Receive(0)
			if err == nil && ptr != nil {
				held = append(held, *ptr)
				inFlight--
				borrowed++
			}
		case 2: // release a borrow
			if len(held) == 0 {
				continue
			}
			ptr := held[len(held)-1]
			if err := receiver.Release(ptr, 0); err == nil {
				held = held[:len(held)-1]
				borrowed--
				released++
			}
		case 3: // reclaim
			ptr, err := sender.Reclaim(0)
			if err == nil && ptr != nil {
				free = append(free, *ptr)
				released--
			}
		}
		check(step)
	}
}

// TestOffsetAccountingInvariantWithOverflow is the same accounting fuzz
// with safe overflow on: displaced offsets return to the producer's free
// pool immediately, and a final dead-peer drain must account for exactly
// the offsets still outstanding.
func TestOffsetAccountingInvariantWithOverflow(t *testing.T) {
	const pool = 8
	cfg := DefaultConfig()
	cfg.BufferSize = 4
	cfg.EnableSafeOverflow = true
	cfg.MaxBorrowedSamplesPerChannel = pool
	sender, receiver := newTestConnection(t, cfg)

	rng := rand.New(rand.NewSource(11))
	free := make([]PointerOffset, 0, pool)
	for i := 0; i < pool; i++ {
		free = append(free, NewPointerOffset(0, uint64(i)*256))
	}
	var inFlight, borrowed, released int

	check := func(step int) {
		if len(free)+inFlight+borrowed+released != pool {
			t.Fatalf("step %d: accounting broken: free=%d inFlight=%d borrowed=%d released=%d",
				step, len(free), inFlight, borrowed, released)
		}
	}

	held := make([]PointerOffset, 0, pool)
	for step := 0; step < 10000; step++ {
		switch rng.Intn(4) {
		case 0: // send, possibly displacing the oldest in-flight offset
			if len(free) == 0 {
				continue
			}
			ptr := free[len(free)-1]
			displaced, err := sender.TrySend(ptr, 0)
			if err != nil {
				continue
			}
			free = free[:len(free)-1]
			inFlight++
			if displaced != nil {
				free = append(free, *displaced)
				inFlight--
			}
		case 1: // receive
			ptr, err := receiver.Receive(0)
			if err == nil && ptr != nil {
				held = append(held, *ptr)
				inFlight--
				borrowed++
			}
		case 2: // release a borrow
			if len(held) == 0 {
				continue
			}
			ptr := held[len(held)-1]
			if err := receiver.Release(ptr, 0); err == nil {
				held = held[:len(held)-1]
				borrowed--
				released++
			}
		case 3: // reclaim
			ptr, err := sender.Reclaim(0)
			if err == nil && ptr != nil {
				free = append(free, *ptr)
				released--
			}
		}
		check(step)
	}

	// Simulate consumer death: everything not free must come back exactly
	// once through the used-chunk drain.
	var recovered int
	sender.AcquireUsedOffsets(0, func(PointerOffset) { recovered++ })
	if recovered != pool-len(free) {
		t.Fatalf("dead-peer drain returned %d offsets, want %d", recovered, pool-len(free))
	}
}

func TestPointerOffsetPacksSegmentAndOffset(t *testing.T) {
	ptr := NewPointerOffset(5, 1<<40)
	if ptr.Segment() != 5 {
		t.Fatalf("segment mismatch: %d", ptr.Segment())
	}
	if ptr.Offset() != 1<<40 {
		t.Fatalf("offset mismatch: %d", ptr.Offset())
	}
}

func TestArtifactNameIsDeterministic(t *testing.T) {
	a := ArtifactName("iox2_", 1, 2)
	b := ArtifactName("iox2_", 1, 2)
	if a != b {
		t.Fatal("both sides must derive the same connection name")
	}
	if a == ArtifactName("iox2_", 2, 1) {
		t.Fatal("direction must be part of the connection identity")
	}
}
