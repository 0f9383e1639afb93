package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iox2go/iceoryx2/internal/lockfree"
)

// Defaults for a Connection's Config, mirrored from the zero-copy
// connection's DEFAULT_* constants.
const (
	DefaultBufferSize                              = 4
	DefaultEnableSafeOverflow                      = false
	DefaultMaxBorrowedSamplesPerChannel            = 4
	DefaultMaxSupportedSharedMemorySegments        = 1
	DefaultNumberOfChannels                        = 1
	DefaultNumberOfSamplesPerSegment               = 8
	InitialChannelState                     uint64 = 0
)

// ArtifactName derives the shared-memory namespace name of the connection
// between a producer and a consumer port. Both sides compute the same name
// independently, so neither needs to tell the other where to attach.
func ArtifactName(prefix string, producerPortID, consumerPortID uint64) string {
	return fmt.Sprintf("%s%016x_%016x.connection", prefix, producerPortID, consumerPortID)
}

// ChannelID selects one of a Connection's channels. Request/response
// connections use two channels (request, response) inside one Connection;
// every other pattern uses exactly one.
type ChannelID int

// CreationState is the lifecycle of a Connection as both peers race to
// create or open it.
type CreationState int

const (
	Uninitialized CreationState = iota
	Initializing
	Initialized
	MarkedForDestruction
)

// Config negotiates the shape of a Connection. Both the creator and the
// opener must agree on every field except Timeout; mismatches surface as
// IncompatibleXxx CreationErrors at Open.
type Config struct {
	BufferSize                       int
	EnableSafeOverflow               bool
	MaxBorrowedSamplesPerChannel     int
	MaxSupportedSharedMemorySegments int
	NumberOfChannels                 int
	Timeout                          time.Duration
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:                       DefaultBufferSize,
		EnableSafeOverflow:               DefaultEnableSafeOverflow,
		MaxBorrowedSamplesPerChannel:     DefaultMaxBorrowedSamplesPerChannel,
		MaxSupportedSharedMemorySegments: DefaultMaxSupportedSharedMemorySegments,
		NumberOfChannels:                 DefaultNumberOfChannels,
	}
}

// Compatible reports whether other can attach to a Connection created with
// cfg, returning the specific CreationError the original negotiates on
// mismatch.
func (cfg Config) Compatible(other Config) error {
	if cfg.BufferSize != other.BufferSize {
		return CreationIncompatibleBufferSize
	}
	if cfg.EnableSafeOverflow != other.EnableSafeOverflow {
		return CreationIncompatibleOverflowSetting
	}
	if cfg.MaxBorrowedSamplesPerChannel != other.MaxBorrowedSamplesPerChannel {
		return CreationIncompatibleMaxBorrowedSamplesPerChannelSetting
	}
	if cfg.MaxSupportedSharedMemorySegments != other.MaxSupportedSharedMemorySegments {
		return CreationIncompatibleNumberOfSegments
	}
	if cfg.NumberOfChannels != other.NumberOfChannels {
		return CreationIncompatibleNumberOfChannels
	}
	return nil
}

type channel struct {
	overflowDelivery *lockfree.OverflowIndexQueue
	plainDelivery    *lockfree.IndexQueue
	release          *lockfree.IndexQueue
	used             *lockfree.FixedVector[PointerOffset]
	usedMu           sync.Mutex
	borrow           *semaphore.Weighted
	borrowCount      atomic.Int64
	state            uint64
}

// removeUsedLocked drops ptr's entry from the used-chunk list, reporting
// whether it was present. usedMu must be held.
func (c *channel) removeUsedLocked(ptr PointerOffset) bool {
	found := -1
	c.used.ForEach(func(i int, p PointerOffset) {
		if p == ptr {
			found = i
		}
	})
	if found < 0 {
		return false
	}
	c.used.RemoveAt(found)
	return true
}

func newChannel(cfg Config) *channel {
	c := &channel{
		release: lockfree.NewIndexQueue(uint64(cfg.BufferSize)),
		used:    lockfree.NewFixedVector[PointerOffset](cfg.BufferSize + cfg.MaxBorrowedSamplesPerChannel),
		borrow:  semaphore.NewWeighted(int64(cfg.MaxBorrowedSamplesPerChannel)),
		state:   InitialChannelState,
	}
	if cfg.EnableSafeOverflow {
		c.overflowDelivery = lockfree.NewOverflowIndexQueue(uint64(cfg.BufferSize))
	} else {
		c.plainDelivery = lockfree.NewIndexQueue(uint64(cfg.BufferSize))
	}
	return c
}

// Connection is the one-to-one zero-copy channel between a producer port and
// a consumer port: a delivery ring carrying outstanding PointerOffsets, a
// release ring carrying offsets the consumer has finished with, and a
// used-chunk list the producer scans to reclaim chunks from a dead peer.
type Connection struct {
	cfg      Config
	channels []*channel
	state    CreationState

	cond   *sync.Cond
	condMu sync.Mutex
}

// Create builds a new Connection as the creating side. In a cross-process
// deployment the named shared-memory artifact this wraps would be created
// here; within one process Create and Open both operate on the same Go
// value, and Open's compatibility check is exercised explicitly by callers
// that hold an independently-built Config.
func Create(cfg Config) (*Connection, error) {
	if cfg.NumberOfChannels < 1 {
		cfg.NumberOfChannels = DefaultNumberOfChannels
	}
	conn := &Connection{cfg: cfg, state: Initializing}
	conn.cond = sync.NewCond(&conn.condMu)
	conn.channels = make([]*channel, cfg.NumberOfChannels)
	for i := range conn.channels {
		conn.channels[i] = newChannel(cfg)
	}
	conn.state = Initialized
	return conn, nil
}

// Open validates that cfg is compatible with an existing Connection before
// handing out a Sender/Receiver against it.
func Open(existing *Connection, cfg Config) error {
	if existing.state != Initialized {
		return CreationInitializationNotYetFinalized
	}
	return existing.cfg.Compatible(cfg)
}

func (c *Connection) channelAt(id ChannelID) *channel {
	return c.channels[int(id)]
}

// Config returns the negotiated configuration of this Connection.
func (c *Connection) Config() Config { return c.cfg }

// MarkForDestruction transitions the Connection into its terminal state so
// late openers fail instead of attaching to a half-torn-down channel.
func (c *Connection) MarkForDestruction() { c.state = MarkedForDestruction }

// Sender is the exclusive producer-side handle to a Connection.
type Sender struct{ conn *Connection }

// NewSender returns a Sender over conn.
func NewSender(conn *Connection) *Sender { return &Sender{conn: conn} }

// TrySend pushes ptr into channelID's delivery ring. If the ring is full and
// safe overflow is disabled, it returns SendReceiveBufferFull. If safe
// overflow evicted the oldest offset, that offset is returned so the caller
// can recycle its chunk.
func (s *Sender) TrySend(ptr PointerOffset, channelID ChannelID) (*PointerOffset, error) {
	ch := s.conn.channelAt(channelID)

	var displaced *PointerOffset
	if ch.overflowDelivery != nil {
		producer, ok := ch.overflowDelivery.AcquireProducer()
		if !ok {
			return nil, SendConnectionCorrupted
		}
		defer producer.Release()
		if d, overflowed := producer.Push(uint64(ptr)); overflowed {
			v := PointerOffset(d)
			displaced = &v
		}
	} else {
		producer, ok := ch.plainDelivery.AcquireProducer()
		if !ok {
			return nil, SendConnectionCorrupted
		}
		defer producer.Release()
		if !producer.Push(uint64(ptr)) {
			return nil, SendReceiveBufferFull
		}
	}

	ch.usedMu.Lock()
	// A displaced offset leaves the consumer's reach the moment it is
	// evicted from the ring; its used-chunk entry goes with it, otherwise a
	// later AcquireUsedOffsets would hand the same chunk out twice.
	if displaced != nil {
		ch.removeUsedLocked(*displaced)
	}
	if !ch.used.PushBack(ptr) {
		ch.usedMu.Unlock()
		return displaced, SendUsedChunkListFull
	}
	ch.usedMu.Unlock()

	s.conn.cond.L.Lock()
	s.conn.cond.Broadcast()
	s.conn.cond.L.Unlock()

	return displaced, nil
}

// BlockingSend behaves like TrySend but, when the ring is full without safe
// overflow, waits (bounded by ctx) for a reclaim to free a slot before
// retrying. It polls a condition variable signaled by Reclaim, the closest
// Go analogue to the original's condvar tied to the release ring.
func (s *Sender) BlockingSend(ctx context.Context, ptr PointerOffset, channelID ChannelID) (*PointerOffset, error) {
	for {
		displaced, err := s.TrySend(ptr, channelID)
		if !errorsIs(err, SendReceiveBufferFull) {
			return displaced, err
		}
		select {
		case <-ctx.Done():
			return nil, SendReceiveBufferFull
		default:
		}
		s.waitForSignal(ctx)
	}
}

func (s *Sender) waitForSignal(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.conn.cond.L.Lock()
		s.conn.cond.Wait()
		s.conn.cond.L.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.conn.cond.L.Lock()
		s.conn.cond.Broadcast()
		s.conn.cond.L.Unlock()
		<-done
	}
}

// Reclaim pops one offset from channelID's release ring and removes it from
// the used-chunk accounting.
func (s *Sender) Reclaim(channelID ChannelID) (*PointerOffset, error) {
	ch := s.conn.channelAt(channelID)
	consumer, ok := ch.release.AcquireConsumer()
	if !ok {
		return nil, nil
	}
	defer consumer.Release()

	v, ok := consumer.Pop()
	if !ok {
		return nil, nil
	}
	ptr := PointerOffset(v)

	ch.usedMu.Lock()
	removed := ch.removeUsedLocked(ptr)
	ch.usedMu.Unlock()
	if !removed {
		return nil, ReclaimReceiverReturnedCorruptedPointerOffset
	}

	s.conn.cond.L.Lock()
	s.conn.cond.Broadcast()
	s.conn.cond.L.Unlock()

	return &ptr, nil
}

// AcquireUsedOffsets drains every offset still marked as used on channelID
// and hands each to callback, for recycling after the peer has been
// declared dead. Callers must ensure no receiver is still active.
func (s *Sender) AcquireUsedOffsets(channelID ChannelID, callback func(PointerOffset)) {
	ch := s.conn.channelAt(channelID)
	ch.usedMu.Lock()
	defer ch.usedMu.Unlock()
	ch.used.ForEach(func(_ int, p PointerOffset) { callback(p) })
	ch.used.Clear()
}

// Receiver is the exclusive consumer-side handle to a Connection.
type Receiver struct{ conn *Connection }

// NewReceiver returns a Receiver over conn.
func NewReceiver(conn *Connection) *Receiver { return &Receiver{conn: conn} }

// HasData reports whether channelID's delivery ring is non-empty.
func (r *Receiver) HasData(channelID ChannelID) bool {
	ch := r.conn.channelAt(channelID)
	if ch.overflowDelivery != nil {
		return !ch.overflowDelivery.IsEmpty()
	}
	return !ch.plainDelivery.IsEmpty()
}

// Receive pops the next delivered offset from channelID, incrementing the
// borrow count. Fails with ReceiveWouldExceedMaxBorrowValue if the consumer
// already holds the configured maximum number of borrows.
func (r *Receiver) Receive(channelID ChannelID) (*PointerOffset, error) {
	ch := r.conn.channelAt(channelID)
	if !ch.borrow.TryAcquire(1) {
		return nil, ReceiveWouldExceedMaxBorrowValue
	}

	var v uint64
	var ok bool
	if ch.overflowDelivery != nil {
		consumer, acquired := ch.overflowDelivery.AcquireConsumer()
		if !acquired {
			ch.borrow.Release(1)
			return nil, nil
		}
		v, ok = consumer.Pop()
		consumer.Release()
	} else {
		consumer, acquired := ch.plainDelivery.AcquireConsumer()
		if !acquired {
			ch.borrow.Release(1)
			return nil, nil
		}
		v, ok = consumer.Pop()
		consumer.Release()
	}
	if !ok {
		ch.borrow.Release(1)
		return nil, nil
	}
	ch.borrowCount.Add(1)
	ptr := PointerOffset(v)
	return &ptr, nil
}

// Release pushes ptr into channelID's release ring, decrementing the borrow
// count, so the producer can reclaim it.
func (r *Receiver) Release(ptr PointerOffset, channelID ChannelID) error {
	ch := r.conn.channelAt(channelID)
	producer, ok := ch.release.AcquireProducer()
	if !ok {
		return ReleaseRetrieveBufferFull
	}
	defer producer.Release()
	if !producer.Push(uint64(ptr)) {
		return ReleaseRetrieveBufferFull
	}
	ch.borrowCount.Add(-1)
	ch.borrow.Release(1)
	return nil
}

// BorrowCount reports how many offsets on channelID are currently borrowed.
func (r *Receiver) BorrowCount(channelID ChannelID) int {
	return int(r.conn.channelAt(channelID).borrowCount.Load())
}

func errorsIs(err, target error) bool {
	if err == nil {
		return target == nil
	}
	type isser interface{ Is(error) bool }
	if ie, ok := err.(isser); ok {
		return ie.Is(target)
	}
	return err == target
}
