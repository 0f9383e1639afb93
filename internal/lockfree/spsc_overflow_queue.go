package lockfree

import "sync/atomic"

// OverflowIndexQueue is the safely-overflowing variant of IndexQueue: when
// push would overflow a full queue, it atomically advances the read position
// and hands the displaced oldest value back to the caller instead of
// rejecting the new one. Used by connections created with
// enable_safe_overflow.
type OverflowIndexQueue struct {
	capacity    uint64
	data        []uint64
	writePos    atomic.Uint64
	readPos     atomic.Uint64
	hasProducer atomic.Bool
	hasConsumer atomic.Bool
}

// NewOverflowIndexQueue creates an empty safely-overflowing queue of the
// given capacity (at least 1).
func NewOverflowIndexQueue(capacity uint64) *OverflowIndexQueue {
	if capacity == 0 {
		capacity = 1
	}
	q := &OverflowIndexQueue{
		capacity: capacity,
		data:     make([]uint64, capacity),
	}
	q.hasProducer.Store(true)
	q.hasConsumer.Store(true)
	return q
}

func (q *OverflowIndexQueue) AcquireProducer() (*OverflowProducer, bool) {
	if q.hasProducer.CompareAndSwap(true, false) {
		return &OverflowProducer{q: q}, true
	}
	return nil, false
}

func (q *OverflowIndexQueue) AcquireConsumer() (*OverflowConsumer, bool) {
	if q.hasConsumer.CompareAndSwap(true, false) {
		return &OverflowConsumer{q: q}, true
	}
	return nil, false
}

func (q *OverflowIndexQueue) Capacity() uint64 { return q.capacity }

func (q *OverflowIndexQueue) IsEmpty() bool {
	return q.writePos.Load() == q.readPos.Load()
}

func (q *OverflowIndexQueue) Len() uint64 {
	return q.writePos.Load() - q.readPos.Load()
}

// OverflowProducer is the exclusive push side of an OverflowIndexQueue.
type OverflowProducer struct{ q *OverflowIndexQueue }

// Push appends v. If the queue was full, the oldest value is evicted and
// returned as (displaced, true); otherwise displaced is the zero value and
// false.
func (p *OverflowProducer) Push(v uint64) (displaced uint64, didOverflow bool) {
	q := p.q
	writePos := q.writePos.Load()
	readPos := q.readPos.Load()
	full := writePos == readPos+q.capacity
	if full {
		displaced = q.data[readPos%q.capacity]
		// Evict the oldest slot before it is overwritten: advance readPos
		// first so a concurrent consumer never observes a torn slot.
		q.readPos.Store(readPos + 1)
		didOverflow = true
	}
	q.data[writePos%q.capacity] = v
	q.writePos.Store(writePos + 1)
	return displaced, didOverflow
}

func (p *OverflowProducer) Release() { p.q.hasProducer.Store(true) }

// OverflowConsumer is the exclusive pop side of an OverflowIndexQueue.
type OverflowConsumer struct{ q *OverflowIndexQueue }

func (c *OverflowConsumer) Pop() (v uint64, ok bool) {
	q := c.q
	readPos := q.readPos.Load()
	if readPos == q.writePos.Load() {
		return 0, false
	}
	v = q.data[readPos%q.capacity]
	q.readPos.Store(readPos + 1)
	return v, true
}

func (c *OverflowConsumer) Release() { c.q.hasConsumer.Store(true) }
