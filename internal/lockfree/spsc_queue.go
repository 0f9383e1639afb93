// Package lockfree provides the wait-free and lock-free primitives shared by
// every messaging pattern: a single-producer/single-consumer index queue
// (with and without safe overflow), a multi-producer/multi-consumer unique
// index set, and an atomic bitset. Nothing here allocates or blocks; callers
// are responsible for upholding the single-producer / single-consumer
// discipline the names promise.
package lockfree

import "sync/atomic"

// IndexQueue is a fixed-capacity SPSC ring of uint64 values (PointerOffsets,
// event ids, or anything else that fits in a word). At most one goroutine may
// hold the producer side and at most one may hold the consumer side at a
// time; ownership of each side is arbitrated by AcquireProducer/AcquireConsumer.
type IndexQueue struct {
	capacity    uint64
	data        []uint64
	writePos    atomic.Uint64
	readPos     atomic.Uint64
	hasProducer atomic.Bool
	hasConsumer atomic.Bool
}

// NewIndexQueue creates an empty queue holding up to capacity elements.
// capacity must be at least 1.
func NewIndexQueue(capacity uint64) *IndexQueue {
	if capacity == 0 {
		capacity = 1
	}
	q := &IndexQueue{
		capacity: capacity,
		data:     make([]uint64, capacity),
	}
	q.hasProducer.Store(true)
	q.hasConsumer.Store(true)
	return q
}

// Capacity returns the fixed capacity of the queue.
func (q *IndexQueue) Capacity() uint64 { return q.capacity }

// AcquireProducer hands out exclusive producer access via CAS on a flag, the
// same pattern the underlying queue uses for its consumer half. ok is false
// if a producer is already attached.
func (q *IndexQueue) AcquireProducer() (*Producer, bool) {
	if q.hasProducer.CompareAndSwap(true, false) {
		return &Producer{q: q}, true
	}
	return nil, false
}

// AcquireConsumer hands out exclusive consumer access. ok is false if a
// consumer is already attached.
func (q *IndexQueue) AcquireConsumer() (*Consumer, bool) {
	if q.hasConsumer.CompareAndSwap(true, false) {
		return &Consumer{q: q}, true
	}
	return nil, false
}

func (q *IndexQueue) isFull(write, read uint64) bool {
	return write == read+q.capacity
}

// Len returns a racy snapshot of the number of enqueued elements.
func (q *IndexQueue) Len() uint64 {
	w, r := q.readWritePositions()
	return w - r
}

// IsEmpty returns a racy snapshot of emptiness.
func (q *IndexQueue) IsEmpty() bool {
	w, r := q.readWritePositions()
	return w == r
}

// IsFull returns a racy snapshot of fullness.
func (q *IndexQueue) IsFull() bool {
	w, r := q.readWritePositions()
	return q.isFull(w, r)
}

func (q *IndexQueue) readWritePositions() (write, read uint64) {
	for {
		w := q.writePos.Load()
		r := q.readPos.Load()
		if w == q.writePos.Load() && r == q.readPos.Load() {
			return w, r
		}
	}
}

// Producer is the exclusive push side of an IndexQueue.
type Producer struct{ q *IndexQueue }

// Push appends v. Returns false if the queue is full and the value was
// rejected; the caller retains ownership of v in that case.
func (p *Producer) Push(v uint64) bool {
	q := p.q
	writePos := q.writePos.Load()
	// SYNC POINT with readPos store in Pop.
	readPos := q.readPos.Load()
	if q.isFull(writePos, readPos) {
		return false
	}
	q.data[writePos%q.capacity] = v
	// SYNC POINT with writePos load in Pop: publishes data before the slot
	// is visible to the consumer.
	q.writePos.Store(writePos + 1)
	return true
}

// Release returns producer ownership to the queue so a future
// AcquireProducer call can succeed.
func (p *Producer) Release() { p.q.hasProducer.Store(true) }

// Consumer is the exclusive pop side of an IndexQueue.
type Consumer struct{ q *IndexQueue }

// Pop removes and returns the oldest value. ok is false if the queue is
// empty.
func (c *Consumer) Pop() (v uint64, ok bool) {
	q := c.q
	readPos := q.readPos.Load()
	// SYNC POINT with writePos store in Push.
	if readPos == q.writePos.Load() {
		return 0, false
	}
	v = q.data[readPos%q.capacity]
	// SYNC POINT with readPos load in Push: the slot is free only after
	// the read completes.
	q.readPos.Store(readPos + 1)
	return v, true
}

// Release returns consumer ownership to the queue.
func (c *Consumer) Release() { c.q.hasConsumer.Store(true) }
