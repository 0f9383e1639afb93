// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package iceoryx2

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/iox2go/iceoryx2/internal/logx"
	"github.com/iox2go/iceoryx2/internal/registry"
	"github.com/iox2go/iceoryx2/internal/shm"
	"github.com/iox2go/iceoryx2/internal/transport"
)

// PortFactoryPubSub represents an opened publish-subscribe service.
// It is used to create publishers and subscribers.
type PortFactoryPubSub struct {
	mu     sync.Mutex
	state  *serviceState
	node   *Node
	closed bool
}

// Close releases the resources associated with the PortFactoryPubSub.
// Implements io.Closer.
func (p *PortFactoryPubSub) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.node.untrack(p)
	p.state.releaseFactory()
	return nil
}

// PublisherBuilder returns a builder for creating a new Publisher.
func (p *PortFactoryPubSub) PublisherBuilder() *PublisherBuilder {
	return &PublisherBuilder{factory: p, maxSliceLen: 1}
}

// SubscriberBuilder returns a builder for creating a new Subscriber.
func (p *PortFactoryPubSub) SubscriberBuilder() *SubscriberBuilder {
	return &SubscriberBuilder{factory: p}
}

// Attributes returns the service's attribute set.
func (p *PortFactoryPubSub) Attributes() *AttributeSet {
	return p.state.attrs
}

// StaticConfig returns the static configuration of the service.
func (p *PortFactoryPubSub) StaticConfig() *StaticConfigPubSub {
	caps := p.state.cfg.PubSub
	payload := p.state.cfg.Payload
	header := p.state.cfg.UserHeader
	return &StaticConfigPubSub{
		MaxSubscribers:               caps.MaxSubscribers,
		MaxPublishers:                caps.MaxPublishers,
		MaxNodes:                     caps.MaxNodes,
		HistorySize:                  caps.HistorySize,
		SubscriberMaxBufferSize:      caps.SubscriberMaxBufferSize,
		SubscriberMaxBorrowedSamples: caps.SubscriberMaxBorrowedSamples,
		EnableSafeOverflow:           caps.EnableSafeOverflow,
		MessageTypeDetails: MessageTypeDetails{
			PayloadTypeName:     payload.Name,
			PayloadSize:         payload.Size,
			PayloadAlignment:    payload.Alignment,
			UserHeaderTypeName:  header.Name,
			UserHeaderSize:      header.Size,
			UserHeaderAlignment: header.Alignment,
		},
	}
}

// NumberOfPublishers returns the number of currently connected publishers.
func (p *PortFactoryPubSub) NumberOfPublishers() uint64 {
	return p.state.dyn.Count(registry.KindPublisher)
}

// NumberOfSubscribers returns the number of currently connected subscribers.
func (p *PortFactoryPubSub) NumberOfSubscribers() uint64 {
	return p.state.dyn.Count(registry.KindSubscriber)
}

// ServiceName returns the name of the service.
func (p *PortFactoryPubSub) ServiceName() string {
	return p.state.key.name
}

// ServiceID returns the unique identifier of the service.
func (p *PortFactoryPubSub) ServiceID() string {
	return p.state.cfg.ServiceID
}

// pubSubLink is one directed publisher-to-subscriber connection plus the
// exclusive handles both ends hold on it.
type pubSubLink struct {
	conn     *transport.Connection
	sender   *transport.Sender
	receiver *transport.Receiver
	pub      *Publisher
	sub      *Subscriber
}

// PublisherBuilder is used to configure and create a Publisher.
type PublisherBuilder struct {
	factory     *PortFactoryPubSub
	maxSliceLen uint64
	strategy    UnableToDeliverStrategy
	consumed    bool
}

// MaxSliceLen sets the maximum slice length for loans (for dynamic-sized payloads).
func (b *PublisherBuilder) MaxSliceLen(n uint64) *PublisherBuilder {
	if n > 0 {
		b.maxSliceLen = n
	}
	return b
}

// UnableToDeliverStrategy sets the strategy when a subscriber's buffer is full.
func (b *PublisherBuilder) UnableToDeliverStrategy(strategy UnableToDeliverStrategy) *PublisherBuilder {
	b.strategy = strategy
	return b
}

// Create creates the Publisher.
func (b *PublisherBuilder) Create() (*Publisher, error) {
	const op = "PublisherBuilder.Create"
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	state := b.factory.state
	node := b.factory.node
	state.mu.Lock()
	defer state.mu.Unlock()
	state.reapDeadPortsLocked()

	pub := &Publisher{
		svc:         state,
		node:        node,
		id:          newUniquePublisherId(),
		maxSliceLen: b.maxSliceLen,
		strategy:    b.strategy,
		links:       make(map[uint64]*pubSubLink),
		refs:        make(map[transport.PointerOffset]int),
		historyCap:  int(state.cfg.PubSub.HistorySize),
	}
	pub.chunkLayout = chunkLayoutFor(state.cfg.Payload, state.cfg.UserHeader, b.maxSliceLen)

	if err := state.registerPortLocked(pub.id.value, node, registry.KindPublisher); err != nil {
		return nil, WrapError(op, PublisherCreateErrorExceedsMaxSupportedPublishers)
	}

	caps := state.cfg.PubSub
	bucketCount := (caps.SubscriberMaxBufferSize+caps.SubscriberMaxBorrowedSamples)*maxU64(caps.MaxSubscribers, 1) +
		caps.HistorySize + 2
	memory, err := shm.NewResizableMemory(
		state.provider,
		fmt.Sprintf("%sdata_%016x", state.prefix, pub.id.value),
		shm.BucketLayout{Size: pub.chunkLayout.Size, Alignment: pub.chunkLayout.Alignment, Count: bucketCount},
		shm.ResizePowerOfTwo,
		shm.RetainUntilPortDestruction,
		int(caps.MaxSegments),
	)
	if err != nil {
		state.dyn.Unregister(state.slots[pub.id.value])
		delete(state.slots, pub.id.value)
		return nil, WrapError(op, PublisherCreateErrorUnableToCreateDataSegment)
	}
	pub.memory = memory

	state.publishers[pub.id.value] = pub
	for _, sub := range state.subscribers {
		connectPubSubLocked(pub, sub)
	}
	node.registry.Track(nodeKindPublisher, pub.id.value, state.key.name)
	node.track(pub)
	return pub, nil
}

// connectPubSubLocked wires one publisher to one subscriber with a fresh
// connection and replays the publisher's history into it. The service mutex
// must be held.
func connectPubSubLocked(pub *Publisher, sub *Subscriber) {
	cfg := pub.svc.connectionConfigPubSub()
	if sub.bufferSize > 0 {
		cfg.BufferSize = int(sub.bufferSize)
	}
	conn, err := transport.Create(cfg)
	if err != nil {
		logx.For("publisher").Errorf("connection to subscriber %016x failed: %v", sub.id.value, err)
		return
	}
	link := &pubSubLink{
		conn:     conn,
		sender:   transport.NewSender(conn),
		receiver: transport.NewReceiver(conn),
		pub:      pub,
		sub:      sub,
	}
	pub.mu.Lock()
	pub.links[sub.id.value] = link
	// Late joiners receive the retained history, oldest first, ahead of
	// live traffic.
	for _, ptr := range pub.history {
		if displaced, err := link.sender.TrySend(ptr, 0); err == nil {
			pub.refs[ptr]++
			if displaced != nil {
				pub.unrefLocked(*displaced)
			}
		}
	}
	pub.mu.Unlock()

	sub.mu.Lock()
	sub.links = append(sub.links, link)
	sub.mu.Unlock()
}

// Publisher sends samples to subscribers.
type Publisher struct {
	mu   sync.Mutex
	svc  *serviceState
	node *Node
	id   UniquePublisherId

	memory      *shm.ResizableMemory
	chunkLayout shm.Layout
	maxSliceLen uint64
	strategy    UnableToDeliverStrategy

	links map[uint64]*pubSubLink
	refs  map[transport.PointerOffset]int

	history    []transport.PointerOffset
	historyCap int

	loaned int
	closed bool
}

// Close releases the resources associated with the Publisher.
// Implements io.Closer.
func (p *Publisher) Close() error {
	p.svc.mu.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.svc.mu.Unlock()
		return nil
	}
	p.closed = true
	delete(p.svc.publishers, p.id.value)
	p.detachLinksLocked()
	p.mu.Unlock()
	p.svc.mu.Unlock()

	p.node.registry.Untrack(nodeKindPublisher, p.id.value)
	p.node.untrack(p)
	p.svc.portClosed(p.id.value)
	return nil
}

// teardownLocked is the cleanup path for a publisher whose node died; the
// service mutex is already held.
func (p *Publisher) teardownLocked() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.detachLinksLocked()
}

// detachLinksLocked removes every connection, recovering outstanding
// chunks. Both svc.mu and p.mu must be held.
func (p *Publisher) detachLinksLocked() {
	for subID, link := range p.links {
		link.conn.MarkForDestruction()
		if link.sub != nil {
			link.sub.dropLink(link)
		}
		p.drainLinkLocked(link)
		delete(p.links, subID)
	}
	p.maybeReleaseMemoryLocked()
}

// drainLinkLocked reclaims every offset still accounted to link: first the
// release ring, then the used-chunk list.
func (p *Publisher) drainLinkLocked(link *pubSubLink) {
	for {
		ptr, err := link.sender.Reclaim(0)
		if err != nil || ptr == nil {
			break
		}
		p.unrefLocked(*ptr)
	}
	link.sender.AcquireUsedOffsets(0, func(ptr transport.PointerOffset) {
		p.unrefLocked(ptr)
	})
}

// unrefLocked drops one delivery reference; the chunk returns to the pool
// when the last reference is gone. p.mu must be held.
func (p *Publisher) unrefLocked(ptr transport.PointerOffset) {
	p.refs[ptr]--
	if p.refs[ptr] <= 0 {
		delete(p.refs, ptr)
		p.memory.Deallocate(ptr, p.chunkLayout)
		p.maybeReleaseMemoryLocked()
	}
}

func (p *Publisher) maybeReleaseMemoryLocked() {
	if p.closed && len(p.refs) == 0 && p.loaned == 0 {
		p.memory.Close()
	}
}

// reclaimAllLocked drains every link's release ring. p.mu must be held.
func (p *Publisher) reclaimAllLocked() {
	for _, link := range p.links {
		for {
			ptr, err := link.sender.Reclaim(0)
			if err != nil || ptr == nil {
				break
			}
			p.unrefLocked(*ptr)
		}
	}
}

// ID returns the unique identifier of this publisher.
func (p *Publisher) ID() (*UniquePublisherId, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	id := p.id
	return &id, nil
}

// UpdateConnections synchronizes the publisher's connection table with the
// service's dynamic config, dropping connections to dead subscribers.
func (p *Publisher) UpdateConnections() error {
	p.svc.mu.Lock()
	defer p.svc.mu.Unlock()
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPublisherClosed
	}
	p.svc.reapDeadPortsLocked()
	return nil
}

// UnableToDeliverStrategy returns the configured full-buffer strategy.
func (p *Publisher) UnableToDeliverStrategy() UnableToDeliverStrategy {
	return p.strategy
}

// InitialMaxSliceLen returns the maximum slice length that can be loaned in one sample.
func (p *Publisher) InitialMaxSliceLen() uint64 {
	return p.maxSliceLen
}

// LoanUninit loans an uninitialized sample for writing.
// The caller must write to the payload before sending.
func (p *Publisher) LoanUninit() (*SampleMut, error) {
	return p.LoanSliceUninit(1)
}

// LoanSliceUninit loans an uninitialized sample with the specified number of elements.
func (p *Publisher) LoanSliceUninit(numberOfElements uint64) (*SampleMut, error) {
	const op = "Publisher.LoanSliceUninit"
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	if numberOfElements > p.maxSliceLen {
		return nil, WrapError(op, LoanErrorExceedsMaxLoanSize)
	}

	// Recycle before allocating so a steady-state loop never grows the
	// data segment.
	p.reclaimAllLocked()

	ptr, chunk, err := p.memory.Allocate(p.chunkLayout)
	if err != nil {
		return nil, WrapError(op, LoanErrorOutOfMemory)
	}
	writeChunkHeader(chunk, p.id.value, numberOfElements, 0)
	p.loaned++

	return &SampleMut{
		pub:              p,
		ptr:              ptr,
		chunk:            chunk,
		numberOfElements: numberOfElements,
	}, nil
}

// Send sends the given data directly (copy-based send).
// For zero-copy, use LoanUninit, write to the payload, and call Send on the SampleMut.
func (p *Publisher) Send(data []byte) error {
	numberOfElements := uint64(1)
	if payload := p.svc.cfg.Payload; payload.Variant == registry.TypeSlice && payload.Size > 0 {
		numberOfElements = uint64(len(data)) / payload.Size
		if numberOfElements == 0 {
			numberOfElements = 1
		}
	}
	sample, err := p.LoanSliceUninit(numberOfElements)
	if err != nil {
		return err
	}
	copy(sample.PayloadMut(), data)
	return sample.Send()
}

// chunk header layout: origin port id, number of elements, request id,
// and one reserved word, all little endian.
func writeChunkHeader(chunk []byte, portID, numberOfElements, requestID uint64) {
	binary.LittleEndian.PutUint64(chunk[0:], portID)
	binary.LittleEndian.PutUint64(chunk[8:], numberOfElements)
	binary.LittleEndian.PutUint64(chunk[16:], requestID)
	binary.LittleEndian.PutUint64(chunk[24:], 0)
}

func readChunkHeader(chunk []byte) (portID, numberOfElements, requestID uint64) {
	return binary.LittleEndian.Uint64(chunk[0:]),
		binary.LittleEndian.Uint64(chunk[8:]),
		binary.LittleEndian.Uint64(chunk[16:])
}

// payloadRegion slices the user header and payload out of a chunk.
func payloadRegion(chunk []byte, userHeaderSize, payloadBytes uint64) (header []byte, payload []byte) {
	headerStart := uint64(chunkHeaderSize)
	payloadStart := headerStart + shm.Align(userHeaderSize, 8)
	return chunk[headerStart : headerStart+userHeaderSize],
		chunk[payloadStart : payloadStart+payloadBytes]
}

// SampleMut represents a loaned sample that can be written to and sent.
type SampleMut struct {
	pub              *Publisher
	ptr              transport.PointerOffset
	chunk            []byte
	numberOfElements uint64
	done             bool
}

// Close releases the sample without sending it, returning its chunk to the
// pool. Implements io.Closer.
func (s *SampleMut) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	p := s.pub
	p.mu.Lock()
	p.loaned--
	p.refs[s.ptr] = 1
	p.unrefLocked(s.ptr)
	p.mu.Unlock()
	return nil
}

// Header returns the publish-subscribe header for this sample.
func (s *SampleMut) Header() (*PublishSubscribeHeader, error) {
	if s.done {
		return nil, ErrSampleClosed
	}
	return newPublishSubscribeHeader(s.pub.id, s.numberOfElements), nil
}

// UserHeader returns access to the user-defined header data.
// Returns nil if no user header was configured.
func (s *SampleMut) UserHeader() *UserHeaderMut {
	if s.done {
		return nil
	}
	size := s.pub.svc.cfg.UserHeader.Size
	if size == 0 {
		return nil
	}
	header, _ := payloadRegion(s.chunk, size, 0)
	return &UserHeaderMut{ptr: unsafe.Pointer(&header[0]), size: uintptr(size)}
}

// PayloadMut returns a mutable slice to the payload data.
// The returned slice is valid until Send or Close is called.
func (s *SampleMut) PayloadMut() []byte {
	if s.done {
		return nil
	}
	cfg := s.pub.svc.cfg
	_, payload := payloadRegion(s.chunk, cfg.UserHeader.Size, cfg.Payload.Size*s.numberOfElements)
	return payload
}

// Write writes the given data to the sample payload.
func (s *SampleMut) Write(data []byte) {
	copy(s.PayloadMut(), data)
}

// WriteAt writes data to the sample payload at the specified offset.
func (s *SampleMut) WriteAt(data []byte, offset int) {
	payload := s.PayloadMut()
	if payload != nil && offset < len(payload) {
		copy(payload[offset:], data)
	}
}

// Send sends the sample to all connected subscribers. The recipient count is
// available through SendWithRecipientCount. After Send the SampleMut must
// not be used.
func (s *SampleMut) Send() error {
	_, err := s.SendWithRecipientCount()
	return err
}

// SendWithRecipientCount is Send exposing the recipient count.
func (s *SampleMut) SendWithRecipientCount() (uint64, error) {
	if s.done {
		return 0, ErrSampleClosed
	}
	s.done = true

	p := s.pub
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaned--
	if p.closed {
		return 0, ErrPublisherClosed
	}

	var recipients uint64
	for _, link := range p.links {
		var displaced *transport.PointerOffset
		var err error
		if p.strategy == UnableToDeliverStrategyBlock && !p.svc.cfg.PubSub.EnableSafeOverflow {
			displaced, err = link.sender.BlockingSend(context.Background(), s.ptr, 0)
		} else {
			displaced, err = link.sender.TrySend(s.ptr, 0)
		}
		if err != nil {
			if errors.Is(err, transport.SendReceiveBufferFull) {
				continue
			}
			logx.For("publisher").Warnf("send to subscriber failed: %v", err)
			continue
		}
		p.refs[s.ptr]++
		recipients++
		if displaced != nil {
			p.unrefLocked(*displaced)
		}
	}

	if p.historyCap > 0 {
		p.history = append(p.history, s.ptr)
		p.refs[s.ptr]++
		if len(p.history) > p.historyCap {
			oldest := p.history[0]
			p.history = p.history[1:]
			p.unrefLocked(oldest)
		}
	}

	if p.refs[s.ptr] == 0 {
		// No subscriber and no history retained the chunk.
		delete(p.refs, s.ptr)
		p.memory.Deallocate(s.ptr, p.chunkLayout)
	}
	return recipients, nil
}

// SubscriberBuilder is used to configure and create a Subscriber.
type SubscriberBuilder struct {
	factory    *PortFactoryPubSub
	bufferSize *uint64
	consumed   bool
}

// BufferSize overrides the subscriber's delivery buffer size. It cannot
// exceed the service's subscriber_max_buffer_size.
func (b *SubscriberBuilder) BufferSize(n uint64) *SubscriberBuilder {
	b.bufferSize = &n
	return b
}

// Create creates the Subscriber.
func (b *SubscriberBuilder) Create() (*Subscriber, error) {
	const op = "SubscriberBuilder.Create"
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	state := b.factory.state
	node := b.factory.node
	state.mu.Lock()
	defer state.mu.Unlock()
	state.reapDeadPortsLocked()

	bufferSize := state.cfg.PubSub.SubscriberMaxBufferSize
	if b.bufferSize != nil {
		if *b.bufferSize > bufferSize {
			return nil, WrapError(op, SubscriberCreateErrorBufferSizeExceedsMaxSupportedBufferSize)
		}
		bufferSize = *b.bufferSize
	}

	sub := &Subscriber{
		svc:        state,
		node:       node,
		id:         newUniqueSubscriberId(),
		bufferSize: bufferSize,
	}
	if err := state.registerPortLocked(sub.id.value, node, registry.KindSubscriber); err != nil {
		return nil, WrapError(op, SubscriberCreateErrorExceedsMaxSupportedSubscribers)
	}
	state.subscribers[sub.id.value] = sub

	for _, pub := range state.publishers {
		connectPubSubLocked(pub, sub)
	}
	node.registry.Track(nodeKindSubscriber, sub.id.value, state.key.name)
	node.track(sub)
	return sub, nil
}

// Subscriber receives samples from publishers. It is safe for concurrent
// use; the handle state is protected so Close waits for in-flight receives.
type Subscriber struct {
	mu   sync.RWMutex
	svc  *serviceState
	node *Node
	id   UniqueSubscriberId

	bufferSize uint64
	links      []*pubSubLink
	next       int
	closed     bool
}

// Close releases the resources associated with the Subscriber.
// Implements io.Closer.
func (s *Subscriber) Close() error {
	s.svc.mu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.svc.mu.Unlock()
		return nil
	}
	s.closed = true
	delete(s.svc.subscribers, s.id.value)
	links := s.links
	s.links = nil
	s.mu.Unlock()

	// Hand every outstanding chunk back to its publisher.
	for _, link := range links {
		link.conn.MarkForDestruction()
		link.pub.mu.Lock()
		delete(link.pub.links, s.id.value)
		link.pub.drainLinkLocked(link)
		link.pub.mu.Unlock()
	}
	s.svc.mu.Unlock()

	s.node.registry.Untrack(nodeKindSubscriber, s.id.value)
	s.node.untrack(s)
	s.svc.portClosed(s.id.value)
	return nil
}

// teardownLocked is the cleanup path for a subscriber whose node died; the
// service mutex is already held.
func (s *Subscriber) teardownLocked() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	links := s.links
	s.links = nil
	s.mu.Unlock()

	for _, link := range links {
		link.conn.MarkForDestruction()
		link.pub.mu.Lock()
		delete(link.pub.links, s.id.value)
		link.pub.drainLinkLocked(link)
		link.pub.mu.Unlock()
	}
}

// dropLink removes one connection after its publisher closed.
func (s *Subscriber) dropLink(link *pubSubLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.links {
		if l == link {
			s.links = append(s.links[:i], s.links[i+1:]...)
			break
		}
	}
}

// ID returns the unique identifier of this subscriber.
func (s *Subscriber) ID() (*UniqueSubscriberId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrSubscriberClosed
	}
	id := s.id
	return &id, nil
}

// BufferSize returns the buffer size of this subscriber.
func (s *Subscriber) BufferSize() uint64 {
	return s.bufferSize
}

// Receive receives a sample from the subscriber's buffer.
// Returns ErrNoData if no sample is available.
func (s *Subscriber) Receive() (*Sample, error) {
	const op = "Subscriber.Receive"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSubscriberClosed
	}

	// Poll each publisher connection round-robin so one busy publisher
	// cannot starve the others.
	for i := 0; i < len(s.links); i++ {
		link := s.links[(s.next+i)%len(s.links)]
		ptr, err := link.receiver.Receive(0)
		if err != nil {
			if errors.Is(err, transport.ReceiveWouldExceedMaxBorrowValue) {
				return nil, WrapError(op, ReceiveErrorExceedsMaxBorrows)
			}
			return nil, WrapError(op, ReceiveErrorFailedToEstablishConnection)
		}
		if ptr == nil {
			continue
		}
		s.next = (s.next + i + 1) % len(s.links)

		chunk, err := link.pub.memory.Translate(*ptr, link.pub.chunkLayout.Size)
		if err != nil {
			link.receiver.Release(*ptr, 0)
			return nil, WrapError(op, ReceiveErrorUnableToMapSendersDataSegment)
		}
		portID, numberOfElements, _ := readChunkHeader(chunk)
		return &Sample{
			link:             link,
			ptr:              *ptr,
			chunk:            chunk,
			publisherID:      UniquePublisherId{value: portID},
			numberOfElements: numberOfElements,
		}, nil
	}
	return nil, ErrNoData
}

// ReceiveWithContext waits for a sample with context cancellation support.
// The pollInterval parameter controls how often the context is checked (default 10ms if 0).
func (s *Subscriber) ReceiveWithContext(ctx context.Context, pollInterval time.Duration) (*Sample, error) {
	const op = "Subscriber.ReceiveWithContext"

	if pollInterval == 0 {
		pollInterval = 10 * time.Millisecond
	}

	// Try once immediately before paying the cost of allocating a ticker.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sample, err := s.Receive()
	if !errors.Is(err, ErrNoData) {
		if err != nil {
			return nil, WrapError(op, err)
		}
		return sample, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			sample, err := s.Receive()
			if errors.Is(err, ErrNoData) {
				continue
			}
			if err != nil {
				return nil, WrapError(op, err)
			}
			return sample, nil
		}
	}
}

// ReceiveChannel returns a channel that yields samples as they arrive.
// The channel is closed when the context is cancelled or an error occurs.
func (s *Subscriber) ReceiveChannel(ctx context.Context) <-chan *Sample {
	ch := make(chan *Sample)
	go func() {
		defer close(ch)
		for {
			sample, err := s.ReceiveWithContext(ctx, 10*time.Millisecond)
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				sample.Close()
				return
			case ch <- sample:
			}
		}
	}()
	return ch
}

// Sample represents a received sample from a publisher.
type Sample struct {
	link             *pubSubLink
	ptr              transport.PointerOffset
	chunk            []byte
	publisherID      UniquePublisherId
	numberOfElements uint64
	done             bool
}

// Close releases the sample, returning its chunk to the publisher via the
// release ring. Implements io.Closer.
func (s *Sample) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.link.receiver.Release(s.ptr, 0)
}

// Header returns the publish-subscribe header for this sample.
func (s *Sample) Header() (*PublishSubscribeHeader, error) {
	if s.done {
		return nil, ErrSampleClosed
	}
	return newPublishSubscribeHeader(s.publisherID, s.numberOfElements), nil
}

// UserHeader returns access to the user-defined header data.
// Returns nil if no user header was configured.
func (s *Sample) UserHeader() *UserHeader {
	if s.done {
		return nil
	}
	size := s.link.pub.svc.cfg.UserHeader.Size
	if size == 0 {
		return nil
	}
	header, _ := payloadRegion(s.chunk, size, 0)
	return &UserHeader{ptr: unsafe.Pointer(&header[0]), size: uintptr(size)}
}

// Payload returns the payload data as a byte slice.
// The returned slice is valid until Close is called.
func (s *Sample) Payload() []byte {
	if s.done {
		return nil
	}
	cfg := s.link.pub.svc.cfg
	_, payload := payloadRegion(s.chunk, cfg.UserHeader.Size, cfg.Payload.Size*s.numberOfElements)
	return payload
}

// PayloadAs interprets the payload as a value of type T.
// T must match the actual payload type used on the publisher side.
func PayloadAs[T any](s *Sample) *T {
	return (*T)(s.PayloadPtr())
}

// PayloadPtr returns a raw pointer to the payload data.
// Prefer using PayloadAs[T] for type-safe access.
func (s *Sample) PayloadPtr() unsafe.Pointer {
	payload := s.Payload()
	if len(payload) == 0 {
		return nil
	}
	return unsafe.Pointer(&payload[0])
}

// WritePayloadAs is a helper for writing a value of type T to a SampleMut.
// T must match the payload type configured for the service.
func WritePayloadAs[T any](s *SampleMut, value *T) {
	s.WritePayloadPtr(unsafe.Pointer(value), unsafe.Sizeof(*value))
}

// WritePayloadPtr copies size bytes from src into the sample payload.
func (s *SampleMut) WritePayloadPtr(src unsafe.Pointer, size uintptr) {
	payload := s.PayloadMut()
	if payload == nil || src == nil {
		return
	}
	if size > uintptr(len(payload)) {
		size = uintptr(len(payload))
	}
	copy(payload, unsafe.Slice((*byte)(src), size))
}

// PayloadMutAs returns a pointer to the payload as type T.
func PayloadMutAs[T any](s *SampleMut) *T {
	return (*T)(s.PayloadMutPtr())
}

// PayloadMutPtr returns a raw mutable pointer to the payload data.
// Prefer using PayloadMutAs[T] for type-safe access.
func (s *SampleMut) PayloadMutPtr() unsafe.Pointer {
	payload := s.PayloadMut()
	if len(payload) == 0 {
		return nil
	}
	return unsafe.Pointer(&payload[0])
}
