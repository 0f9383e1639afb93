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
	"sync"
	"time"

	"github.com/iox2go/iceoryx2/internal/lockfree"
	"github.com/iox2go/iceoryx2/internal/registry"
)

// PortFactoryEvent represents an opened event service.
// It is used to create notifiers and listeners.
type PortFactoryEvent struct {
	mu     sync.Mutex
	state  *serviceState
	node   *Node
	closed bool

	deadline        *time.Duration
	notifierCreated *uint64
	notifierDropped *uint64
	notifierDead    *uint64
}

// Close releases the resources associated with the PortFactoryEvent.
// Implements io.Closer.
func (p *PortFactoryEvent) Close() error {
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

// NotifierBuilder returns a builder for creating a new Notifier.
func (p *PortFactoryEvent) NotifierBuilder() *NotifierBuilder {
	return &NotifierBuilder{factory: p}
}

// ListenerBuilder returns a builder for creating a new Listener.
func (p *PortFactoryEvent) ListenerBuilder() *ListenerBuilder {
	return &ListenerBuilder{factory: p}
}

// Attributes returns the service's attribute set.
func (p *PortFactoryEvent) Attributes() *AttributeSet {
	return p.state.attrs
}

// StaticConfig returns the static configuration of the service.
func (p *PortFactoryEvent) StaticConfig() *StaticConfigEvent {
	caps := p.state.cfg.Event
	return &StaticConfigEvent{
		MaxListeners:    caps.MaxListeners,
		MaxNotifiers:    caps.MaxNotifiers,
		MaxNodes:        caps.MaxNodes,
		EventIdMaxValue: caps.EventIDMaxValue,
	}
}

// NumberOfNotifiers returns the number of currently connected notifiers.
func (p *PortFactoryEvent) NumberOfNotifiers() uint64 {
	return p.state.dyn.Count(registry.KindNotifier)
}

// NumberOfListeners returns the number of currently connected listeners.
func (p *PortFactoryEvent) NumberOfListeners() uint64 {
	return p.state.dyn.Count(registry.KindListener)
}

// ServiceName returns the name of the service.
func (p *PortFactoryEvent) ServiceName() string {
	return p.state.key.name
}

// ServiceID returns the unique identifier of the service.
func (p *PortFactoryEvent) ServiceID() string {
	return p.state.cfg.ServiceID
}

// NotifierBuilder is used to configure and create a Notifier.
type NotifierBuilder struct {
	factory        *PortFactoryEvent
	defaultEventID uint64
	consumed       bool
}

// DefaultEventId sets the default event ID for notifications.
func (b *NotifierBuilder) DefaultEventId(id uint64) *NotifierBuilder {
	b.defaultEventID = id
	return b
}

// Create creates the Notifier.
func (b *NotifierBuilder) Create() (*Notifier, error) {
	const op = "NotifierBuilder.Create"
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	state := b.factory.state
	node := b.factory.node
	state.mu.Lock()
	defer state.mu.Unlock()
	state.reapDeadPortsLocked()

	n := &Notifier{
		svc:            state,
		node:           node,
		id:             newUniqueNotifierId(),
		defaultEventID: b.defaultEventID,
		deadline:       b.factory.deadline,
		droppedEvent:   b.factory.notifierDropped,
	}
	if err := state.registerPortLocked(n.id.value, node, registry.KindNotifier); err != nil {
		return nil, WrapError(op, NotifierCreateErrorExceedsMaxSupportedNotifiers)
	}
	state.notifiers[n.id.value] = n

	// Every existing listener gets a dedicated event ring for this
	// notifier.
	for _, l := range state.listeners {
		l.attachNotifier(n.id.value)
	}

	if created := b.factory.notifierCreated; created != nil {
		state.notifyLocked(n.id.value, *created)
	}
	node.registry.Track(nodeKindNotifier, n.id.value, state.key.name)
	node.track(n)
	return n, nil
}

// Notifier sends event notifications to listeners.
type Notifier struct {
	mu   sync.RWMutex
	svc  *serviceState
	node *Node
	id   UniqueNotifierId

	defaultEventID uint64
	deadline       *time.Duration
	droppedEvent   *uint64
	closed         bool
}

// Close releases the resources associated with the Notifier.
// Implements io.Closer.
func (n *Notifier) Close() error {
	n.svc.mu.Lock()
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.svc.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	delete(n.svc.notifiers, n.id.value)
	if n.droppedEvent != nil {
		n.svc.notifyLocked(n.id.value, *n.droppedEvent)
	}
	for _, l := range n.svc.listeners {
		l.detachNotifier(n.id.value)
	}
	n.svc.mu.Unlock()

	n.node.registry.Untrack(nodeKindNotifier, n.id.value)
	n.node.untrack(n)
	n.svc.portClosed(n.id.value)
	return nil
}

// teardownLocked is the cleanup path for a notifier whose node died; the
// service mutex is already held.
func (n *Notifier) teardownLocked() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	for _, l := range n.svc.listeners {
		l.detachNotifier(n.id.value)
	}
}

// ID returns the unique identifier of this notifier.
func (n *Notifier) ID() (*UniqueNotifierId, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, ErrNotifierClosed
	}
	id := n.id
	return &id, nil
}

// Deadline returns the deadline duration for this notifier, if configured.
// Returns nil if no deadline is set.
func (n *Notifier) Deadline() *time.Duration {
	if n.deadline == nil {
		return nil
	}
	d := *n.deadline
	return &d
}

// Notify sends a notification with the default event ID.
// Returns the number of listeners that were notified.
func (n *Notifier) Notify() (uint64, error) {
	return n.NotifyWithEventId(n.defaultEventID)
}

// NotifyWithEventId sends a notification with a specific event ID.
// Returns the number of listeners that were notified.
func (n *Notifier) NotifyWithEventId(eventId uint64) (uint64, error) {
	const op = "Notifier.NotifyWithEventId"
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return 0, ErrNotifierClosed
	}
	n.mu.RUnlock()

	svc := n.svc
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if eventId > svc.cfg.Event.EventIDMaxValue {
		return 0, WrapError(op, NotifierNotifyErrorEventIdOutOfBounds)
	}
	return svc.notifyLocked(n.id.value, eventId), nil
}

// notifyLocked pushes eventId into every listener's ring for notifierID and
// wakes them. The service mutex must be held.
func (s *serviceState) notifyLocked(notifierID, eventId uint64) uint64 {
	var notified uint64
	for _, l := range s.listeners {
		if l.push(notifierID, eventId) {
			notified++
		}
	}
	return notified
}

// ListenerBuilder is used to configure and create a Listener.
type ListenerBuilder struct {
	factory  *PortFactoryEvent
	consumed bool
}

// Create creates the Listener.
func (b *ListenerBuilder) Create() (*Listener, error) {
	const op = "ListenerBuilder.Create"
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	state := b.factory.state
	node := b.factory.node
	state.mu.Lock()
	defer state.mu.Unlock()
	state.reapDeadPortsLocked()

	l := &Listener{
		svc:      state,
		node:     node,
		id:       newUniqueListenerId(),
		queues:   make(map[uint64]*lockfree.OverflowIndexQueue),
		signal:   make(chan struct{}, 1),
		deadline: b.factory.deadline,
	}
	if err := state.registerPortLocked(l.id.value, node, registry.KindListener); err != nil {
		return nil, WrapError(op, ListenerCreateErrorExceedsMaxSupportedListeners)
	}
	state.listeners[l.id.value] = l

	for notifierID := range state.notifiers {
		l.attachNotifier(notifierID)
	}
	node.registry.Track(nodeKindListener, l.id.value, state.key.name)
	node.track(l)
	return l, nil
}

// Listener receives event notifications. Each connected notifier feeds a
// dedicated lock-free ring; a buffered signal channel provides the process
// level wakeup for the blocking wait variants.
type Listener struct {
	mu   sync.Mutex
	svc  *serviceState
	node *Node
	id   UniqueListenerId

	queues map[uint64]*lockfree.OverflowIndexQueue
	order  []uint64
	next   int
	signal chan struct{}

	deadline *time.Duration
	closed   bool
}

func (l *Listener) attachNotifier(notifierID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.queues[notifierID]; ok {
		return
	}
	l.queues[notifierID] = lockfree.NewOverflowIndexQueue(listenerEventQueueCapacity)
	l.order = append(l.order, notifierID)
}

func (l *Listener) detachNotifier(notifierID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.queues[notifierID]; !ok {
		return
	}
	delete(l.queues, notifierID)
	for i, id := range l.order {
		if id == notifierID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// push enqueues eventId from notifierID and signals the listener. It
// reports whether the listener accepted the notification.
func (l *Listener) push(notifierID, eventId uint64) bool {
	l.mu.Lock()
	q, ok := l.queues[notifierID]
	closed := l.closed
	l.mu.Unlock()
	if !ok || closed {
		return false
	}
	producer, acquired := q.AcquireProducer()
	if !acquired {
		return false
	}
	producer.Push(eventId)
	producer.Release()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// Close releases the resources associated with the Listener.
// Implements io.Closer.
func (l *Listener) Close() error {
	l.svc.mu.Lock()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.svc.mu.Unlock()
		return nil
	}
	l.closed = true
	l.queues = make(map[uint64]*lockfree.OverflowIndexQueue)
	l.order = nil
	l.mu.Unlock()
	delete(l.svc.listeners, l.id.value)
	l.svc.mu.Unlock()

	l.node.registry.Untrack(nodeKindListener, l.id.value)
	l.node.untrack(l)
	l.svc.portClosed(l.id.value)
	return nil
}

// teardownLocked is the cleanup path for a listener whose node died; the
// service mutex is already held.
func (l *Listener) teardownLocked() {
	l.mu.Lock()
	l.closed = true
	l.queues = make(map[uint64]*lockfree.OverflowIndexQueue)
	l.order = nil
	l.mu.Unlock()
}

// ID returns the unique identifier of this listener.
func (l *Listener) ID() (*UniqueListenerId, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrListenerClosed
	}
	id := l.id
	return &id, nil
}

// Deadline returns the deadline duration for this listener, if configured.
func (l *Listener) Deadline() *time.Duration {
	if l.deadline == nil {
		return nil
	}
	d := *l.deadline
	return &d
}

// hasEvents reports whether any notifier ring holds a pending event.
func (l *Listener) hasEvents() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.order {
		if q := l.queues[id]; q != nil && !q.IsEmpty() {
			return true
		}
	}
	return false
}

// TryWaitOne tries to receive a single event without blocking. Returns
// (nil, nil) when no event is pending.
func (l *Listener) TryWaitOne() (*EventId, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrListenerClosed
	}

	for i := 0; i < len(l.order); i++ {
		idx := (l.next + i) % len(l.order)
		q := l.queues[l.order[idx]]
		consumer, acquired := q.AcquireConsumer()
		if !acquired {
			continue
		}
		v, ok := consumer.Pop()
		consumer.Release()
		if ok {
			l.next = (idx + 1) % len(l.order)
			id := EventId(v)
			return &id, nil
		}
	}
	return nil, nil
}

// WaitOne waits for a single event until the context is done.
func (l *Listener) WaitOne(ctx context.Context) (*EventId, error) {
	for {
		id, err := l.TryWaitOne()
		if err != nil || id != nil {
			return id, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.signal:
		case <-time.After(10 * time.Millisecond):
			// Fallback poll for wakeups raced away by a concurrent waiter.
		}
	}
}

// timedWaitOne waits up to timeout for a single event.
func (l *Listener) timedWaitOne(timeout time.Duration) (*EventId, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	id, err := l.WaitOne(ctx)
	if err == context.DeadlineExceeded {
		return nil, nil
	}
	return id, err
}

// TryWaitAll receives every pending event without blocking.
func (l *Listener) TryWaitAll() ([]EventId, error) {
	var out []EventId
	for {
		id, err := l.TryWaitOne()
		if err != nil {
			return out, err
		}
		if id == nil {
			return out, nil
		}
		out = append(out, *id)
	}
}

// WaitAll waits until at least one event arrives, then drains everything
// pending.
func (l *Listener) WaitAll(ctx context.Context) ([]EventId, error) {
	first, err := l.WaitOne(ctx)
	if err != nil {
		return nil, err
	}
	rest, err := l.TryWaitAll()
	if err != nil {
		return nil, err
	}
	return append([]EventId{*first}, rest...), nil
}

// TimedWaitAll waits up to timeout, then drains everything pending.
func (l *Listener) TimedWaitAll(timeout time.Duration) ([]EventId, error) {
	first, err := l.timedWaitOne(timeout)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, nil
	}
	rest, err := l.TryWaitAll()
	if err != nil {
		return nil, err
	}
	return append([]EventId{*first}, rest...), nil
}

// EventChannel returns a channel that yields event ids as they arrive. The
// channel is closed when the context is cancelled.
func (l *Listener) EventChannel(ctx context.Context) <-chan EventId {
	ch := make(chan EventId)
	go func() {
		defer close(ch)
		for {
			id, err := l.WaitOne(ctx)
			if err != nil || id == nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case ch <- *id:
			}
		}
	}()
	return ch
}
