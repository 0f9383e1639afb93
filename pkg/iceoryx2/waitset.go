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
)

// waitSetPollInterval paces the readiness scan of an unbounded wait.
const waitSetPollInterval = time.Millisecond

// WaitSetRunResult represents the result of a WaitSet run operation.
type WaitSetRunResult int

const (
	// WaitSetRunResultTerminationRequest indicates a termination was requested.
	WaitSetRunResultTerminationRequest WaitSetRunResult = iota
	// WaitSetRunResultInterrupt indicates the wait was interrupted.
	WaitSetRunResultInterrupt
	// WaitSetRunResultStopRequest indicates a stop was requested.
	WaitSetRunResultStopRequest
	// WaitSetRunResultAllEventsHandled indicates all events were handled.
	WaitSetRunResultAllEventsHandled
)

// String implements fmt.Stringer for WaitSetRunResult.
func (r WaitSetRunResult) String() string {
	switch r {
	case WaitSetRunResultTerminationRequest:
		return "TerminationRequest"
	case WaitSetRunResultInterrupt:
		return "Interrupt"
	case WaitSetRunResultStopRequest:
		return "StopRequest"
	case WaitSetRunResultAllEventsHandled:
		return "AllEventsHandled"
	default:
		return "Unknown"
	}
}

// waitSetAttachmentKind distinguishes the three attachment flavors.
type waitSetAttachmentKind int

const (
	attachmentNotification waitSetAttachmentKind = iota
	attachmentDeadline
	attachmentInterval
)

// WaitSetBuilder is used to configure and create a WaitSet.
type WaitSetBuilder struct {
	signalMode SignalHandlingMode
	consumed   bool
}

// NewWaitSetBuilder creates a new WaitSetBuilder.
func NewWaitSetBuilder() *WaitSetBuilder {
	return &WaitSetBuilder{}
}

// SignalHandlingMode sets the signal handling mode stored with the waitset.
// The waitset installs no signal handler and never returns
// WaitSetRunResultTerminationRequest.
func (b *WaitSetBuilder) SignalHandlingMode(mode SignalHandlingMode) *WaitSetBuilder {
	b.signalMode = mode
	return b
}

// Create creates the WaitSet for the given service type.
func (b *WaitSetBuilder) Create(serviceType ServiceType) (*WaitSet, error) {
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true
	return &WaitSet{
		serviceType: serviceType,
		signalMode:  b.signalMode,
		attachments: make(map[uint64]*WaitSetGuard),
	}, nil
}

// Close releases the builder.
func (b *WaitSetBuilder) Close() error {
	b.consumed = true
	return nil
}

// WaitSet multiplexes waiting over listeners, deadlines, and intervals.
type WaitSet struct {
	mu          sync.Mutex
	serviceType ServiceType
	signalMode  SignalHandlingMode
	attachments map[uint64]*WaitSetGuard
	nextID      uint64
	closed      bool
}

func (w *WaitSet) attach(listener *Listener, kind waitSetAttachmentKind, period time.Duration) (*WaitSetGuard, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWaitSetClosed
	}
	w.nextID++
	guard := &WaitSetGuard{
		ws:       w,
		id:       w.nextID,
		listener: listener,
		kind:     kind,
		period:   period,
		lastSeen: time.Now(),
	}
	w.attachments[guard.id] = guard
	return guard, nil
}

// AttachNotification attaches a listener; the waitset wakes whenever the
// listener has a pending event.
func (w *WaitSet) AttachNotification(listener *Listener) (*WaitSetGuard, error) {
	return w.attach(listener, attachmentNotification, 0)
}

// AttachDeadline attaches a listener that must receive an event at least
// every deadline; missing it wakes the waitset with HasMissedDeadline.
func (w *WaitSet) AttachDeadline(listener *Listener, deadline time.Duration) (*WaitSetGuard, error) {
	return w.attach(listener, attachmentDeadline, deadline)
}

// AttachInterval attaches a periodic tick.
func (w *WaitSet) AttachInterval(interval time.Duration) (*WaitSetGuard, error) {
	return w.attach(nil, attachmentInterval, interval)
}

// WaitSetCallback processes one triggered attachment.
type WaitSetCallback func(*WaitSetAttachmentId) CallbackProgression

// readyLocked collects the attachment ids currently triggered. w.mu held.
func (w *WaitSet) readyLocked(now time.Time) []*WaitSetAttachmentId {
	var out []*WaitSetAttachmentId
	for _, guard := range w.attachments {
		switch guard.kind {
		case attachmentNotification:
			if guard.listener != nil && guard.listener.hasEvents() {
				out = append(out, &WaitSetAttachmentId{guardID: guard.id, event: true})
			}
		case attachmentDeadline:
			if guard.listener != nil && guard.listener.hasEvents() {
				guard.lastSeen = now
				out = append(out, &WaitSetAttachmentId{guardID: guard.id, event: true})
			} else if now.Sub(guard.lastSeen) > guard.period {
				guard.lastSeen = now
				out = append(out, &WaitSetAttachmentId{guardID: guard.id, missedDeadline: true})
			}
		case attachmentInterval:
			if now.Sub(guard.lastSeen) >= guard.period {
				guard.lastSeen = now
				out = append(out, &WaitSetAttachmentId{guardID: guard.id, event: true})
			}
		}
	}
	return out
}

// waitAndProcess is the shared wait loop: block until at least one
// attachment triggers (bounded by ctx), then run callback over every
// triggered attachment.
func (w *WaitSet) waitAndProcess(ctx context.Context, callback WaitSetCallback) (WaitSetRunResult, error) {
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return WaitSetRunResultInterrupt, ErrWaitSetClosed
		}
		if len(w.attachments) == 0 {
			w.mu.Unlock()
			return WaitSetRunResultInterrupt, WrapError("WaitSet.WaitAndProcess", WaitSetRunErrorNoAttachments)
		}
		ready := w.readyLocked(time.Now())
		w.mu.Unlock()

		if len(ready) > 0 {
			for _, id := range ready {
				if callback != nil && callback(id) == CallbackProgressionStop {
					return WaitSetRunResultStopRequest, nil
				}
			}
			return WaitSetRunResultAllEventsHandled, nil
		}

		select {
		case <-ctx.Done():
			return WaitSetRunResultInterrupt, ctx.Err()
		case <-time.After(waitSetPollInterval):
		}
	}
}

// WaitAndProcessOnce blocks until at least one attachment triggers and
// drains the triggered set.
func (w *WaitSet) WaitAndProcessOnce() (WaitSetRunResult, error) {
	return w.waitAndProcess(context.Background(), nil)
}

// WaitAndProcessOnceWithTimeout is WaitAndProcessOnce bounded by a timeout.
func (w *WaitSet) WaitAndProcessOnceWithTimeout(timeout time.Duration) (WaitSetRunResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.waitAndProcess(ctx, nil)
}

// WaitAndProcessOnceWithContext is WaitAndProcessOnce bounded by a context.
// pollInterval is retained for signature compatibility; the scan interval
// is fixed.
func (w *WaitSet) WaitAndProcessOnceWithContext(ctx context.Context, pollInterval time.Duration) (WaitSetRunResult, error) {
	return w.waitAndProcess(ctx, nil)
}

// WaitAndProcessOnceWithCallback blocks until at least one attachment
// triggers, invoking callback for each triggered attachment.
func (w *WaitSet) WaitAndProcessOnceWithCallback(callback WaitSetCallback) (WaitSetRunResult, error) {
	return w.waitAndProcess(context.Background(), callback)
}

// WaitAndProcessOnceWithTimeoutAndCallback combines a timeout bound with a
// per-attachment callback.
func (w *WaitSet) WaitAndProcessOnceWithTimeoutAndCallback(timeout time.Duration, callback WaitSetCallback) (WaitSetRunResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.waitAndProcess(ctx, callback)
}

// Run processes events until the callback requests a stop or the waitset
// is closed.
func (w *WaitSet) Run(callback WaitSetCallback) (WaitSetRunResult, error) {
	return w.RunWithContext(context.Background(), callback, 0)
}

// RunWithContext processes events until the context is done or the
// callback requests a stop.
func (w *WaitSet) RunWithContext(ctx context.Context, callback WaitSetCallback, pollInterval time.Duration) (WaitSetRunResult, error) {
	for {
		result, err := w.waitAndProcess(ctx, callback)
		if err != nil || result == WaitSetRunResultStopRequest {
			return result, err
		}
		select {
		case <-ctx.Done():
			return WaitSetRunResultInterrupt, ctx.Err()
		default:
		}
	}
}

// Close releases the waitset and detaches everything.
// Implements io.Closer.
func (w *WaitSet) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.attachments = make(map[uint64]*WaitSetGuard)
	return nil
}

// NumberOfAttachments returns how many guards are currently attached.
func (w *WaitSet) NumberOfAttachments() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint64(len(w.attachments))
}

// Capacity returns the fixed value 64. Attaching does not check it, so a
// waitset can hold more attachments than Capacity reports.
func (w *WaitSet) Capacity() uint64 {
	return 64
}

// IsEmpty reports whether no attachment exists.
func (w *WaitSet) IsEmpty() bool {
	return w.NumberOfAttachments() == 0
}

// WaitSetGuard represents an attachment in the WaitSet; closing it
// detaches.
type WaitSetGuard struct {
	ws       *WaitSet
	id       uint64
	listener *Listener
	kind     waitSetAttachmentKind
	period   time.Duration
	lastSeen time.Time
}

// Close releases the guard and detaches from the WaitSet.
// Implements io.Closer.
func (g *WaitSetGuard) Close() error {
	if g.ws == nil {
		return nil
	}
	g.ws.mu.Lock()
	delete(g.ws.attachments, g.id)
	g.ws.mu.Unlock()
	g.ws = nil
	return nil
}

// WaitSetAttachmentId identifies which attachment triggered an event.
type WaitSetAttachmentId struct {
	guardID        uint64
	event          bool
	missedDeadline bool
}

// HasEventFrom checks if the attachment id corresponds to the given guard.
func (a *WaitSetAttachmentId) HasEventFrom(guard *WaitSetGuard) bool {
	return guard != nil && a.guardID == guard.id && a.event
}

// HasMissedDeadline checks if the given guard's deadline was missed.
func (a *WaitSetAttachmentId) HasMissedDeadline(guard *WaitSetGuard) bool {
	return guard != nil && a.guardID == guard.id && a.missedDeadline
}

// Close releases the attachment id.
// Implements io.Closer interface.
func (a *WaitSetAttachmentId) Close() error { return nil }
