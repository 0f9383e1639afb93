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
	"io"
)

// PublisherPort is the producing end of a publish-subscribe service.
type PublisherPort interface {
	io.Closer

	// LoanUninit loans an uninitialized sample for zero-copy writing.
	LoanUninit() (*SampleMut, error)

	// LoanSliceUninit loans an uninitialized sample holding the given
	// number of payload elements.
	LoanSliceUninit(numberOfElements uint64) (*SampleMut, error)

	// Send copies data into a fresh sample and sends it.
	Send(data []byte) error
}

// SubscriberPort is the consuming end of a publish-subscribe service.
type SubscriberPort interface {
	io.Closer

	// Receive pops the next pending sample, or ErrNoData.
	Receive() (*Sample, error)
}

// NotifierPort raises event notifications.
type NotifierPort interface {
	io.Closer

	// Notify signals the default event id and reports how many listeners
	// were reached.
	Notify() (uint64, error)

	// NotifyWithEventId signals a specific event id.
	NotifyWithEventId(eventId uint64) (uint64, error)
}

// ListenerPort consumes event notifications.
type ListenerPort interface {
	io.Closer

	// TryWaitOne pops one pending event without blocking; (nil, nil) when
	// none is pending.
	TryWaitOne() (*EventId, error)

	// WaitOne blocks for one event, bounded by ctx.
	WaitOne(ctx context.Context) (*EventId, error)

	// TryWaitAll drains every pending event without blocking.
	TryWaitAll() ([]EventId, error)
}

// ClientPort is the requesting end of a request-response service.
type ClientPort interface {
	io.Closer

	// LoanSliceUninit loans memory for a zero-copy request.
	LoanSliceUninit(numberOfElements uint64) (*RequestMut, error)
}

// ServerPort is the responding end of a request-response service.
type ServerPort interface {
	io.Closer

	// HasRequests reports whether a request is pending.
	HasRequests() (bool, error)

	// Receive pops the next pending request, or ErrNoData.
	Receive() (*ActiveRequest, error)
}

// The concrete ports satisfy their interfaces.
var (
	_ PublisherPort  = (*Publisher)(nil)
	_ SubscriberPort = (*Subscriber)(nil)
	_ NotifierPort   = (*Notifier)(nil)
	_ ListenerPort   = (*Listener)(nil)
	_ ClientPort     = (*Client)(nil)
	_ ServerPort     = (*Server)(nil)
)

// Every handle type that owns a resource is an io.Closer, and Close is
// idempotent on all of them.
var (
	_ io.Closer = (*Node)(nil)
	_ io.Closer = (*NodeName)(nil)
	_ io.Closer = (*NodeId)(nil)
	_ io.Closer = (*ServiceName)(nil)
	_ io.Closer = (*PortFactoryPubSub)(nil)
	_ io.Closer = (*PortFactoryEvent)(nil)
	_ io.Closer = (*PortFactoryRequestResponse)(nil)
	_ io.Closer = (*Sample)(nil)
	_ io.Closer = (*SampleMut)(nil)
	_ io.Closer = (*RequestMut)(nil)
	_ io.Closer = (*ActiveRequest)(nil)
	_ io.Closer = (*ResponseMut)(nil)
	_ io.Closer = (*Response)(nil)
	_ io.Closer = (*PendingResponse)(nil)
	_ io.Closer = (*WaitSet)(nil)
	_ io.Closer = (*WaitSetGuard)(nil)
	_ io.Closer = (*WaitSetAttachmentId)(nil)
	_ io.Closer = (*AttributeSpecifier)(nil)
	_ io.Closer = (*AttributeVerifier)(nil)
)
