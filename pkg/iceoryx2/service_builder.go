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
	"time"

	"github.com/iox2go/iceoryx2/internal/registry"
)

// ServiceBuilder is used to create or open services. Option validation is
// deferred to the final verb (Open/Create/OpenOrCreate) of the selected
// pattern builder.
type ServiceBuilder struct {
	node        *Node
	serviceName *ServiceName
}

// PublishSubscribe returns a builder for a publish-subscribe service.
func (b *ServiceBuilder) PublishSubscribe() *ServiceBuilderPubSub {
	defaults := b.node.cfg.inner.Service.PubSub
	return &ServiceBuilderPubSub{
		node: b.node,
		name: b.serviceName.String(),
		caps: registry.PubSubCaps{
			MaxPublishers:                uint64(defaults.MaxPublishers),
			MaxSubscribers:               uint64(defaults.MaxSubscribers),
			MaxNodes:                     defaultMaxNodes,
			HistorySize:                  uint64(defaults.HistorySize),
			SubscriberMaxBufferSize:      uint64(defaults.SubscriberMaxBufferSize),
			SubscriberMaxBorrowedSamples: uint64(defaults.SubscriberMaxBorrowedSamples),
			EnableSafeOverflow:           defaults.EnableSafeOverflow,
			MaxSegments:                  uint64(defaults.MaxNumberOfSegments),
		},
	}
}

// Event returns a builder for an event service.
func (b *ServiceBuilder) Event() *ServiceBuilderEvent {
	defaults := b.node.cfg.inner.Service.Event
	return &ServiceBuilderEvent{
		node: b.node,
		name: b.serviceName.String(),
		caps: registry.EventCaps{
			MaxNotifiers:    uint64(defaults.MaxNotifiers),
			MaxListeners:    uint64(defaults.MaxListeners),
			MaxNodes:        defaultMaxNodes,
			EventIDMaxValue: uint64(defaults.EventIDMaxValue),
		},
	}
}

// RequestResponse returns a builder for a request-response service.
func (b *ServiceBuilder) RequestResponse() *ServiceBuilderRequestResponse {
	defaults := b.node.cfg.inner.Service.RequestResponse
	return &ServiceBuilderRequestResponse{
		node: b.node,
		name: b.serviceName.String(),
		caps: registry.ReqResCaps{
			MaxClients:                 uint64(defaults.MaxClients),
			MaxServers:                 uint64(defaults.MaxServers),
			MaxNodes:                   defaultMaxNodes,
			MaxActiveRequestsPerClient: uint64(defaults.MaxActiveRequestsPerClient),
			MaxResponseBufferSize:      uint64(defaults.MaxResponseBufferSize),
			MaxBorrowedResponses:       uint64(defaults.MaxResponseBufferSize),
		},
	}
}

// defaultMaxNodes bounds how many nodes may attach to one service.
const defaultMaxNodes = 32

// ServiceBuilderPubSub configures and opens or creates a publish-subscribe
// service.
type ServiceBuilderPubSub struct {
	node *Node
	name string

	payload    registry.TypeDetail
	userHeader registry.TypeDetail
	caps       registry.PubSubCaps

	specifier *AttributeSpecifier
	verifier  *AttributeVerifier
}

// PayloadType sets the payload type contract of the service. Both sides of
// a service must declare the same name, size, and alignment.
func (b *ServiceBuilderPubSub) PayloadType(typeName string, size, alignment uint64) *ServiceBuilderPubSub {
	b.payload = registry.TypeDetail{Variant: registry.TypeFixedSize, Name: typeName, Size: size, Alignment: alignment}
	return b
}

// PayloadSliceType sets a slice payload contract: elements of the given
// type, with the per-sample element count chosen at loan time.
func (b *ServiceBuilderPubSub) PayloadSliceType(typeName string, size, alignment uint64) *ServiceBuilderPubSub {
	b.payload = registry.TypeDetail{Variant: registry.TypeSlice, Name: typeName, Size: size, Alignment: alignment}
	return b
}

// MaxPublishers sets the maximum number of publishers.
func (b *ServiceBuilderPubSub) MaxPublishers(n uint64) *ServiceBuilderPubSub {
	b.caps.MaxPublishers = n
	return b
}

// MaxSubscribers sets the maximum number of subscribers.
func (b *ServiceBuilderPubSub) MaxSubscribers(n uint64) *ServiceBuilderPubSub {
	b.caps.MaxSubscribers = n
	return b
}

// HistorySize sets how many of the most recently sent samples are retained
// for late-joining subscribers.
func (b *ServiceBuilderPubSub) HistorySize(n uint64) *ServiceBuilderPubSub {
	b.caps.HistorySize = n
	return b
}

// SubscriberMaxBufferSize sets the delivery ring capacity per subscriber.
func (b *ServiceBuilderPubSub) SubscriberMaxBufferSize(n uint64) *ServiceBuilderPubSub {
	b.caps.SubscriberMaxBufferSize = n
	return b
}

// EnableSafeOverflow selects whether a full subscriber buffer evicts the
// oldest sample (true) or rejects the newest (false).
func (b *ServiceBuilderPubSub) EnableSafeOverflow(enable bool) *ServiceBuilderPubSub {
	b.caps.EnableSafeOverflow = enable
	return b
}

// MaxNodes sets the maximum number of nodes that may attach.
func (b *ServiceBuilderPubSub) MaxNodes(n uint64) *ServiceBuilderPubSub {
	b.caps.MaxNodes = n
	return b
}

// SubscriberMaxBorrowedSamples sets how many samples a subscriber may hold
// concurrently.
func (b *ServiceBuilderPubSub) SubscriberMaxBorrowedSamples(n uint64) *ServiceBuilderPubSub {
	b.caps.SubscriberMaxBorrowedSamples = n
	return b
}

// MaxSupportedSharedMemorySegments caps how many data segments a publisher
// of this service may grow to.
func (b *ServiceBuilderPubSub) MaxSupportedSharedMemorySegments(n uint64) *ServiceBuilderPubSub {
	b.caps.MaxSegments = n
	return b
}

// PayloadAlignment overrides the payload alignment requirement.
func (b *ServiceBuilderPubSub) PayloadAlignment(alignment uint64) *ServiceBuilderPubSub {
	b.payload.Alignment = alignment
	return b
}

// UserHeaderType sets the user header type contract of the service.
func (b *ServiceBuilderPubSub) UserHeaderType(typeName string, size, alignment uint64) *ServiceBuilderPubSub {
	b.userHeader = registry.TypeDetail{Variant: registry.TypeFixedSize, Name: typeName, Size: size, Alignment: alignment}
	return b
}

func (b *ServiceBuilderPubSub) requestedConfig() *registry.StaticConfig {
	return &registry.StaticConfig{
		Pattern:    registry.PatternPublishSubscribe,
		Name:       b.name,
		Payload:    b.payload,
		UserHeader: b.userHeader,
		PubSub:     b.caps,
	}
}

func (b *ServiceBuilderPubSub) build(mode serviceBuilderMode) (*PortFactoryPubSub, error) {
	state, err := acquireService(b.node, b.name, b.requestedConfig(), b.verifier, b.specifier, mode)
	if err != nil {
		return nil, err
	}
	factory := &PortFactoryPubSub{state: state, node: b.node}
	b.node.track(factory)
	return factory, nil
}

// OpenOrCreate opens the service if it exists, creating it otherwise.
func (b *ServiceBuilderPubSub) OpenOrCreate() (*PortFactoryPubSub, error) {
	return b.build(modeOpenOrCreate)
}

// Open opens an existing service, verifying compatibility.
func (b *ServiceBuilderPubSub) Open() (*PortFactoryPubSub, error) {
	return b.build(modeOpen)
}

// Create creates the service, failing if it already exists.
func (b *ServiceBuilderPubSub) Create() (*PortFactoryPubSub, error) {
	return b.build(modeCreate)
}

// OpenWithAttributes opens an existing service, additionally verifying the
// given attribute requirements.
func (b *ServiceBuilderPubSub) OpenWithAttributes(verifier *AttributeVerifier) (*PortFactoryPubSub, error) {
	b.verifier = verifier
	return b.build(modeOpen)
}

// CreateWithAttributes creates the service with the given attributes
// stamped into its static config.
func (b *ServiceBuilderPubSub) CreateWithAttributes(specifier *AttributeSpecifier) (*PortFactoryPubSub, error) {
	b.specifier = specifier
	return b.build(modeCreate)
}

// OpenOrCreateWithAttributes combines OpenWithAttributes and
// CreateWithAttributes depending on which path the race resolves to.
func (b *ServiceBuilderPubSub) OpenOrCreateWithAttributes(verifier *AttributeVerifier, specifier *AttributeSpecifier) (*PortFactoryPubSub, error) {
	b.verifier = verifier
	b.specifier = specifier
	return b.build(modeOpenOrCreate)
}

// ServiceBuilderEvent configures and opens or creates an event service.
type ServiceBuilderEvent struct {
	node *Node
	name string

	caps registry.EventCaps

	deadline          *time.Duration
	notifierDeadEvent *uint64
	notifierCreated   *uint64
	notifierDropped   *uint64

	specifier *AttributeSpecifier
	verifier  *AttributeVerifier
}

// MaxNotifiers sets the maximum number of notifiers.
func (b *ServiceBuilderEvent) MaxNotifiers(n uint64) *ServiceBuilderEvent {
	b.caps.MaxNotifiers = n
	return b
}

// MaxListeners sets the maximum number of listeners.
func (b *ServiceBuilderEvent) MaxListeners(n uint64) *ServiceBuilderEvent {
	b.caps.MaxListeners = n
	return b
}

// EventIdMaxValue sets the largest event id a notifier may send.
func (b *ServiceBuilderEvent) EventIdMaxValue(n uint64) *ServiceBuilderEvent {
	b.caps.EventIDMaxValue = n
	return b
}

// MaxNodes sets the maximum number of nodes that may attach.
func (b *ServiceBuilderEvent) MaxNodes(n uint64) *ServiceBuilderEvent {
	b.caps.MaxNodes = n
	return b
}

// Deadline sets the maximum time between notifications before listeners may
// consider the notifier unresponsive.
func (b *ServiceBuilderEvent) Deadline(deadline time.Duration) *ServiceBuilderEvent {
	b.deadline = &deadline
	return b
}

// DisableDeadline removes a previously set deadline.
func (b *ServiceBuilderEvent) DisableDeadline() *ServiceBuilderEvent {
	b.deadline = nil
	return b
}

// NotifierDeadEvent sets the event id emitted when a notifier dies.
func (b *ServiceBuilderEvent) NotifierDeadEvent(id uint64) *ServiceBuilderEvent {
	b.notifierDeadEvent = &id
	return b
}

// DisableNotifierDeadEvent removes the notifier-dead event.
func (b *ServiceBuilderEvent) DisableNotifierDeadEvent() *ServiceBuilderEvent {
	b.notifierDeadEvent = nil
	return b
}

// NotifierCreatedEvent sets the event id emitted when a notifier is created.
func (b *ServiceBuilderEvent) NotifierCreatedEvent(id uint64) *ServiceBuilderEvent {
	b.notifierCreated = &id
	return b
}

// DisableNotifierCreatedEvent removes the notifier-created event.
func (b *ServiceBuilderEvent) DisableNotifierCreatedEvent() *ServiceBuilderEvent {
	b.notifierCreated = nil
	return b
}

// NotifierDroppedEvent sets the event id emitted when a notifier is dropped.
func (b *ServiceBuilderEvent) NotifierDroppedEvent(id uint64) *ServiceBuilderEvent {
	b.notifierDropped = &id
	return b
}

// DisableNotifierDroppedEvent removes the notifier-dropped event.
func (b *ServiceBuilderEvent) DisableNotifierDroppedEvent() *ServiceBuilderEvent {
	b.notifierDropped = nil
	return b
}

func (b *ServiceBuilderEvent) requestedConfig() *registry.StaticConfig {
	return &registry.StaticConfig{
		Pattern: registry.PatternEvent,
		Name:    b.name,
		Event:   b.caps,
	}
}

func (b *ServiceBuilderEvent) build(mode serviceBuilderMode) (*PortFactoryEvent, error) {
	state, err := acquireService(b.node, b.name, b.requestedConfig(), b.verifier, b.specifier, mode)
	if err != nil {
		return nil, err
	}
	factory := &PortFactoryEvent{
		state:           state,
		node:            b.node,
		deadline:        b.deadline,
		notifierCreated: b.notifierCreated,
		notifierDropped: b.notifierDropped,
		notifierDead:    b.notifierDeadEvent,
	}
	b.node.track(factory)
	return factory, nil
}

// OpenOrCreate opens the service if it exists, creating it otherwise.
func (b *ServiceBuilderEvent) OpenOrCreate() (*PortFactoryEvent, error) {
	return b.build(modeOpenOrCreate)
}

// Open opens an existing service, verifying compatibility.
func (b *ServiceBuilderEvent) Open() (*PortFactoryEvent, error) {
	return b.build(modeOpen)
}

// Create creates the service, failing if it already exists.
func (b *ServiceBuilderEvent) Create() (*PortFactoryEvent, error) {
	return b.build(modeCreate)
}

// OpenWithAttributes opens an existing service, additionally verifying the
// given attribute requirements.
func (b *ServiceBuilderEvent) OpenWithAttributes(verifier *AttributeVerifier) (*PortFactoryEvent, error) {
	b.verifier = verifier
	return b.build(modeOpen)
}

// CreateWithAttributes creates the service with the given attributes.
func (b *ServiceBuilderEvent) CreateWithAttributes(specifier *AttributeSpecifier) (*PortFactoryEvent, error) {
	b.specifier = specifier
	return b.build(modeCreate)
}

// ServiceBuilderRequestResponse configures and opens or creates a
// request-response service.
type ServiceBuilderRequestResponse struct {
	node *Node
	name string

	request  registry.TypeDetail
	response registry.TypeDetail
	caps     registry.ReqResCaps

	fireAndForget bool

	specifier *AttributeSpecifier
	verifier  *AttributeVerifier
}

// RequestPayloadType sets the request payload type contract.
func (b *ServiceBuilderRequestResponse) RequestPayloadType(typeName string, size, alignment uint64) *ServiceBuilderRequestResponse {
	b.request = registry.TypeDetail{Variant: registry.TypeFixedSize, Name: typeName, Size: size, Alignment: alignment}
	return b
}

// ResponsePayloadType sets the response payload type contract.
func (b *ServiceBuilderRequestResponse) ResponsePayloadType(typeName string, size, alignment uint64) *ServiceBuilderRequestResponse {
	b.response = registry.TypeDetail{Variant: registry.TypeFixedSize, Name: typeName, Size: size, Alignment: alignment}
	return b
}

// MaxClients sets the maximum number of clients.
func (b *ServiceBuilderRequestResponse) MaxClients(n uint64) *ServiceBuilderRequestResponse {
	b.caps.MaxClients = n
	return b
}

// MaxServers sets the maximum number of servers.
func (b *ServiceBuilderRequestResponse) MaxServers(n uint64) *ServiceBuilderRequestResponse {
	b.caps.MaxServers = n
	return b
}

// MaxActiveRequestsPerClient bounds in-flight requests per client.
func (b *ServiceBuilderRequestResponse) MaxActiveRequestsPerClient(n uint64) *ServiceBuilderRequestResponse {
	b.caps.MaxActiveRequestsPerClient = n
	return b
}

// MaxResponseBufferSize sets the response buffer size of the service. Each
// client-server connection has one response ring of max(this,
// MaxActiveRequestsPerClient) entries, shared by all of that client's
// pending requests; there is no separate bound per active request.
func (b *ServiceBuilderRequestResponse) MaxResponseBufferSize(n uint64) *ServiceBuilderRequestResponse {
	b.caps.MaxResponseBufferSize = n
	return b
}

// MaxBorrowedResponsesPerPendingResponse bounds concurrently held
// responses.
func (b *ServiceBuilderRequestResponse) MaxBorrowedResponsesPerPendingResponse(n uint64) *ServiceBuilderRequestResponse {
	b.caps.MaxBorrowedResponses = n
	return b
}

// EnableFireAndForgetRequests records the setting on the builder only. It is
// not part of the static config and does not change how clients or servers
// behave.
func (b *ServiceBuilderRequestResponse) EnableFireAndForgetRequests(enable bool) *ServiceBuilderRequestResponse {
	b.fireAndForget = enable
	return b
}

// EnableSafeOverflowForRequests sets the service's single overflow flag,
// which applies to the request and the response channel alike; the later
// call of this and EnableSafeOverflowForResponses wins.
func (b *ServiceBuilderRequestResponse) EnableSafeOverflowForRequests(enable bool) *ServiceBuilderRequestResponse {
	b.caps.EnableSafeOverflow = enable
	return b
}

// EnableSafeOverflowForResponses sets the service's single overflow flag,
// which applies to the request and the response channel alike; the later
// call of this and EnableSafeOverflowForRequests wins.
func (b *ServiceBuilderRequestResponse) EnableSafeOverflowForResponses(enable bool) *ServiceBuilderRequestResponse {
	b.caps.EnableSafeOverflow = enable
	return b
}

func (b *ServiceBuilderRequestResponse) requestedConfig() *registry.StaticConfig {
	return &registry.StaticConfig{
		Pattern:  registry.PatternRequestResponse,
		Name:     b.name,
		Request:  b.request,
		Response: b.response,
		ReqRes:   b.caps,
	}
}

func (b *ServiceBuilderRequestResponse) build(mode serviceBuilderMode) (*PortFactoryRequestResponse, error) {
	state, err := acquireService(b.node, b.name, b.requestedConfig(), b.verifier, b.specifier, mode)
	if err != nil {
		return nil, err
	}
	factory := &PortFactoryRequestResponse{state: state, node: b.node}
	b.node.track(factory)
	return factory, nil
}

// OpenOrCreate opens the service if it exists, creating it otherwise.
func (b *ServiceBuilderRequestResponse) OpenOrCreate() (*PortFactoryRequestResponse, error) {
	return b.build(modeOpenOrCreate)
}

// Open opens an existing service, verifying compatibility.
func (b *ServiceBuilderRequestResponse) Open() (*PortFactoryRequestResponse, error) {
	return b.build(modeOpen)
}

// Create creates the service, failing if it already exists.
func (b *ServiceBuilderRequestResponse) Create() (*PortFactoryRequestResponse, error) {
	return b.build(modeCreate)
}

// OpenWithAttributes opens an existing service, additionally verifying the
// given attribute requirements.
func (b *ServiceBuilderRequestResponse) OpenWithAttributes(verifier *AttributeVerifier) (*PortFactoryRequestResponse, error) {
	b.verifier = verifier
	return b.build(modeOpen)
}

// CreateWithAttributes creates the service with the given attributes.
func (b *ServiceBuilderRequestResponse) CreateWithAttributes(specifier *AttributeSpecifier) (*PortFactoryRequestResponse, error) {
	b.specifier = specifier
	return b.build(modeCreate)
}
