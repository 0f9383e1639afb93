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
	"path/filepath"
	"sync"

	"github.com/iox2go/iceoryx2/internal/logx"
	"github.com/iox2go/iceoryx2/internal/node"
	"github.com/iox2go/iceoryx2/internal/registry"
	"github.com/iox2go/iceoryx2/internal/shm"
	"github.com/iox2go/iceoryx2/internal/transport"
)

// chunkHeaderSize is the fixed per-chunk header every loaned chunk carries
// in front of the user header and payload: origin port id, number of
// elements, and the request id used by the request-response pattern.
const chunkHeaderSize = 32

// Node-registry labels for the per-node port metrics.
const (
	nodeKindPublisher  = node.PortPublisher
	nodeKindSubscriber = node.PortSubscriber
	nodeKindNotifier   = node.PortNotifier
	nodeKindListener   = node.PortListener
	nodeKindClient     = node.PortClient
	nodeKindServer     = node.PortServer
)

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// listenerEventQueueCapacity sizes the per-notifier event-id ring each
// listener owns.
const listenerEventQueueCapacity = 256

type serviceKey struct {
	serviceType ServiceType
	name        string
}

// serviceState is the in-process hub of one service: the sealed static
// config, the dynamic port table, and the live port objects whose
// connections form the data plane. The file-backed artifacts (static
// config, monitoring tokens) make the service observable to other
// processes; the connection fabric itself is held here.
type serviceState struct {
	mu  sync.Mutex
	key serviceKey

	cfg      *registry.StaticConfig
	attrs    *AttributeSet
	dyn      *registry.DynamicConfig
	store    *registry.Store // nil for ServiceTypeLocal
	root     string
	prefix   string
	provider *shm.Provider

	factories int

	publishers  map[uint64]*Publisher
	subscribers map[uint64]*Subscriber
	notifiers   map[uint64]*Notifier
	listeners   map[uint64]*Listener
	clients     map[uint64]*Client
	servers     map[uint64]*Server

	slots map[uint64]uint32 // port id -> dynamic config slot

	requests      map[uint64]*requestState
	nextRequestID uint64

	removed bool
}

// requestState links a client's PendingResponse with the server-side
// ActiveRequests spawned from it; dropping either side only severs this one
// request flow.
type requestState struct {
	id     uint64
	client *Client

	mu        sync.Mutex
	connected bool
}

func (r *requestState) sever() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
}

func (r *requestState) isConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

var serviceTable = struct {
	sync.Mutex
	m map[serviceKey]*serviceState
}{m: make(map[serviceKey]*serviceState)}

// dynamicCapacity sizes a service's port table from its per-kind limits.
func dynamicCapacity(cfg *registry.StaticConfig) uint32 {
	total := cfg.PubSub.MaxPublishers + cfg.PubSub.MaxSubscribers +
		cfg.Event.MaxNotifiers + cfg.Event.MaxListeners +
		cfg.ReqRes.MaxClients + cfg.ReqRes.MaxServers
	if total == 0 {
		total = 1
	}
	return uint32(total)
}

func portKindCaps(cfg *registry.StaticConfig) map[registry.PortKind]uint64 {
	caps := make(map[registry.PortKind]uint64)
	switch cfg.Pattern {
	case registry.PatternPublishSubscribe:
		caps[registry.KindPublisher] = cfg.PubSub.MaxPublishers
		caps[registry.KindSubscriber] = cfg.PubSub.MaxSubscribers
	case registry.PatternEvent:
		caps[registry.KindNotifier] = cfg.Event.MaxNotifiers
		caps[registry.KindListener] = cfg.Event.MaxListeners
	case registry.PatternRequestResponse:
		caps[registry.KindClient] = cfg.ReqRes.MaxClients
		caps[registry.KindServer] = cfg.ReqRes.MaxServers
	}
	return caps
}

// serviceBuilderMode selects which verb of the builder state machine runs.
type serviceBuilderMode int

const (
	modeOpenOrCreate serviceBuilderMode = iota
	modeOpen
	modeCreate
)

// acquireService runs the open/create state machine for one service name
// and returns its in-process state with the factory count bumped.
func acquireService(n *Node, name string, requested *registry.StaticConfig, verifier *AttributeVerifier, specifier *AttributeSpecifier, mode serviceBuilderMode) (*serviceState, error) {
	if specifier != nil {
		requested.Attributes = specifier.set.toRegistry()
	}

	key := serviceKey{serviceType: n.serviceType, name: name}
	serviceTable.Lock()
	defer serviceTable.Unlock()

	if state, ok := serviceTable.m[key]; ok {
		state.mu.Lock()
		defer state.mu.Unlock()
		if mode == modeCreate {
			return nil, OpenOrCreateErrorAlreadyExists
		}
		if err := registry.VerifyCompatibility(state.cfg, requested); err != nil {
			return nil, mapRegistryError(err)
		}
		if err := verifier.verify(state.attrs); err != nil {
			return nil, err
		}
		state.factories++
		return state, nil
	}

	cfg := n.cfg.inner
	root := cfg.Global.RootPath
	prefix := cfg.Global.Prefix

	var sealed *registry.StaticConfig
	switch n.serviceType {
	case ServiceTypeIpc:
		store := &registry.Store{Root: root, Prefix: prefix}
		timeout := cfg.CreationTimeout()
		switch mode {
		case modeOpen:
			existing, err := store.OpenWithTimeout(name, timeout)
			if err != nil {
				return nil, mapRegistryError(err)
			}
			if err := registry.VerifyCompatibility(existing, requested); err != nil {
				return nil, mapRegistryError(err)
			}
			sealed = existing
		case modeCreate:
			if err := requested.Seal(); err != nil {
				return nil, OpenOrCreateErrorInternalError
			}
			if err := store.Create(requested); err != nil {
				return nil, mapRegistryError(err)
			}
			sealed = requested
		default:
			existing, _, err := store.OpenOrCreate(requested, timeout)
			if err != nil {
				return nil, mapRegistryError(err)
			}
			sealed = existing
		}
		state := newServiceState(key, sealed, store, root, prefix)
		if err := verifier.verify(state.attrs); err != nil {
			store.Remove(name)
			return nil, err
		}
		serviceTable.m[key] = state
		state.factories = 1
		return state, nil

	default: // ServiceTypeLocal
		if mode == modeOpen {
			return nil, OpenOrCreateErrorDoesNotExist
		}
		if err := requested.Seal(); err != nil {
			return nil, OpenOrCreateErrorInternalError
		}
		state := newServiceState(key, requested, nil, root, prefix)
		if err := verifier.verify(state.attrs); err != nil {
			return nil, err
		}
		serviceTable.m[key] = state
		state.factories = 1
		return state, nil
	}
}

func newServiceState(key serviceKey, cfg *registry.StaticConfig, store *registry.Store, root, prefix string) *serviceState {
	return &serviceState{
		key:      key,
		cfg:      cfg,
		attrs:    attributeSetFromRegistry(cfg.Attributes),
		dyn:      registry.NewDynamicConfig(dynamicCapacity(cfg), portKindCaps(cfg)),
		store:    store,
		root:     root,
		prefix:   prefix,
		provider: newProviderFor(key.serviceType, root),

		publishers:  make(map[uint64]*Publisher),
		subscribers: make(map[uint64]*Subscriber),
		notifiers:   make(map[uint64]*Notifier),
		listeners:   make(map[uint64]*Listener),
		clients:     make(map[uint64]*Client),
		servers:     make(map[uint64]*Server),
		slots:       make(map[uint64]uint32),
		requests:    make(map[uint64]*requestState),
	}
}

func newProviderFor(serviceType ServiceType, root string) *shm.Provider {
	if serviceType == ServiceTypeLocal {
		return &shm.Provider{Local: true}
	}
	return &shm.Provider{Root: filepath.Join(root, "segments")}
}

// mapRegistryError converts registry-layer failures into the public
// OpenOrCreateError taxonomy.
func mapRegistryError(err error) error {
	switch err {
	case nil:
		return nil
	case registry.ErrAlreadyExists:
		return OpenOrCreateErrorAlreadyExists
	case registry.ErrDoesNotExist:
		return OpenOrCreateErrorDoesNotExist
	case registry.ErrIsBeingCreated:
		return OpenOrCreateErrorIsBeingCreatedByAnotherInstance
	case registry.ErrInitializationNotYetFinalized:
		return OpenOrCreateErrorInitializationNotYetFinalized
	case registry.ErrVersionMismatch:
		return OpenOrCreateErrorVersionMismatch
	case registry.ErrIncompatiblePattern:
		return OpenOrCreateErrorIncompatibleMessagingPattern
	case registry.ErrIncompatibleTypes:
		return OpenOrCreateErrorIncompatibleTypes
	case registry.ErrIncompatibleAttributes:
		return OpenOrCreateErrorIncompatibleAttributes
	case registry.ErrCorruptedConfig:
		return OpenOrCreateErrorServiceInInconsistentState
	default:
		return OpenOrCreateErrorInternalError
	}
}

// releaseFactory drops one factory handle and removes the service entirely
// once no factory and no port reference it anymore.
func (s *serviceState) releaseFactory() {
	serviceTable.Lock()
	defer serviceTable.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factories > 0 {
		s.factories--
	}
	s.maybeRemoveLocked()
}

// maybeRemoveLocked destroys the service once nothing references it. Both
// serviceTable and s.mu must be held.
func (s *serviceState) maybeRemoveLocked() {
	if s.removed || s.factories > 0 {
		return
	}
	if len(s.publishers)+len(s.subscribers)+len(s.notifiers)+
		len(s.listeners)+len(s.clients)+len(s.servers) > 0 {
		return
	}
	s.removed = true
	s.dyn.Lock()
	delete(serviceTable.m, s.key)
	if s.store != nil {
		s.store.Remove(s.key.name)
	}
	logx.For("registry").Debugf("service %q removed", s.key.name)
}

// portClosed unregisters a port from the dynamic config and triggers
// service removal if it was the last reference. Callers hold no locks.
func (s *serviceState) portClosed(portID uint64) {
	serviceTable.Lock()
	defer serviceTable.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.slots[portID]; ok {
		s.dyn.Unregister(slot)
		delete(s.slots, portID)
	}
	s.maybeRemoveLocked()
}

// registerPortLocked claims a dynamic-config slot for a new port. s.mu must
// be held.
func (s *serviceState) registerPortLocked(portID uint64, n *Node, kind registry.PortKind) error {
	slot, err := s.dyn.Register(registry.PortDescriptor{
		PortID: portID,
		NodeID: n.id.value,
		Kind:   kind,
	})
	if err != nil {
		return err
	}
	s.slots[portID] = slot
	return nil
}

// nodeIsDead reports whether the node owning a port descriptor is gone:
// for IPC services the monitoring token decides, for local services a node
// is dead when it is no longer registered in this process.
func (s *serviceState) nodeIsDead(nodeID uint64) bool {
	if s.key.serviceType == ServiceTypeIpc {
		return node.Inspect(s.root, nodeID) == node.Dead
	}
	return localNodeIsDead(nodeID)
}

// reapDeadPortsLocked scans the dynamic config for ports whose node died
// without a graceful shutdown, recycles every chunk they still held, and
// removes their entries. It runs on every discovery-style scan: port
// creation and service listing. s.mu must be held.
func (s *serviceState) reapDeadPortsLocked() {
	s.dyn.Reap(s.nodeIsDead, func(desc registry.PortDescriptor) {
		delete(s.slots, desc.PortID)
		switch desc.Kind {
		case registry.KindPublisher:
			if p := s.publishers[desc.PortID]; p != nil {
				delete(s.publishers, desc.PortID)
				p.teardownLocked()
			}
		case registry.KindSubscriber:
			if sub := s.subscribers[desc.PortID]; sub != nil {
				delete(s.subscribers, desc.PortID)
				sub.teardownLocked()
			}
		case registry.KindNotifier:
			if n := s.notifiers[desc.PortID]; n != nil {
				delete(s.notifiers, desc.PortID)
				n.teardownLocked()
			}
		case registry.KindListener:
			if l := s.listeners[desc.PortID]; l != nil {
				delete(s.listeners, desc.PortID)
				l.teardownLocked()
			}
		case registry.KindClient:
			if c := s.clients[desc.PortID]; c != nil {
				delete(s.clients, desc.PortID)
				c.teardownLocked()
			}
		case registry.KindServer:
			if srv := s.servers[desc.PortID]; srv != nil {
				delete(s.servers, desc.PortID)
				srv.teardownLocked()
			}
		}
		logx.For("registry").Infof("reaped dead %s port %016x from service %q",
			desc.Kind, desc.PortID, s.key.name)
	})
}

// PortSlotSnapshot is a diagnostic view of a service's dynamic-config port
// table: which of its fixed slots are currently occupied.
type PortSlotSnapshot struct {
	Capacity uint32
	Occupied []uint32
}

// OccupiedPortSlots returns the port-table occupancy of an in-process
// service, or nil if the service is not open in this process.
func OccupiedPortSlots(serviceType ServiceType, name string) *PortSlotSnapshot {
	serviceTable.Lock()
	state, ok := serviceTable.m[serviceKey{serviceType: serviceType, name: name}]
	serviceTable.Unlock()
	if !ok {
		return nil
	}
	return &PortSlotSnapshot{
		Capacity: state.dyn.Capacity(),
		Occupied: state.dyn.OccupiedSlots(),
	}
}

// messagingPattern converts the registry tag to the public enum.
func (s *serviceState) messagingPattern() MessagingPattern {
	switch s.cfg.Pattern {
	case registry.PatternPublishSubscribe:
		return MessagingPatternPublishSubscribe
	case registry.PatternEvent:
		return MessagingPatternEvent
	default:
		return MessagingPatternRequestResponse
	}
}

// chunkLayoutFor computes the full chunk geometry for a payload contract:
// fixed header, user header, then payload repeated maxSliceLen times.
func chunkLayoutFor(payload registry.TypeDetail, userHeader registry.TypeDetail, maxSliceLen uint64) shm.Layout {
	if maxSliceLen == 0 {
		maxSliceLen = 1
	}
	align := payload.Alignment
	if userHeader.Alignment > align {
		align = userHeader.Alignment
	}
	if align < 8 {
		align = 8
	}
	size := uint64(chunkHeaderSize) + shm.Align(userHeader.Size, 8) + payload.Size*maxSliceLen
	return shm.Layout{Size: shm.Align(size, align), Alignment: align}
}

// connectionConfigPubSub derives the transport config both ends of a
// publish-subscribe connection must agree on.
func (s *serviceState) connectionConfigPubSub() transport.Config {
	return transport.Config{
		BufferSize:                       int(s.cfg.PubSub.SubscriberMaxBufferSize),
		EnableSafeOverflow:               s.cfg.PubSub.EnableSafeOverflow,
		MaxBorrowedSamplesPerChannel:     int(s.cfg.PubSub.SubscriberMaxBorrowedSamples),
		MaxSupportedSharedMemorySegments: int(s.cfg.PubSub.MaxSegments),
		NumberOfChannels:                 1,
	}
}

// connectionConfigReqRes derives the two-channel transport config of a
// request-response connection: channel 0 carries requests, channel 1
// responses.
func (s *serviceState) connectionConfigReqRes() transport.Config {
	buffer := int(s.cfg.ReqRes.MaxActiveRequestsPerClient)
	if resp := int(s.cfg.ReqRes.MaxResponseBufferSize); resp > buffer {
		buffer = resp
	}
	if buffer == 0 {
		buffer = 1
	}
	borrowed := int(s.cfg.ReqRes.MaxBorrowedResponses)
	if borrowed == 0 {
		borrowed = buffer
	}
	return transport.Config{
		BufferSize:                       buffer,
		EnableSafeOverflow:               s.cfg.ReqRes.EnableSafeOverflow,
		MaxBorrowedSamplesPerChannel:     borrowed,
		MaxSupportedSharedMemorySegments: 1,
		NumberOfChannels:                 2,
	}
}
