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
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iox2go/iceoryx2/internal/config"
	"github.com/iox2go/iceoryx2/internal/logx"
	"github.com/iox2go/iceoryx2/internal/node"
)

// Config carries the global configuration a Node was created with. It seeds
// every builder default and names the filesystem namespace shared-memory
// artifacts live in.
type Config struct {
	inner *config.Config
}

// RootPath returns the directory cross-process artifacts are placed under.
func (c *Config) RootPath() string { return c.inner.Global.RootPath }

// Prefix returns the artifact name prefix.
func (c *Config) Prefix() string { return c.inner.Global.Prefix }

// NewConfigFromFile loads a TOML configuration file, merging it onto the
// built-in defaults.
func NewConfigFromFile(path string) (*Config, error) {
	inner, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return &Config{inner: inner}, nil
}

// defaultConfig returns the built-in configuration.
func defaultConfig() *Config {
	return &Config{inner: config.Default()}
}

// localNodes tracks every node of this process so local-scope discovery and
// liveness checks have something to consult without touching the
// filesystem.
var localNodes = struct {
	sync.Mutex
	m map[uint64]*Node
}{m: make(map[uint64]*Node)}

func localNodeIsDead(nodeID uint64) bool {
	localNodes.Lock()
	defer localNodes.Unlock()
	n, ok := localNodes.m[nodeID]
	if !ok {
		// Gracefully closed nodes unregister their ports themselves; an
		// unknown id only appears after an ungraceful teardown.
		return true
	}
	return n.dead
}

// Node is a process's root handle: it owns every port created through it,
// holds the monitoring token other processes observe, and aggregates
// metrics about the ports it carries.
type Node struct {
	mu          sync.Mutex
	name        string
	serviceType ServiceType
	id          *NodeId
	cfg         *Config
	signalMode  SignalHandlingMode

	token    *node.Token // nil for ServiceTypeLocal
	registry *node.Registry
	promReg  *prometheus.Registry

	owned  map[io.Closer]struct{}
	closed bool
	dead   bool // set only by tests simulating an ungraceful exit
}

// NodeBuilder is used to configure and create a Node.
type NodeBuilder struct {
	name       string
	cfg        *Config
	signalMode SignalHandlingMode
	consumed   bool
}

// NewNodeBuilder creates a new NodeBuilder.
func NewNodeBuilder() *NodeBuilder {
	return &NodeBuilder{}
}

// Name sets the name of the node.
func (b *NodeBuilder) Name(name string) *NodeBuilder {
	b.name = name
	return b
}

// Config sets the global configuration the node and its builders draw
// defaults from.
func (b *NodeBuilder) Config(cfg *Config) *NodeBuilder {
	b.cfg = cfg
	return b
}

// SignalHandlingMode sets the signal handling mode the node reports. The
// node installs no signal handler.
func (b *NodeBuilder) SignalHandlingMode(mode SignalHandlingMode) *NodeBuilder {
	b.signalMode = mode
	return b
}

// Create creates the Node for the given service type.
func (b *NodeBuilder) Create(serviceType ServiceType) (*Node, error) {
	const op = "NodeBuilder.Create"
	if b.consumed {
		return nil, ErrNodeBuilderConsumed
	}
	b.consumed = true

	cfg := b.cfg
	if cfg == nil {
		cfg = defaultConfig()
	}

	n := &Node{
		name:        b.name,
		serviceType: serviceType,
		cfg:         cfg,
		signalMode:  b.signalMode,
		promReg:     prometheus.NewRegistry(),
		owned:       make(map[io.Closer]struct{}),
	}
	n.id = &NodeId{value: nextPortID(), pid: int32(os.Getpid())}
	n.registry = node.NewRegistry(n.promReg)

	if serviceType == ServiceTypeIpc {
		token, err := node.Acquire(cfg.RootPath(), n.id.value, b.name)
		if err != nil {
			logx.For("node").Errorf("monitoring token: %v", err)
			return nil, WrapError(op, NodeCreationErrorInternalError)
		}
		n.token = token
	}

	localNodes.Lock()
	localNodes.m[n.id.value] = n
	localNodes.Unlock()

	logx.For("node").Debugf("node %q (%016x) created", b.name, n.id.value)
	return n, nil
}

// Close releases the node and every port created through it.
// Implements io.Closer.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	owned := make([]io.Closer, 0, len(n.owned))
	for c := range n.owned {
		owned = append(owned, c)
	}
	n.owned = make(map[io.Closer]struct{})
	n.mu.Unlock()

	// Ports and factories both sit in owned and are closed in map order,
	// which is unspecified. A service is removed only once its last factory
	// and port are gone, and each Close is idempotent, so the order does
	// not matter.
	for _, c := range owned {
		c.Close()
	}
	n.registry.Drain(nil)

	if n.token != nil {
		n.token.Close()
		n.token = nil
	}

	localNodes.Lock()
	delete(localNodes.m, n.id.value)
	localNodes.Unlock()
	return nil
}

// track registers a closer (port or factory) owned by this node.
func (n *Node) track(c io.Closer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.owned[c] = struct{}{}
	}
}

// untrack removes a closer after it closed itself.
func (n *Node) untrack(c io.Closer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.owned, c)
}

// Name returns the name of the node.
func (n *Node) Name() string {
	return n.name
}

// Wait sleeps for the given duration. It exists so polling loops written
// against the original API keep their cadence.
func (n *Node) Wait(duration time.Duration) error {
	time.Sleep(duration)
	return nil
}

const nodeWaitContextPollInterval = 100 * time.Millisecond

// WaitWithContext blocks until the context is done or the node is closed.
func (n *Node) WaitWithContext(ctx context.Context) error {
	ticker := time.NewTicker(nodeWaitContextPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if closed {
				return ErrNodeClosed
			}
		}
	}
}

// ServiceBuilder returns a builder for creating or opening a service with
// the given name.
func (n *Node) ServiceBuilder(serviceName *ServiceName) *ServiceBuilder {
	return &ServiceBuilder{node: n, serviceName: serviceName}
}

// ServiceType returns the service type of the node.
func (n *Node) ServiceType() ServiceType {
	return n.serviceType
}

// ID returns the unique identifier of the node.
func (n *Node) ID() *NodeId {
	id := *n.id
	return &id
}

// SignalHandlingMode returns the signal handling mode of the node.
func (n *Node) SignalHandlingMode() SignalHandlingMode {
	return n.signalMode
}

// Config returns the global configuration the node was created with.
func (n *Node) Config() *Config {
	return n.cfg
}

// Metrics returns the Prometheus registry carrying this node's port gauges
// and counters.
func (n *Node) Metrics() *prometheus.Registry {
	return n.promReg
}

// NodeId is a system-wide unique identifier for a node.
type NodeId struct {
	value uint64
	pid   int32
}

// Close is a no-op; NodeId owns no external resource. Implements io.Closer.
func (id *NodeId) Close() error { return nil }

// Value returns the raw numeric value of the node id.
func (id *NodeId) Value() uint64 { return id.value }

// Pid returns the process id of the node's owning process.
func (id *NodeId) Pid() int32 { return id.pid }

// NodeState represents the state of a Node in the system.
type NodeState int

const (
	NodeStateAlive NodeState = iota
	NodeStateDead
	NodeStateInaccessible
	NodeStateUndefined
)

// String implements fmt.Stringer for NodeState.
func (s NodeState) String() string {
	switch s {
	case NodeStateAlive:
		return "Alive"
	case NodeStateDead:
		return "Dead"
	case NodeStateInaccessible:
		return "Inaccessible"
	case NodeStateUndefined:
		return "Undefined"
	default:
		return "Unknown"
	}
}

// NodeListCallback is invoked for every node found by ListNodesWithCallback.
type NodeListCallback func(state NodeState, nodeId *NodeId, name string) CallbackProgression

// NodeInfo describes one node found by ListNodes.
type NodeInfo struct {
	Name  string
	State NodeState
	ID    *NodeId
}

// ListNodes returns every node currently observable in the given scope.
func ListNodes(serviceType ServiceType, config *Config) ([]NodeInfo, error) {
	var out []NodeInfo
	err := ListNodesWithCallback(serviceType, config, func(state NodeState, nodeId *NodeId, name string) CallbackProgression {
		out = append(out, NodeInfo{Name: name, State: state, ID: nodeId})
		return CallbackProgressionContinue
	})
	return out, err
}

// ListNodesWithCallback invokes callback for every observable node until it
// returns CallbackProgressionStop.
func ListNodesWithCallback(serviceType ServiceType, config *Config, callback NodeListCallback) error {
	return listNodesImpl(serviceType, config, callback)
}

// DeadNodeView describes a node observed as dead whose stale resources can
// be removed.
type DeadNodeView struct {
	ID   *NodeId
	Name string
}

// RemoveStaleResources removes everything a dead node left behind: its port
// entries in every service's dynamic config and, for IPC nodes, its
// monitoring token. It reports whether removal happened and refuses to
// touch a node still observed as alive.
func RemoveStaleResources(serviceType ServiceType, nodeId *NodeId, config *Config) (bool, error) {
	const op = "RemoveStaleResources"
	if config == nil {
		config = defaultConfig()
	}

	// Sweep the node's port entries out of every in-process service first.
	serviceTable.Lock()
	states := make([]*serviceState, 0, len(serviceTable.m))
	for _, state := range serviceTable.m {
		if state.key.serviceType == serviceType {
			states = append(states, state)
		}
	}
	serviceTable.Unlock()
	for _, state := range states {
		state.mu.Lock()
		state.reapDeadPortsLocked()
		state.mu.Unlock()
	}

	if serviceType != ServiceTypeIpc {
		return true, nil
	}
	cleaner := node.NewCleaner(config.RootPath())
	if err := cleaner.Remove(nodeId.value); err != nil {
		if err == node.ErrNodeStillAlive {
			return false, nil
		}
		return false, WrapError(op, NodeCleanupErrorInternalError)
	}
	return true, nil
}
