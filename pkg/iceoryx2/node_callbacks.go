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
	"sort"

	"github.com/iox2go/iceoryx2/internal/node"
)

// listNodesImpl enumerates nodes for ListNodes/ListNodesWithCallback. Local
// scope walks this process's node table; IPC scope walks the monitoring
// tokens under the configured root path, so nodes of other processes (and
// dead ones) show up too.
func listNodesImpl(serviceType ServiceType, config *Config, callback NodeListCallback) error {
	if config == nil {
		config = defaultConfig()
	}

	if serviceType == ServiceTypeLocal {
		localNodes.Lock()
		infos := make([]NodeInfo, 0, len(localNodes.m))
		for _, n := range localNodes.m {
			state := NodeStateAlive
			if n.dead {
				state = NodeStateDead
			}
			infos = append(infos, NodeInfo{Name: n.name, State: state, ID: n.ID()})
		}
		localNodes.Unlock()

		sort.Slice(infos, func(i, j int) bool { return infos[i].ID.value < infos[j].ID.value })
		for _, info := range infos {
			if callback(info.State, info.ID, info.Name) == CallbackProgressionStop {
				return nil
			}
		}
		return nil
	}

	states, err := node.List(config.RootPath())
	if err != nil {
		return WrapError("ListNodes", NodeListErrorInternalError)
	}
	ids := make([]uint64, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		var state NodeState
		switch states[id] {
		case node.Alive:
			state = NodeStateAlive
		case node.Dead:
			state = NodeStateDead
		default:
			state = NodeStateUndefined
		}
		nodeID := &NodeId{value: id}
		// The pid of in-process nodes is known precisely; foreign nodes
		// only expose what their token records.
		localNodes.Lock()
		if n, ok := localNodes.m[id]; ok {
			nodeID.pid = n.id.pid
		}
		localNodes.Unlock()
		name := node.ReadName(config.RootPath(), id)
		if callback(state, nodeID, name) == CallbackProgressionStop {
			return nil
		}
	}
	return nil
}
