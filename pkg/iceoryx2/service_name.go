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

// validateSemanticString enforces the bounded-length, restricted-character
// naming rule shared by ServiceName and NodeName: non-empty, at most
// maxLen bytes, no control characters. Service names are path-like, so '/'
// is permitted there but never in node names; the registry hashes service
// names before they touch the filesystem.
func validateSemanticString(s string, maxLen int, allowPathSeparator bool) error {
	if len(s) == 0 {
		return SemanticStringErrorInvalidContent
	}
	if len(s) > maxLen {
		return SemanticStringErrorExceedsMaximumLength
	}
	for _, r := range s {
		if r == '\\' || r < 0x20 || r == 0x7f {
			return SemanticStringErrorInvalidContent
		}
		if r == '/' && !allowPathSeparator {
			return SemanticStringErrorInvalidContent
		}
	}
	return nil
}

// ServiceName represents a unique identifier for a service.
// It follows a path-like naming convention (e.g., "My/Funk/ServiceName").
type ServiceName struct {
	name string
}

// NewServiceName creates a new ServiceName from a string.
// Maximum length is defined by ServiceNameMaxLength.
func NewServiceName(name string) (*ServiceName, error) {
	if err := validateSemanticString(name, ServiceNameMaxLength, true); err != nil {
		return nil, err
	}
	return &ServiceName{name: name}, nil
}

// Close is a no-op; ServiceName owns no external resource. Implements io.Closer.
func (s *ServiceName) Close() error { return nil }

// String returns the string representation of the ServiceName.
func (s *ServiceName) String() string {
	if s == nil {
		return ""
	}
	return s.name
}

// NodeName represents a name for a node.
type NodeName struct {
	name string
}

// NewNodeName creates a new NodeName from a string.
// Maximum length is defined by NodeNameMaxLength.
func NewNodeName(name string) (*NodeName, error) {
	if err := validateSemanticString(name, NodeNameMaxLength, false); err != nil {
		return nil, err
	}
	return &NodeName{name: name}, nil
}

// Close is a no-op; NodeName owns no external resource. Implements io.Closer.
func (n *NodeName) Close() error { return nil }

// String returns the string representation of the NodeName.
func (n *NodeName) String() string {
	if n == nil {
		return ""
	}
	return n.name
}
