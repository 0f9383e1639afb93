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
	"github.com/iox2go/iceoryx2/internal/registry"
)

// maxSupportedAttributes bounds the number of attributes one service can
// carry.
const maxSupportedAttributes = 64

// Attribute represents a key-value pair for service metadata.
type Attribute struct {
	Key   string
	Value string
}

// AttributeSet is an immutable collection of attributes associated with a service.
// A key may appear multiple times with different values.
type AttributeSet struct {
	attrs []Attribute
}

// Len returns the number of attributes in the set.
func (a *AttributeSet) Len() uint64 {
	if a == nil {
		return 0
	}
	return uint64(len(a.attrs))
}

// Get returns every value defined for key, in definition order.
func (a *AttributeSet) Get(key string) []string {
	if a == nil {
		return nil
	}
	var values []string
	for _, attr := range a.attrs {
		if attr.Key == key {
			values = append(values, attr.Value)
		}
	}
	return values
}

// At returns the attribute at index, or nil if index is out of range.
func (a *AttributeSet) At(index uint64) *Attribute {
	if a == nil || index >= uint64(len(a.attrs)) {
		return nil
	}
	attr := a.attrs[index]
	return &attr
}

// All returns a copy of every attribute in the set.
func (a *AttributeSet) All() []Attribute {
	if a == nil {
		return nil
	}
	out := make([]Attribute, len(a.attrs))
	copy(out, a.attrs)
	return out
}

func (a *AttributeSet) toRegistry() []registry.Attribute {
	if a == nil {
		return nil
	}
	out := make([]registry.Attribute, len(a.attrs))
	for i, attr := range a.attrs {
		out[i] = registry.Attribute{Key: attr.Key, Value: attr.Value}
	}
	return out
}

func attributeSetFromRegistry(attrs []registry.Attribute) *AttributeSet {
	set := &AttributeSet{}
	for _, a := range attrs {
		set.attrs = append(set.attrs, Attribute{Key: a.Key, Value: a.Value})
	}
	return set
}

// AttributeSpecifier collects the attributes a creator stamps onto a new
// service. They become part of the service's immutable static config.
type AttributeSpecifier struct {
	set    AttributeSet
	closed bool
}

// NewAttributeSpecifier creates an empty attribute specifier.
func NewAttributeSpecifier() (*AttributeSpecifier, error) {
	return &AttributeSpecifier{}, nil
}

// Close releases the resources associated with the AttributeSpecifier.
func (a *AttributeSpecifier) Close() error {
	a.closed = true
	return nil
}

// Define adds a key-value attribute. The same key may be defined multiple
// times.
func (a *AttributeSpecifier) Define(key, value string) error {
	if a.closed {
		return ErrHandleClosed
	}
	if len(a.set.attrs) >= maxSupportedAttributes {
		return AttributeDefinitionErrorExceedsMaxSupportedAttributes
	}
	a.set.attrs = append(a.set.attrs, Attribute{Key: key, Value: value})
	return nil
}

// AttributeVerifier collects the requirements an opener imposes on an
// existing service's attributes.
type AttributeVerifier struct {
	inner  registry.Verifier
	closed bool
}

// NewAttributeVerifier creates an empty attribute verifier.
func NewAttributeVerifier() (*AttributeVerifier, error) {
	return &AttributeVerifier{}, nil
}

// Close releases the resources associated with the AttributeVerifier.
func (a *AttributeVerifier) Close() error {
	a.closed = true
	return nil
}

// Require demands that the service carries exactly the (key, value) pair.
func (a *AttributeVerifier) Require(key, value string) error {
	if a.closed {
		return ErrHandleClosed
	}
	a.inner.Require(key, value)
	return nil
}

// RequireKey demands that the service carries key with any value.
func (a *AttributeVerifier) RequireKey(key string) error {
	if a.closed {
		return ErrHandleClosed
	}
	a.inner.RequireKey(key)
	return nil
}

// verify checks the requirements against a service's attribute set.
func (a *AttributeVerifier) verify(set *AttributeSet) error {
	if a == nil {
		return nil
	}
	if _, err := a.inner.VerifyRequirements(set.toRegistry()); err != nil {
		return OpenOrCreateErrorIncompatibleAttributes
	}
	return nil
}
