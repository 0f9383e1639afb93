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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// processNonce seeds every unique ID generated by this process so that two
// processes creating ports at the same logical counter value still produce
// distinct ids; it is read once at process start.
var processNonce = readProcessNonce()

func readProcessNonce() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(1)
	}
	return binary.BigEndian.Uint64(buf[:]) | 1
}

var portIDCounter atomic.Uint64

// nextPortID produces a process-wide unique, monotonically increasing id
// mixed with processNonce so ids are unique across processes as well.
func nextPortID() uint64 {
	return portIDCounter.Add(1) ^ processNonce
}

// UniquePublisherId is a system-wide unique identifier for a publisher.
type UniquePublisherId struct{ value uint64 }

func newUniquePublisherId() UniquePublisherId { return UniquePublisherId{value: nextPortID()} }

// Close is a no-op; UniquePublisherId owns no external resource.
func (id *UniquePublisherId) Close() error { return nil }

// Value returns the raw numeric value of the unique ID.
func (id *UniquePublisherId) Value() uint64 { return id.value }

// Equals checks if two UniquePublisherIds are equal.
func (id *UniquePublisherId) Equals(other *UniquePublisherId) bool { return id.value == other.value }

// Less checks if this ID is less than another (for ordering).
func (id *UniquePublisherId) Less(other *UniquePublisherId) bool { return id.value < other.value }

func (id UniquePublisherId) String() string { return fmt.Sprintf("UniquePublisherId(%d)", id.value) }

// UniqueSubscriberId is a system-wide unique identifier for a subscriber.
type UniqueSubscriberId struct{ value uint64 }

func newUniqueSubscriberId() UniqueSubscriberId { return UniqueSubscriberId{value: nextPortID()} }

// Close is a no-op; UniqueSubscriberId owns no external resource.
func (id *UniqueSubscriberId) Close() error { return nil }

// Value returns the raw numeric value of the unique ID.
func (id *UniqueSubscriberId) Value() uint64 { return id.value }

// Equals checks if two UniqueSubscriberIds are equal.
func (id *UniqueSubscriberId) Equals(other *UniqueSubscriberId) bool { return id.value == other.value }

// Less checks if this ID is less than another (for ordering).
func (id *UniqueSubscriberId) Less(other *UniqueSubscriberId) bool { return id.value < other.value }

func (id UniqueSubscriberId) String() string {
	return fmt.Sprintf("UniqueSubscriberId(%d)", id.value)
}

// UniqueListenerId is a system-wide unique identifier for a listener.
type UniqueListenerId struct{ value uint64 }

func newUniqueListenerId() UniqueListenerId { return UniqueListenerId{value: nextPortID()} }

// Close is a no-op; UniqueListenerId owns no external resource.
func (id *UniqueListenerId) Close() error { return nil }

// Value returns the raw numeric value of the unique ID.
func (id *UniqueListenerId) Value() uint64 { return id.value }

// Equals checks if two UniqueListenerIds are equal.
func (id *UniqueListenerId) Equals(other *UniqueListenerId) bool { return id.value == other.value }

// Less checks if this ID is less than another (for ordering).
func (id *UniqueListenerId) Less(other *UniqueListenerId) bool { return id.value < other.value }

func (id UniqueListenerId) String() string { return fmt.Sprintf("UniqueListenerId(%d)", id.value) }

// UniqueNotifierId is a system-wide unique identifier for a notifier.
type UniqueNotifierId struct{ value uint64 }

func newUniqueNotifierId() UniqueNotifierId { return UniqueNotifierId{value: nextPortID()} }

// Close is a no-op; UniqueNotifierId owns no external resource.
func (id *UniqueNotifierId) Close() error { return nil }

// Value returns the raw numeric value of the unique ID.
func (id *UniqueNotifierId) Value() uint64 { return id.value }

// Equals checks if two UniqueNotifierIds are equal.
func (id *UniqueNotifierId) Equals(other *UniqueNotifierId) bool { return id.value == other.value }

// Less checks if this ID is less than another (for ordering).
func (id *UniqueNotifierId) Less(other *UniqueNotifierId) bool { return id.value < other.value }

func (id UniqueNotifierId) String() string { return fmt.Sprintf("UniqueNotifierId(%d)", id.value) }

// UniqueClientId is a system-wide unique identifier for a client.
type UniqueClientId struct{ value uint64 }

func newUniqueClientId() UniqueClientId { return UniqueClientId{value: nextPortID()} }

// Close is a no-op; UniqueClientId owns no external resource.
func (id *UniqueClientId) Close() error { return nil }

// Value returns the raw numeric value of the unique ID.
func (id *UniqueClientId) Value() uint64 { return id.value }

// Equals checks if two UniqueClientIds are equal.
func (id *UniqueClientId) Equals(other *UniqueClientId) bool { return id.value == other.value }

// Less checks if this ID is less than another (for ordering).
func (id *UniqueClientId) Less(other *UniqueClientId) bool { return id.value < other.value }

func (id UniqueClientId) String() string { return fmt.Sprintf("UniqueClientId(%d)", id.value) }

// UniqueServerId is a system-wide unique identifier for a server.
type UniqueServerId struct{ value uint64 }

func newUniqueServerId() UniqueServerId { return UniqueServerId{value: nextPortID()} }

// Close is a no-op; UniqueServerId owns no external resource.
func (id *UniqueServerId) Close() error { return nil }

// Value returns the raw numeric value of the unique ID.
func (id *UniqueServerId) Value() uint64 { return id.value }

// Equals checks if two UniqueServerIds are equal.
func (id *UniqueServerId) Equals(other *UniqueServerId) bool { return id.value == other.value }

// Less checks if this ID is less than another (for ordering).
func (id *UniqueServerId) Less(other *UniqueServerId) bool { return id.value < other.value }

func (id UniqueServerId) String() string { return fmt.Sprintf("UniqueServerId(%d)", id.value) }
