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
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"
	"unsafe"
)

func newTestNode(t *testing.T, serviceType ServiceType) *Node {
	t.Helper()
	node, err := NewNodeBuilder().Create(serviceType)
	if err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	t.Cleanup(func() { node.Close() })
	return node
}

func uniqueName(t *testing.T) *ServiceName {
	t.Helper()
	name, err := NewServiceName(fmt.Sprintf("behavior/%d/%d", time.Now().UnixNano(), rand.Int()))
	if err != nil {
		t.Fatalf("failed to create service name: %v", err)
	}
	return name
}

func TestPubSubSingleSampleRoundTrip(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		MaxSubscribers(1).
		SubscriberMaxBufferSize(1).
		EnableSafeOverflow(false).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	defer publisher.Close()
	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create subscriber: %v", err)
	}
	defer subscriber.Close()

	sample, err := publisher.LoanUninit()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	*PayloadMutAs[uint64](sample) = 0xDEADBEEF
	recipients, err := sample.SendWithRecipientCount()
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if recipients != 1 {
		t.Fatalf("expected 1 recipient, got %d", recipients)
	}

	received, err := subscriber.Receive()
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if got := *PayloadAs[uint64](received); got != 0xDEADBEEF {
		t.Fatalf("expected 0xDEADBEEF, got %#x", got)
	}
	received.Close()

	// The released chunk must be recyclable for the next loan/send.
	again, err := publisher.LoanUninit()
	if err != nil {
		t.Fatalf("loan after recycle failed: %v", err)
	}
	*PayloadMutAs[uint64](again) = 1
	if err := again.Send(); err != nil {
		t.Fatalf("send after recycle failed: %v", err)
	}
}

func TestPubSubSafeOverflowDropsOldest(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		SubscriberMaxBufferSize(2).
		EnableSafeOverflow(true).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	defer publisher.Close()
	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create subscriber: %v", err)
	}
	defer subscriber.Close()

	for _, v := range []uint64{1, 2, 3} {
		sample, err := publisher.LoanUninit()
		if err != nil {
			t.Fatalf("loan %d failed: %v", v, err)
		}
		*PayloadMutAs[uint64](sample) = v
		if err := sample.Send(); err != nil {
			t.Fatalf("send %d failed: %v", v, err)
		}
	}

	// The oldest value was displaced; the consumer sees 2, then 3.
	for _, want := range []uint64{2, 3} {
		received, err := subscriber.Receive()
		if err != nil {
			t.Fatalf("receive failed: %v", err)
		}
		if got := *PayloadAs[uint64](received); got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
		received.Close()
	}
}

func TestPubSubBorrowLimitEnforced(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		SubscriberMaxBufferSize(4).
		SubscriberMaxBorrowedSamples(2).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	defer publisher.Close()
	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create subscriber: %v", err)
	}
	defer subscriber.Close()

	for i := uint64(0); i < 4; i++ {
		sample, err := publisher.LoanUninit()
		if err != nil {
			t.Fatalf("loan %d failed: %v", i, err)
		}
		*PayloadMutAs[uint64](sample) = i
		if err := sample.Send(); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	first, err := subscriber.Receive()
	if err != nil {
		t.Fatalf("receive 1 failed: %v", err)
	}
	second, err := subscriber.Receive()
	if err != nil {
		t.Fatalf("receive 2 failed: %v", err)
	}
	defer second.Close()

	if _, err := subscriber.Receive(); !errors.Is(err, ReceiveErrorExceedsMaxBorrows) {
		t.Fatalf("expected ReceiveErrorExceedsMaxBorrows, got %v", err)
	}

	first.Close()
	third, err := subscriber.Receive()
	if err != nil {
		t.Fatalf("receive after release failed: %v", err)
	}
	third.Close()
}

func TestSubscriberCountBound(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		MaxSubscribers(2).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	a, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("subscriber 1 failed: %v", err)
	}
	defer a.Close()
	b, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("subscriber at limit must succeed: %v", err)
	}
	defer b.Close()

	if _, err := service.SubscriberBuilder().Create(); !errors.Is(err, SubscriberCreateErrorExceedsMaxSupportedSubscribers) {
		t.Fatalf("expected SubscriberCreateErrorExceedsMaxSupportedSubscribers, got %v", err)
	}
}

func TestPublisherHistoryDeliveredToLateJoiner(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		HistorySize(2).
		SubscriberMaxBufferSize(4).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	defer publisher.Close()

	for _, v := range []uint64{10, 20, 30} {
		sample, err := publisher.LoanUninit()
		if err != nil {
			t.Fatalf("loan failed: %v", err)
		}
		*PayloadMutAs[uint64](sample) = v
		if err := sample.Send(); err != nil {
			t.Fatalf("send failed: %v", err)
		}
	}

	// A late joiner sees the two retained samples, oldest first.
	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create subscriber: %v", err)
	}
	defer subscriber.Close()

	for _, want := range []uint64{20, 30} {
		received, err := subscriber.Receive()
		if err != nil {
			t.Fatalf("history receive failed: %v", err)
		}
		if got := *PayloadAs[uint64](received); got != want {
			t.Fatalf("expected history value %d, got %d", want, got)
		}
		received.Close()
	}
}

func TestEventIdBoundary(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		Event().
		EventIdMaxValue(7).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create event service: %v", err)
	}
	defer service.Close()

	notifier, err := service.NotifierBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}
	defer notifier.Close()
	listener, err := service.ListenerBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	if _, err := notifier.NotifyWithEventId(7); err != nil {
		t.Fatalf("event id at the maximum must succeed: %v", err)
	}
	if _, err := notifier.NotifyWithEventId(8); !errors.Is(err, NotifierNotifyErrorEventIdOutOfBounds) {
		t.Fatalf("expected NotifierNotifyErrorEventIdOutOfBounds, got %v", err)
	}

	// The rejected notification must not have touched the listener queue.
	id, err := listener.TryWaitOne()
	if err != nil || id == nil || uint64(*id) != 7 {
		t.Fatalf("expected only event 7 pending, got id=%v err=%v", id, err)
	}
	if id, _ := listener.TryWaitOne(); id != nil {
		t.Fatalf("queue must be empty after the rejected notify, got %v", *id)
	}
}

func TestRequestResponseEcho(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		RequestResponse().
		RequestPayloadType("u32", 4, 4).
		ResponsePayloadType("u32", 4, 4).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	client, err := service.Client().Create()
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()
	server, err := service.Server().Create()
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	defer server.Close()

	value := uint32(42)
	pending, err := SendCopyAs(client, &value)
	if err != nil {
		t.Fatalf("send request failed: %v", err)
	}

	request, err := server.Receive()
	if err != nil {
		t.Fatalf("server receive failed: %v", err)
	}
	if got := *ActiveRequestPayloadAs[uint32](request); got != 42 {
		t.Fatalf("expected request payload 42, got %d", got)
	}
	if !request.IsConnected() {
		t.Fatal("active request must be connected while the pending response lives")
	}

	doubled := *ActiveRequestPayloadAs[uint32](request) * 2
	if err := ActiveRequestSendCopyAs(request, &doubled); err != nil {
		t.Fatalf("send response failed: %v", err)
	}

	response, err := pending.Receive()
	if err != nil {
		t.Fatalf("pending receive failed: %v", err)
	}
	if got := *ResponsePayloadAs[uint32](response); got != 84 {
		t.Fatalf("expected response 84, got %d", got)
	}
	response.Close()

	// Dropping the pending response severs just this request flow.
	pending.Close()
	if request.IsConnected() {
		t.Fatal("active request must observe the severed pending response")
	}
	request.Close()
}

func TestRequestResponseActiveRequestLimit(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		RequestResponse().
		RequestPayloadType("u32", 4, 4).
		ResponsePayloadType("u32", 4, 4).
		MaxActiveRequestsPerClient(2).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	client, err := service.Client().Create()
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()
	server, err := service.Server().Create()
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	defer server.Close()

	value := uint32(1)
	first, err := SendCopyAs(client, &value)
	if err != nil {
		t.Fatalf("request 1 failed: %v", err)
	}
	defer first.Close()
	second, err := SendCopyAs(client, &value)
	if err != nil {
		t.Fatalf("request 2 failed: %v", err)
	}
	defer second.Close()

	if _, err := SendCopyAs(client, &value); !errors.Is(err, RequestSendErrorExceedsMaxActiveReqs) {
		t.Fatalf("expected RequestSendErrorExceedsMaxActiveReqs, got %v", err)
	}
}

func TestStaleNodePortsAreReapedOnDiscovery(t *testing.T) {
	// A node "dies" without closing its publisher; a subscriber created
	// afterwards must observe a clean service with only itself registered.
	deadNode := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := deadNode.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if _, err := service.PublisherBuilder().Create(); err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	if service.NumberOfPublishers() != 1 {
		t.Fatal("publisher must be registered before the simulated crash")
	}

	// Simulate the crash: the node is flagged dead in the process table
	// without unregistering anything.
	deadNode.dead = true

	liveNode := newTestNode(t, ServiceTypeLocal)
	liveService, err := liveNode.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("open from live node failed: %v", err)
	}
	defer liveService.Close()

	subscriber, err := liveService.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("subscriber creation after crash failed: %v", err)
	}
	defer subscriber.Close()

	if liveService.NumberOfPublishers() != 0 {
		t.Fatalf("dead publisher must be reaped, still %d registered", liveService.NumberOfPublishers())
	}
	if liveService.NumberOfSubscribers() != 1 {
		t.Fatalf("expected only the live subscriber, got %d", liveService.NumberOfSubscribers())
	}
}

func TestServiceCreateConflictsAndOpenCompatibility(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	first, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	defer first.Close()

	if _, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		Create(); !errors.Is(err, OpenOrCreateErrorAlreadyExists) {
		t.Fatalf("expected OpenOrCreateErrorAlreadyExists, got %v", err)
	}

	if _, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u32", 4, 4).
		Open(); !errors.Is(err, OpenOrCreateErrorIncompatibleTypes) {
		t.Fatalf("expected OpenOrCreateErrorIncompatibleTypes, got %v", err)
	}

	opened, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		Open()
	if err != nil {
		t.Fatalf("compatible open failed: %v", err)
	}
	opened.Close()
}

func TestServiceAttributesVerifiedAtOpen(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	spec, _ := NewAttributeSpecifier()
	spec.Define("domain", "vehicle")
	spec.Define("rate", "100hz")

	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		CreateWithAttributes(spec)
	if err != nil {
		t.Fatalf("create with attributes failed: %v", err)
	}
	defer service.Close()

	if got := service.Attributes().Get("domain"); len(got) != 1 || got[0] != "vehicle" {
		t.Fatalf("attribute set not stamped: %v", got)
	}

	good, _ := NewAttributeVerifier()
	good.Require("domain", "vehicle")
	good.RequireKey("rate")
	opened, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		OpenWithAttributes(good)
	if err != nil {
		t.Fatalf("open with satisfied requirements failed: %v", err)
	}
	opened.Close()

	bad, _ := NewAttributeVerifier()
	bad.Require("domain", "flight")
	if _, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		OpenWithAttributes(bad); !errors.Is(err, OpenOrCreateErrorIncompatibleAttributes) {
		t.Fatalf("expected OpenOrCreateErrorIncompatibleAttributes, got %v", err)
	}
}

func TestSliceLoanRespectsMaxSliceLen(t *testing.T) {
	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadSliceType("u8", 1, 1).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	publisher, err := service.PublisherBuilder().MaxSliceLen(16).Create()
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	defer publisher.Close()

	sample, err := publisher.LoanSliceUninit(16)
	if err != nil {
		t.Fatalf("loan at the limit must succeed: %v", err)
	}
	if got := len(sample.PayloadMut()); got != 16 {
		t.Fatalf("expected 16-byte payload, got %d", got)
	}
	sample.Close()

	if _, err := publisher.LoanSliceUninit(17); !errors.Is(err, LoanErrorExceedsMaxLoanSize) {
		t.Fatalf("expected LoanErrorExceedsMaxLoanSize, got %v", err)
	}
}

func TestUserHeaderRoundTrip(t *testing.T) {
	type header struct {
		Sequence uint32
		Source   uint32
	}

	node := newTestNode(t, ServiceTypeLocal)
	serviceName := uniqueName(t)

	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("u64", 8, 8).
		UserHeaderType("header", uint64(unsafe.Sizeof(header{})), uint64(unsafe.Alignof(header{}))).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	defer service.Close()

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	defer publisher.Close()
	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("failed to create subscriber: %v", err)
	}
	defer subscriber.Close()

	sample, err := publisher.LoanUninit()
	if err != nil {
		t.Fatalf("loan failed: %v", err)
	}
	*PayloadMutAs[uint64](sample) = 7
	hdr := UserHeaderMutAs[header](sample.UserHeader())
	hdr.Sequence = 9
	hdr.Source = 3
	if err := sample.Send(); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	received, err := subscriber.Receive()
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	defer received.Close()
	got := UserHeaderAs[header](received.UserHeader())
	if got.Sequence != 9 || got.Source != 3 {
		t.Fatalf("user header mismatch: %+v", *got)
	}
}
