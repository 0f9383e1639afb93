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
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"
)

type testTick struct {
	Value int32
}

var serviceNameCounter atomic.Uint64

// forEachServiceType runs fn once per communication scope, as a subtest.
func forEachServiceType(t *testing.T, fn func(t *testing.T, serviceType ServiceType)) {
	t.Helper()
	for _, serviceType := range []ServiceType{ServiceTypeIpc, ServiceTypeLocal} {
		t.Run(serviceType.String(), func(t *testing.T) {
			fn(t, serviceType)
		})
	}
}

// freshNode creates a node that is torn down with the test.
func freshNode(t *testing.T, serviceType ServiceType) *Node {
	t.Helper()
	node, err := NewNodeBuilder().Create(serviceType)
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	t.Cleanup(func() { node.Close() })
	return node
}

// freshServiceName returns a name no other test in this run can collide
// with, even across the IPC namespace shared by parallel packages.
func freshServiceName(t *testing.T) *ServiceName {
	t.Helper()
	name, err := NewServiceName(fmt.Sprintf("iox2test/%d/%d", time.Now().UnixNano(), serviceNameCounter.Add(1)))
	if err != nil {
		t.Fatalf("create service name: %v", err)
	}
	t.Cleanup(func() { name.Close() })
	return name
}

// freshTickService opens a publish-subscribe service carrying testTick.
func freshTickService(t *testing.T, node *Node) *PortFactoryPubSub {
	t.Helper()
	service, err := node.ServiceBuilder(freshServiceName(t)).
		PublishSubscribe().
		PayloadType("testTick", uint64(unsafe.Sizeof(testTick{})), uint64(unsafe.Alignof(testTick{}))).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("open tick service: %v", err)
	}
	t.Cleanup(func() { service.Close() })
	return service
}

// freshEventService opens an event service with default limits.
func freshEventService(t *testing.T, node *Node) *PortFactoryEvent {
	t.Helper()
	service, err := node.ServiceBuilder(freshServiceName(t)).
		Event().
		OpenOrCreate()
	if err != nil {
		t.Fatalf("open event service: %v", err)
	}
	t.Cleanup(func() { service.Close() })
	return service
}

func TestNodeBuilderCreatesNamedAndUnnamedNodes(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		unnamed := freshNode(t, serviceType)
		if unnamed.Name() != "" {
			t.Errorf("unnamed node reports %q", unnamed.Name())
		}

		named, err := NewNodeBuilder().Name("sensor-fusion").Create(serviceType)
		if err != nil {
			t.Fatalf("create named node: %v", err)
		}
		defer named.Close()
		if named.Name() != "sensor-fusion" {
			t.Errorf("expected name sensor-fusion, got %q", named.Name())
		}
		if named.ServiceType() != serviceType {
			t.Errorf("service type not retained: %v", named.ServiceType())
		}
	})
}

func TestNodeBuilderIsSingleUse(t *testing.T) {
	builder := NewNodeBuilder()
	node, err := builder.Create(ServiceTypeLocal)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	defer node.Close()

	if _, err := builder.Create(ServiceTypeLocal); !errors.Is(err, ErrNodeBuilderConsumed) {
		t.Fatalf("expected ErrNodeBuilderConsumed, got %v", err)
	}
}

func TestNodeIDCarriesProcessPid(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		node := freshNode(t, serviceType)
		id := node.ID()
		if id == nil {
			t.Fatal("node id is nil")
		}
		defer id.Close()
		if id.Pid() == 0 {
			t.Error("node id must record the owning pid")
		}
		if id.Value() == 0 {
			t.Error("node id value must be non-zero")
		}
	})
}

func TestNodeWaitReturnsAfterDuration(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	start := time.Now()
	if err := node.Wait(50 * time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("wait returned after %v", elapsed)
	}
}

func TestNodeConfigExposesNamespace(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	cfg := node.Config()
	if cfg == nil {
		t.Fatal("node config is nil")
	}
	if cfg.RootPath() == "" || cfg.Prefix() == "" {
		t.Errorf("namespace defaults missing: root=%q prefix=%q", cfg.RootPath(), cfg.Prefix())
	}
}

func TestNodeListingShowsAliveNode(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		nodeName := fmt.Sprintf("listing-%d", serviceNameCounter.Add(1))
		node, err := NewNodeBuilder().Name(nodeName).Create(serviceType)
		if err != nil {
			t.Fatalf("create node: %v", err)
		}
		defer node.Close()

		nodes, err := ListNodes(serviceType, node.Config())
		if err != nil {
			t.Fatalf("list nodes: %v", err)
		}
		for _, info := range nodes {
			if info.Name == nodeName {
				if info.State != NodeStateAlive {
					t.Errorf("expected Alive, got %v", info.State)
				}
				return
			}
		}
		t.Errorf("node %q missing from listing of %d nodes", nodeName, len(nodes))
	})
}

func TestNodeListingCallbackCanStopEarly(t *testing.T) {
	a := freshNode(t, ServiceTypeLocal)
	b := freshNode(t, ServiceTypeLocal)
	_, _ = a, b

	visited := 0
	err := ListNodesWithCallback(ServiceTypeLocal, a.Config(), func(NodeState, *NodeId, string) CallbackProgression {
		visited++
		return CallbackProgressionStop
	})
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if visited != 1 {
		t.Errorf("stop after first entry, visited %d", visited)
	}
}

func TestServiceNameAllowsPathLikeNames(t *testing.T) {
	for _, raw := range []string{"My/Funk/ServiceName", "plain", "deep/ly/nest/ed/name"} {
		name, err := NewServiceName(raw)
		if err != nil {
			t.Fatalf("NewServiceName(%q): %v", raw, err)
		}
		if name.String() != raw {
			t.Errorf("round trip of %q yielded %q", raw, name.String())
		}
		name.Close()
	}
}

func TestServiceNameRejectsInvalidContent(t *testing.T) {
	if _, err := NewServiceName(""); !errors.Is(err, SemanticStringErrorInvalidContent) {
		t.Errorf("empty name: got %v", err)
	}
	if _, err := NewServiceName("ctrl\x01char"); !errors.Is(err, SemanticStringErrorInvalidContent) {
		t.Errorf("control character: got %v", err)
	}
	oversized := strings.Repeat("x", ServiceNameMaxLength+1)
	if _, err := NewServiceName(oversized); !errors.Is(err, SemanticStringErrorExceedsMaximumLength) {
		t.Errorf("oversized name: got %v", err)
	}
}

func TestNodeNameRejectsPathSeparator(t *testing.T) {
	if _, err := NewNodeName("not/a/path"); !errors.Is(err, SemanticStringErrorInvalidContent) {
		t.Errorf("node names must reject '/', got %v", err)
	}
	name, err := NewNodeName("worker-3")
	if err != nil {
		t.Fatalf("plain node name: %v", err)
	}
	name.Close()
}

func TestPublishSubscribeDeliversTypedPayloads(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		node := freshNode(t, serviceType)
		service := freshTickService(t, node)

		publisher, err := service.PublisherBuilder().Create()
		if err != nil {
			t.Fatalf("create publisher: %v", err)
		}
		defer publisher.Close()
		subscriber, err := service.SubscriberBuilder().Create()
		if err != nil {
			t.Fatalf("create subscriber: %v", err)
		}
		defer subscriber.Close()

		// One sample at a time keeps the delivery ring from filling.
		for i := int32(0); i < 3; i++ {
			sample, err := publisher.LoanUninit()
			if err != nil {
				t.Fatalf("loan %d: %v", i, err)
			}
			PayloadMutAs[testTick](sample).Value = 42 + i
			if err := sample.Send(); err != nil {
				t.Fatalf("send %d: %v", i, err)
			}

			received, err := subscriber.Receive()
			if err != nil {
				t.Fatalf("receive %d: %v", i, err)
			}
			if got := PayloadAs[testTick](received).Value; got != 42+i {
				t.Errorf("sample %d: expected %d, got %d", i, 42+i, got)
			}
			received.Close()
		}
	})
}

func TestPubSubPortIdsAreDistinct(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		node := freshNode(t, serviceType)
		service := freshTickService(t, node)

		publisher, err := service.PublisherBuilder().Create()
		if err != nil {
			t.Fatalf("create publisher: %v", err)
		}
		defer publisher.Close()
		subscriber, err := service.SubscriberBuilder().Create()
		if err != nil {
			t.Fatalf("create subscriber: %v", err)
		}
		defer subscriber.Close()

		pubID, err := publisher.ID()
		if err != nil {
			t.Fatalf("publisher id: %v", err)
		}
		defer pubID.Close()
		subID, err := subscriber.ID()
		if err != nil {
			t.Fatalf("subscriber id: %v", err)
		}
		defer subID.Close()

		if pubID.Value() == subID.Value() {
			t.Error("publisher and subscriber must carry distinct port ids")
		}
	})
}

func TestPubSubFactoryReportsConfigAndCounts(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)

	service, err := node.ServiceBuilder(freshServiceName(t)).
		PublishSubscribe().
		PayloadType("testTick", uint64(unsafe.Sizeof(testTick{})), uint64(unsafe.Alignof(testTick{}))).
		MaxPublishers(3).
		MaxSubscribers(5).
		SubscriberMaxBufferSize(6).
		EnableSafeOverflow(true).
		OpenOrCreate()
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	defer service.Close()

	static := service.StaticConfig()
	if static.MaxPublishers != 3 || static.MaxSubscribers != 5 {
		t.Errorf("static config limits wrong: %+v", static)
	}
	if static.SubscriberMaxBufferSize != 6 || !static.EnableSafeOverflow {
		t.Errorf("static config buffering wrong: %+v", static)
	}
	if static.MessageTypeDetails.PayloadTypeName != "testTick" {
		t.Errorf("payload type not recorded: %+v", static.MessageTypeDetails)
	}
	if service.ServiceID() == "" {
		t.Error("service id must be derived at creation")
	}

	if n := service.NumberOfPublishers(); n != 0 {
		t.Errorf("expected 0 publishers, got %d", n)
	}
	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	defer publisher.Close()
	if n := service.NumberOfPublishers(); n != 1 {
		t.Errorf("expected 1 publisher, got %d", n)
	}
}

func TestNotifyReachesListener(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		node := freshNode(t, serviceType)
		service := freshEventService(t, node)

		notifier, err := service.NotifierBuilder().Create()
		if err != nil {
			t.Fatalf("create notifier: %v", err)
		}
		defer notifier.Close()
		listener, err := service.ListenerBuilder().Create()
		if err != nil {
			t.Fatalf("create listener: %v", err)
		}
		defer listener.Close()

		notified, err := notifier.NotifyWithEventId(42)
		if err != nil {
			t.Fatalf("notify: %v", err)
		}
		if notified != 1 {
			t.Errorf("expected 1 notified listener, got %d", notified)
		}

		got, err := listener.TryWaitOne()
		if err != nil {
			t.Fatalf("try wait: %v", err)
		}
		if got == nil || uint64(*got) != 42 {
			t.Errorf("expected event 42, got %v", got)
		}
	})
}

func TestNotifierUsesConfiguredDefaultEventId(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshEventService(t, node)

	notifier, err := service.NotifierBuilder().DefaultEventId(9).Create()
	if err != nil {
		t.Fatalf("create notifier: %v", err)
	}
	defer notifier.Close()
	listener, err := service.ListenerBuilder().Create()
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	defer listener.Close()

	if _, err := notifier.Notify(); err != nil {
		t.Fatalf("notify: %v", err)
	}
	got, err := listener.TryWaitOne()
	if err != nil || got == nil {
		t.Fatalf("try wait: id=%v err=%v", got, err)
	}
	if uint64(*got) != 9 {
		t.Errorf("expected default event id 9, got %d", uint64(*got))
	}
}

func TestEventPortIdsAreValid(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		node := freshNode(t, serviceType)
		service := freshEventService(t, node)

		notifier, err := service.NotifierBuilder().Create()
		if err != nil {
			t.Fatalf("create notifier: %v", err)
		}
		defer notifier.Close()
		listener, err := service.ListenerBuilder().Create()
		if err != nil {
			t.Fatalf("create listener: %v", err)
		}
		defer listener.Close()

		nID, err := notifier.ID()
		if err != nil || nID == nil {
			t.Fatalf("notifier id: %v", err)
		}
		nID.Close()
		lID, err := listener.ID()
		if err != nil || lID == nil {
			t.Fatalf("listener id: %v", err)
		}
		lID.Close()
	})
}

func TestListenerDrainsAllPendingEvents(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshEventService(t, node)

	notifier, err := service.NotifierBuilder().Create()
	if err != nil {
		t.Fatalf("create notifier: %v", err)
	}
	defer notifier.Close()
	listener, err := service.ListenerBuilder().Create()
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	defer listener.Close()

	for _, id := range []uint64{1, 2, 3} {
		if _, err := notifier.NotifyWithEventId(id); err != nil {
			t.Fatalf("notify %d: %v", id, err)
		}
	}
	events, err := listener.TryWaitAll()
	if err != nil {
		t.Fatalf("try wait all: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %v", events)
	}
	for i, want := range []uint64{1, 2, 3} {
		if uint64(events[i]) != want {
			t.Errorf("event %d: expected %d, got %d", i, want, uint64(events[i]))
		}
	}
}

func TestWaitSetRequiresAttachments(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		waitset, err := NewWaitSetBuilder().Create(serviceType)
		if err != nil {
			t.Fatalf("create waitset: %v", err)
		}
		defer waitset.Close()

		if !waitset.IsEmpty() {
			t.Error("fresh waitset must be empty")
		}
		if _, err := waitset.WaitAndProcessOnceWithTimeout(10 * time.Millisecond); !errors.Is(err, WaitSetRunErrorNoAttachments) {
			t.Errorf("expected WaitSetRunErrorNoAttachments, got %v", err)
		}
	})
}

func TestWaitSetCallbackSeesTriggeringGuard(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshEventService(t, node)

	notifier, err := service.NotifierBuilder().Create()
	if err != nil {
		t.Fatalf("create notifier: %v", err)
	}
	defer notifier.Close()
	listener, err := service.ListenerBuilder().Create()
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	defer listener.Close()

	waitset, err := NewWaitSetBuilder().Create(ServiceTypeLocal)
	if err != nil {
		t.Fatalf("create waitset: %v", err)
	}
	defer waitset.Close()
	guard, err := waitset.AttachNotification(listener)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer guard.Close()
	if waitset.NumberOfAttachments() != 1 {
		t.Fatalf("expected 1 attachment, got %d", waitset.NumberOfAttachments())
	}

	if _, err := notifier.Notify(); err != nil {
		t.Fatalf("notify: %v", err)
	}

	var sawGuard bool
	result, err := waitset.WaitAndProcessOnceWithCallback(func(id *WaitSetAttachmentId) CallbackProgression {
		if id.HasEventFrom(guard) {
			sawGuard = true
		}
		return CallbackProgressionContinue
	})
	if err != nil {
		t.Fatalf("wait and process: %v", err)
	}
	if result != WaitSetRunResultAllEventsHandled {
		t.Errorf("expected AllEventsHandled, got %v", result)
	}
	if !sawGuard {
		t.Error("callback never observed the triggering guard")
	}
}

func TestWaitSetStopRequestEndsProcessing(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshEventService(t, node)

	notifier, err := service.NotifierBuilder().Create()
	if err != nil {
		t.Fatalf("create notifier: %v", err)
	}
	defer notifier.Close()
	listener, err := service.ListenerBuilder().Create()
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	defer listener.Close()

	waitset, err := NewWaitSetBuilder().Create(ServiceTypeLocal)
	if err != nil {
		t.Fatalf("create waitset: %v", err)
	}
	defer waitset.Close()
	guard, err := waitset.AttachNotification(listener)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer guard.Close()

	if _, err := notifier.Notify(); err != nil {
		t.Fatalf("notify: %v", err)
	}

	calls := 0
	result, err := waitset.WaitAndProcessOnceWithCallback(func(*WaitSetAttachmentId) CallbackProgression {
		calls++
		return CallbackProgressionStop
	})
	if err != nil {
		t.Fatalf("wait and process: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one callback, got %d", calls)
	}
	if result != WaitSetRunResultStopRequest {
		t.Errorf("expected StopRequest, got %v", result)
	}
}

func TestWaitSetHonorsContextDeadline(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshEventService(t, node)

	listener, err := service.ListenerBuilder().Create()
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	defer listener.Close()

	waitset, err := NewWaitSetBuilder().Create(ServiceTypeLocal)
	if err != nil {
		t.Fatalf("create waitset: %v", err)
	}
	defer waitset.Close()
	guard, err := waitset.AttachNotification(listener)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer guard.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := waitset.WaitAndProcessOnceWithContext(ctx, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := waitset.RunWithContext(ctx2, func(*WaitSetAttachmentId) CallbackProgression {
		return CallbackProgressionContinue
	}, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("run: expected context.DeadlineExceeded, got %v", err)
	}
}

func TestListServicesFindsOpenService(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		node := freshNode(t, serviceType)
		serviceName := freshServiceName(t)

		service, err := node.ServiceBuilder(serviceName).
			PublishSubscribe().
			PayloadType("testTick", uint64(unsafe.Sizeof(testTick{})), uint64(unsafe.Alignof(testTick{}))).
			OpenOrCreate()
		if err != nil {
			t.Fatalf("open service: %v", err)
		}
		defer service.Close()

		var found bool
		err = ListServices(serviceType, func(info *ServiceInfo) CallbackProgression {
			if info.Name == serviceName.String() {
				found = true
				return CallbackProgressionStop
			}
			return CallbackProgressionContinue
		})
		if err != nil {
			t.Fatalf("list services: %v", err)
		}
		if !found {
			t.Errorf("service %q not discovered", serviceName.String())
		}
	})
}

func TestCollectServicesReportsPattern(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		node := freshNode(t, serviceType)
		serviceName := freshServiceName(t)

		service, err := node.ServiceBuilder(serviceName).
			Event().
			OpenOrCreate()
		if err != nil {
			t.Fatalf("open service: %v", err)
		}
		defer service.Close()

		services, err := CollectServices(serviceType)
		if err != nil {
			t.Fatalf("collect services: %v", err)
		}
		for _, info := range services {
			if info.Name == serviceName.String() {
				if info.MessagingPattern != MessagingPatternEvent {
					t.Errorf("expected Event pattern, got %v", info.MessagingPattern)
				}
				if info.ID == "" {
					t.Error("discovered service must carry its id")
				}
				return
			}
		}
		t.Errorf("service %q missing from %d collected services", serviceName.String(), len(services))
	})
}

func TestServiceExistsMatchesPattern(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	serviceName := freshServiceName(t)

	service, err := node.ServiceBuilder(serviceName).Event().OpenOrCreate()
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	defer service.Close()

	exists, err := ServiceExists(ServiceTypeLocal, serviceName, MessagingPatternEvent)
	if err != nil || !exists {
		t.Fatalf("event service must exist: exists=%v err=%v", exists, err)
	}
	exists, err = ServiceExists(ServiceTypeLocal, serviceName, MessagingPatternPublishSubscribe)
	if err != nil || exists {
		t.Fatalf("same name under a different pattern must not exist: exists=%v err=%v", exists, err)
	}
}

func TestReceiveWithContextTimesOutWithoutData(t *testing.T) {
	forEachServiceType(t, func(t *testing.T, serviceType ServiceType) {
		node := freshNode(t, serviceType)
		service := freshTickService(t, node)

		subscriber, err := service.SubscriberBuilder().Create()
		if err != nil {
			t.Fatalf("create subscriber: %v", err)
		}
		defer subscriber.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := subscriber.ReceiveWithContext(ctx, 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected context.DeadlineExceeded, got %v", err)
		}
	})
}

func TestReceiveWithContextReturnsPendingData(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshTickService(t, node)

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	defer publisher.Close()
	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}
	defer subscriber.Close()

	sample, err := publisher.LoanUninit()
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	PayloadMutAs[testTick](sample).Value = 99
	if err := sample.Send(); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	received, err := subscriber.ReceiveWithContext(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	defer received.Close()
	if got := PayloadAs[testTick](received).Value; got != 99 {
		t.Errorf("expected 99, got %d", got)
	}
}

func TestSubscriberReceiveChannelYieldsSamples(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshTickService(t, node)

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	defer publisher.Close()
	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}
	defer subscriber.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	samples := subscriber.ReceiveChannel(ctx)

	sample, err := publisher.LoanUninit()
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	PayloadMutAs[testTick](sample).Value = 123
	if err := sample.Send(); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case received, ok := <-samples:
		if !ok {
			t.Fatal("sample channel closed early")
		}
		defer received.Close()
		if got := PayloadAs[testTick](received).Value; got != 123 {
			t.Errorf("expected 123, got %d", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for sample")
	}
}

func TestListenerEventChannelYieldsEvents(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshEventService(t, node)

	notifier, err := service.NotifierBuilder().Create()
	if err != nil {
		t.Fatalf("create notifier: %v", err)
	}
	defer notifier.Close()
	listener, err := service.ListenerBuilder().Create()
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events := listener.EventChannel(ctx)

	if _, err := notifier.NotifyWithEventId(42); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case event, ok := <-events:
		if !ok {
			t.Fatal("event channel closed early")
		}
		if uint64(event) != 42 {
			t.Errorf("expected event 42, got %d", uint64(event))
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestSentinelErrorsDistinguishHandles(t *testing.T) {
	if !errors.Is(ErrNodeClosed, ErrNodeClosed) {
		t.Error("sentinel must match itself")
	}
	if errors.Is(ErrNodeClosed, ErrPublisherClosed) {
		t.Error("distinct sentinels must not match")
	}
	if errors.Is(ErrSampleClosed, ErrSubscriberClosed) {
		t.Error("distinct sentinels must not match")
	}
}

func TestErrorEnumsCarryMessages(t *testing.T) {
	for _, err := range []error{
		NodeCreationErrorInternalError,
		OpenOrCreateErrorAlreadyExists,
		NotifierNotifyErrorEventIdOutOfBounds,
		ReceiveErrorExceedsMaxBorrows,
		SemanticStringErrorExceedsMaximumLength,
	} {
		if err.Error() == "" {
			t.Errorf("%T must render a message", err)
		}
	}
}

func TestClosedHandlesRejectOperations(t *testing.T) {
	node := freshNode(t, ServiceTypeLocal)
	service := freshTickService(t, node)

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}

	publisher.Close()
	if _, err := publisher.LoanUninit(); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("loan after close: got %v", err)
	}
	if err := publisher.Close(); err != nil {
		t.Errorf("second close must be a no-op, got %v", err)
	}

	subscriber.Close()
	if _, err := subscriber.Receive(); !errors.Is(err, ErrSubscriberClosed) {
		t.Errorf("receive after close: got %v", err)
	}
}
