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

package iceoryx2_test

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/iox2go/iceoryx2/pkg/iceoryx2"
)

// Temperature is a payload both sides of a service agree on.
type Temperature struct {
	SensorID int32
	Celsius  float64
}

func Example_publishSubscribe() {
	node, err := iceoryx2.NewNodeBuilder().Create(iceoryx2.ServiceTypeLocal)
	if err != nil {
		fmt.Println("node:", err)
		return
	}
	defer node.Close()

	serviceName, err := iceoryx2.NewServiceName("examples/temperature")
	if err != nil {
		fmt.Println("service name:", err)
		return
	}
	defer serviceName.Close()

	// Both ends run the same builder; whoever arrives first creates.
	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("Temperature",
			uint64(unsafe.Sizeof(Temperature{})),
			uint64(unsafe.Alignof(Temperature{}))).
		OpenOrCreate()
	if err != nil {
		fmt.Println("service:", err)
		return
	}
	defer service.Close()

	publisher, err := service.PublisherBuilder().Create()
	if err != nil {
		fmt.Println("publisher:", err)
		return
	}
	defer publisher.Close()

	subscriber, err := service.SubscriberBuilder().Create()
	if err != nil {
		fmt.Println("subscriber:", err)
		return
	}
	defer subscriber.Close()

	// The loan is a chunk of shared memory; writing the payload never
	// copies through a socket or pipe.
	sample, err := publisher.LoanUninit()
	if err != nil {
		fmt.Println("loan:", err)
		return
	}
	reading := Temperature{SensorID: 4, Celsius: 21.5}
	iceoryx2.WritePayloadAs(sample, &reading)
	if err := sample.Send(); err != nil {
		fmt.Println("send:", err)
		return
	}

	received, err := subscriber.Receive()
	if err != nil {
		fmt.Println("receive:", err)
		return
	}
	defer received.Close()

	got := iceoryx2.PayloadAs[Temperature](received)
	fmt.Printf("sensor %d reads %.1f°C\n", got.SensorID, got.Celsius)
	// Output: sensor 4 reads 21.5°C
}

func Example_eventNotification() {
	node, err := iceoryx2.NewNodeBuilder().Create(iceoryx2.ServiceTypeLocal)
	if err != nil {
		fmt.Println("node:", err)
		return
	}
	defer node.Close()

	serviceName, err := iceoryx2.NewServiceName("examples/shutdown-signal")
	if err != nil {
		fmt.Println("service name:", err)
		return
	}
	defer serviceName.Close()

	service, err := node.ServiceBuilder(serviceName).Event().OpenOrCreate()
	if err != nil {
		fmt.Println("service:", err)
		return
	}
	defer service.Close()

	notifier, err := service.NotifierBuilder().Create()
	if err != nil {
		fmt.Println("notifier:", err)
		return
	}
	defer notifier.Close()

	listener, err := service.ListenerBuilder().Create()
	if err != nil {
		fmt.Println("listener:", err)
		return
	}
	defer listener.Close()

	if _, err := notifier.NotifyWithEventId(123); err != nil {
		fmt.Println("notify:", err)
		return
	}

	// TryWaitOne never blocks; it drains whatever is already pending.
	eventId, err := listener.TryWaitOne()
	if err != nil || eventId == nil {
		fmt.Println("wait:", err)
		return
	}
	fmt.Printf("got event %d\n", uint64(*eventId))
	// Output: got event 123
}

func ExampleSubscriber_ReceiveWithContext() {
	node, _ := iceoryx2.NewNodeBuilder().Create(iceoryx2.ServiceTypeLocal)
	defer node.Close()

	serviceName, _ := iceoryx2.NewServiceName("examples/deadline")
	defer serviceName.Close()

	service, _ := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadType("int32", 4, 4).
		OpenOrCreate()
	defer service.Close()

	subscriber, _ := service.SubscriberBuilder().Create()
	defer subscriber.Close()

	// No publisher ever sends, so the bounded receive runs out of time.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := subscriber.ReceiveWithContext(ctx, 10*time.Millisecond); errors.Is(err, context.DeadlineExceeded) {
		fmt.Println("no data before the deadline")
	}
	// Output: no data before the deadline
}

func ExampleNewServiceName() {
	// Service names are path-like; segments are free-form UTF-8.
	serviceName, err := iceoryx2.NewServiceName("radar/front-left/objects")
	if err != nil {
		fmt.Println("rejected:", err)
		return
	}
	defer serviceName.Close()
	fmt.Println(serviceName.String())
	// Output: radar/front-left/objects
}

func ExampleNewServiceName_invalid() {
	if _, err := iceoryx2.NewServiceName(""); err != nil {
		fmt.Println("empty names are rejected")
	}
	// Output: empty names are rejected
}
