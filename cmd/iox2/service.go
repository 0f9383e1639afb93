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

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/iox2go/iceoryx2/pkg/iceoryx2"
)

func newServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Inspect and exercise services",
	}
	cmd.AddCommand(
		newServiceListCommand(),
		newServiceDetailsCommand(),
		newServiceDiscoveryCommand(),
		newServiceNotifyCommand(),
		newServiceListenCommand(),
		newServicePublishCommand(),
		newServiceSubscribeCommand(),
	)
	return cmd
}

func newServiceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all services",
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := iceoryx2.CollectServices(serviceType())
			if err != nil {
				return err
			}
			for _, svc := range services {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-16s %s\n", svc.MessagingPattern, svc.ID, svc.Name)
			}
			return nil
		},
	}
}

func newServiceDetailsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "details <name>",
		Short: "Show the details of one service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serviceName, err := iceoryx2.NewServiceName(args[0])
			if err != nil {
				return err
			}
			defer serviceName.Close()

			for _, pattern := range []iceoryx2.MessagingPattern{
				iceoryx2.MessagingPatternPublishSubscribe,
				iceoryx2.MessagingPatternEvent,
				iceoryx2.MessagingPatternRequestResponse,
			} {
				info, err := iceoryx2.GetServiceDetails(serviceType(), serviceName, pattern)
				if err != nil {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "name:    %s\n", info.Name)
				fmt.Fprintf(cmd.OutOrStdout(), "id:      %s\n", info.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "pattern: %s\n", info.MessagingPattern)
				printPortSlots(cmd, info)
				return nil
			}
			return fmt.Errorf("service %q not found", args[0])
		},
	}
}

// printPortSlots renders the occupied dynamic-config slots of an
// in-process service as a bitmap, one bit per port slot.
func printPortSlots(cmd *cobra.Command, info *iceoryx2.ServiceInfo) {
	slots := iceoryx2.OccupiedPortSlots(serviceType(), info.Name)
	if slots == nil {
		return
	}
	bits := bitset.New(uint(slots.Capacity))
	for _, slot := range slots.Occupied {
		bits.Set(uint(slot))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ports:   %d/%d slots %s\n",
		bits.Count(), slots.Capacity, bits.String())
}

func newServiceDiscoveryCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "discovery",
		Short: "Continuously report services appearing and disappearing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			known := make(map[string]bool)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				services, err := iceoryx2.CollectServices(serviceType())
				if err != nil {
					return err
				}
				current := make(map[string]bool, len(services))
				for _, svc := range services {
					current[svc.Name] = true
					if !known[svc.Name] {
						fmt.Fprintf(cmd.OutOrStdout(), "+ %s (%s)\n", svc.Name, svc.MessagingPattern)
					}
				}
				for name := range known {
					if !current[name] {
						fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", name)
					}
				}
				known = current

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}

func newServiceNotifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "notify <name> <event-id>",
		Short: "Send one event notification",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", args[1], err)
			}
			node, service, err := openEventService(args[0])
			if err != nil {
				return err
			}
			defer node.Close()
			defer service.Close()

			notifier, err := service.NotifierBuilder().Create()
			if err != nil {
				return err
			}
			defer notifier.Close()

			notified, err := notifier.NotifyWithEventId(eventID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "notified %d listeners\n", notified)
			return nil
		},
	}
}

func newServiceListenCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "listen <name>",
		Short: "Print event notifications as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, service, err := openEventService(args[0])
			if err != nil {
				return err
			}
			defer node.Close()
			defer service.Close()

			listener, err := service.ListenerBuilder().Create()
			if err != nil {
				return err
			}
			defer listener.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			serveMetrics(node, metricsAddr)

			for event := range listener.EventChannel(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "event %d\n", uint64(event))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "expose Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func newServicePublishCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <name> <hex-payload>",
		Short: "Publish one raw payload to a publish-subscribe service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(args[1])
			if err != nil {
				return fmt.Errorf("payload must be hex encoded: %w", err)
			}
			node, service, err := openByteService(args[0])
			if err != nil {
				return err
			}
			defer node.Close()
			defer service.Close()

			publisher, err := service.PublisherBuilder().MaxSliceLen(uint64(len(payload))).Create()
			if err != nil {
				return err
			}
			defer publisher.Close()

			if err := publisher.Send(payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes\n", len(payload))
			return nil
		},
	}
}

func newServiceSubscribeCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "subscribe <name>",
		Short: "Print samples of a publish-subscribe service as hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, service, err := openByteService(args[0])
			if err != nil {
				return err
			}
			defer node.Close()
			defer service.Close()

			subscriber, err := service.SubscriberBuilder().Create()
			if err != nil {
				return err
			}
			defer subscriber.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			serveMetrics(node, metricsAddr)

			for sample := range subscriber.ReceiveChannel(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", hex.EncodeToString(sample.Payload()))
				sample.Close()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "expose Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func openEventService(name string) (*iceoryx2.Node, *iceoryx2.PortFactoryEvent, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	node, err := iceoryx2.NewNodeBuilder().Name("iox2-cli").Config(cfg).Create(serviceType())
	if err != nil {
		return nil, nil, err
	}
	serviceName, err := iceoryx2.NewServiceName(name)
	if err != nil {
		node.Close()
		return nil, nil, err
	}
	defer serviceName.Close()
	service, err := node.ServiceBuilder(serviceName).Event().OpenOrCreate()
	if err != nil {
		node.Close()
		return nil, nil, err
	}
	return node, service, nil
}

func openByteService(name string) (*iceoryx2.Node, *iceoryx2.PortFactoryPubSub, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	node, err := iceoryx2.NewNodeBuilder().Name("iox2-cli").Config(cfg).Create(serviceType())
	if err != nil {
		return nil, nil, err
	}
	serviceName, err := iceoryx2.NewServiceName(name)
	if err != nil {
		node.Close()
		return nil, nil, err
	}
	defer serviceName.Close()
	service, err := node.ServiceBuilder(serviceName).
		PublishSubscribe().
		PayloadSliceType("u8", 1, 1).
		OpenOrCreate()
	if err != nil {
		node.Close()
		return nil, nil, err
	}
	return node, service, nil
}

// serveMetrics exposes the node's Prometheus registry when an address was
// requested; long-running listen/subscribe sessions use it.
func serveMetrics(node *iceoryx2.Node, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(node.Metrics(), promhttp.HandlerOpts{}))
	go http.ListenAndServe(addr, mux)
}
