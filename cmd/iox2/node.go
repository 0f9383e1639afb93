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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iox2go/iceoryx2/pkg/iceoryx2"
)

func newNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect and clean up nodes",
	}
	cmd.AddCommand(newNodeListCommand(), newNodeCleanupCommand())
	return cmd
}

func newNodeListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all observable nodes and their liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			nodes, err := iceoryx2.ListNodes(serviceType(), cfg)
			if err != nil {
				return err
			}
			for _, info := range nodes {
				name := info.Name
				if name == "" {
					name = "<unnamed>"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %016x %s\n", info.State, info.ID.Value(), name)
			}
			return nil
		},
	}
}

func newNodeCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the stale resources of every dead node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			nodes, err := iceoryx2.ListNodes(serviceType(), cfg)
			if err != nil {
				return err
			}
			removed := 0
			for _, info := range nodes {
				if info.State != iceoryx2.NodeStateDead {
					continue
				}
				ok, err := iceoryx2.RemoveStaleResources(serviceType(), info.ID, cfg)
				if err != nil {
					return err
				}
				if ok {
					removed++
					fmt.Fprintf(cmd.OutOrStdout(), "removed node %016x\n", info.ID.Value())
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale nodes removed\n", removed)
			return nil
		},
	}
}
