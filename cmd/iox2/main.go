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

// Command iox2 is the operator tooling for iceoryx2 services: listing,
// inspecting, and exercising services from the shell.
package main

import (
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/iox2go/iceoryx2/pkg/iceoryx2"
)

var (
	flagConfigPath string
	flagLocal      bool
)

func serviceType() iceoryx2.ServiceType {
	if flagLocal {
		return iceoryx2.ServiceTypeLocal
	}
	return iceoryx2.ServiceTypeIpc
}

func loadConfig() (*iceoryx2.Config, error) {
	if flagConfigPath == "" {
		return iceoryx2.GlobalConfig(), nil
	}
	return iceoryx2.NewConfigFromFile(flagConfigPath)
}

func main() {
	iceoryx2.SetLogLevelFromEnvOr(iceoryx2.LogLevelWarn)

	root := &cobra.Command{
		Use:           "iox2",
		Short:         "iceoryx2 zero-copy IPC tooling",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to a TOML configuration file")
	root.PersistentFlags().BoolVar(&flagLocal, "local", false, "operate on process-local services instead of IPC")

	root.AddCommand(newServiceCommand())
	root.AddCommand(newNodeCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
