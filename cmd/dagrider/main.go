// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command dagrider is the node and client CLI for the module (§6): `run
// --id <i>` starts committee seat i against a cluster config document,
// `client <host:port>` connects a transaction generator.
//
// A thin root command adding subcommands, each a cobra.Command with a
// RunE returning the process's final error.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dagrider",
	Short: "DAG Rider BFT state-machine-replication node and client",
}

func init() {
	rootCmd.AddCommand(runCmd(), clientCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dagrider: %v\n", err)
		os.Exit(1)
	}
}
