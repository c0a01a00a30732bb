// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/config"
	dlog "github.com/dagrider/node/log"
	"github.com/dagrider/node/node"
)

func runCmd() *cobra.Command {
	var (
		configPath string
		id         int
		keyPath    string
		logLevel   string
		logFile    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one committee member against a cluster config document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(configPath, committee.NodeID(id), keyPath, logLevel, logFile)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "cluster.yaml", "path to the cluster config document")
	cmd.Flags().IntVar(&id, "id", 0, "this node's committee seat (1-based)")
	cmd.Flags().StringVar(&keyPath, "key", "", "path to this node's hex-encoded Ed25519 private key")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFile, "log-file", "", "optional log file path (always also logs to stderr)")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("key")
	return cmd
}

func runNode(configPath string, id committee.NodeID, keyPath, logLevel, logFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sk, err := loadSigningKey(keyPath)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	log := dlog.New(dlog.Config{
		Component: fmt.Sprintf("dagrider[%d]", id),
		Level:     logLevel,
		FilePath:  logFile,
		Stderr:    true,
	})

	rt, err := node.New(cfg, id, sk, log)
	if err != nil {
		return fmt.Errorf("construct runtime: %w", err)
	}
	if err := rt.Start(); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutdown requested, draining")
	if err := rt.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadSigningKey reads a hex-encoded Ed25519 private key (64 bytes) from
// path. §9's design notes leave key distribution to deployment tooling;
// this reference CLI takes the simplest form a local cluster needs.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(buf)))
	if err != nil {
		return nil, fmt.Errorf("invalid hex encoding: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}
