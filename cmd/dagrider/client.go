// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
)

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client <host:port>",
		Short: "Connect a transaction generator to a node's client endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(args[0])
		},
	}
	return cmd
}

// runClient reads one opaque transaction per line from stdin, sends
// each as a length-prefixed frame (§6: "TCP endpoint ... accepting
// length-prefixed opaque transactions"), and waits for the single-byte
// acknowledgment before sending the next line.
func runClient(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(os.Stdin)
	ack := make([]byte, 1)
	sent := 0
	for scanner.Scan() {
		tx := scanner.Bytes()
		if len(tx) == 0 {
			continue
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(tx)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("write length prefix: %w", err)
		}
		if _, err := conn.Write(tx); err != nil {
			return fmt.Errorf("write transaction: %w", err)
		}
		if _, err := conn.Read(ack); err != nil {
			return fmt.Errorf("read acknowledgment: %w", err)
		}
		sent++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	fmt.Fprintf(os.Stderr, "sent %d transactions\n", sent)
	return nil
}
