// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package net

import (
	"fmt"
	"sync"

	"github.com/dagrider/node/committee"
)

// Bus is a shared in-process switchboard: every Mem transport
// registered with it can reach every other by node ID. It is the
// in-memory stand-in for a real network, used by node/harness_test.go
// to drive a multi-node test without sockets — the same role
// rbroadcast/engine_test.go's meshNetwork plays at the engine level,
// generalized to run over a channel-based Inbox instead of calling
// HandleFrame synchronously.
type Bus struct {
	mu    sync.Mutex
	peers map[committee.NodeID]chan Envelope
}

// NewBus builds an empty switchboard.
func NewBus() *Bus {
	return &Bus{peers: make(map[committee.NodeID]chan Envelope)}
}

// Mem is a Transport backed by a shared Bus. Sends never block
// indefinitely: a peer whose inbox is full has the frame dropped,
// matching the resource policy's backpressure-at-the-producer stance
// without letting one slow peer stall every other send.
type Mem struct {
	self committee.NodeID
	bus  *Bus
	in   chan Envelope
}

// NewMem registers self on bus with the given inbox capacity and
// returns its Transport handle.
func NewMem(bus *Bus, self committee.NodeID, inboxCapacity int) *Mem {
	in := make(chan Envelope, inboxCapacity)
	bus.mu.Lock()
	bus.peers[self] = in
	bus.mu.Unlock()
	return &Mem{self: self, bus: bus, in: in}
}

func (m *Mem) Self() committee.NodeID { return m.self }

func (m *Mem) SendTo(to committee.NodeID, frame []byte) error {
	m.bus.mu.Lock()
	ch, ok := m.bus.peers[to]
	m.bus.mu.Unlock()
	if !ok {
		return fmt.Errorf("net: unknown peer %v", to)
	}
	select {
	case ch <- Envelope{From: m.self, Frame: frame}:
	default:
		// full inbox: drop rather than block the sender, matching the
		// resource policy's "producers block on full queues" stance at
		// the producer (the caller's own outbound path) rather than
		// here, where blocking would couple one slow peer to every
		// other node's send path.
	}
	return nil
}

func (m *Mem) Broadcast(frame []byte) error {
	m.bus.mu.Lock()
	targets := make([]committee.NodeID, 0, len(m.bus.peers))
	for id := range m.bus.peers {
		if id != m.self {
			targets = append(targets, id)
		}
	}
	m.bus.mu.Unlock()
	for _, id := range targets {
		if err := m.SendTo(id, frame); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mem) Inbox() <-chan Envelope { return m.in }

func (m *Mem) Close() error {
	m.bus.mu.Lock()
	delete(m.bus.peers, m.self)
	m.bus.mu.Unlock()
	close(m.in)
	return nil
}
