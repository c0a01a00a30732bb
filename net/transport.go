// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package net is the external transport collaborator §1 calls out as
// out of scope for the consensus core's own internals: it moves the
// wire frames types.EncodeFrame produces between committee members.
// Two implementations satisfy Transport: Mem (an in-memory bus for
// deterministic tests, in the spirit of a fake network sender) and TCP
// (a length-prefixed stream transport whose frames are always
// AEAD-sealed).
package net

import "github.com/dagrider/node/committee"

// Envelope is one inbound, still-framed message together with the peer
// that sent it. The consuming task splits it into (tag, body) and hands
// it to rbroadcast.Engine.HandleFrame.
type Envelope struct {
	From  committee.NodeID
	Frame []byte
}

// Transport is the outbound-plus-inbound half of the networking
// collaborator. Its SendTo/Broadcast method set is exactly
// rbroadcast.Network's, so any Transport can be passed directly as a
// reliable-broadcast engine's Network dependency.
type Transport interface {
	// Self returns this node's own ID.
	Self() committee.NodeID
	// SendTo delivers frame to exactly one peer. A peer this transport
	// cannot currently reach should queue or drop rather than block
	// indefinitely. Nothing above the transport retransmits a dropped
	// PROPOSE, VOTE or CERT frame.
	SendTo(to committee.NodeID, frame []byte) error
	// Broadcast delivers frame to every other committee member.
	Broadcast(frame []byte) error
	// Inbox is the channel of frames received from peers, in arrival
	// order. It is closed when Close is called.
	Inbox() <-chan Envelope
	// Close releases any sockets or goroutines this transport owns.
	Close() error
}
