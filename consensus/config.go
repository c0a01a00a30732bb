// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import "time"

// Config holds the Consensus Core's tunables (§4.D, §9).
type Config struct {
	// PayloadByteBudget bounds the size of batch digests pulled from the
	// mempool into a single vertex (§4.D.1 step 3).
	PayloadByteBudget int
	// WeakParentByteBudget bounds the encoded size of the weak-parent set
	// greedily filled from UndeliveredUncommitted candidates (§4.D, Open
	// Question resolved: 64 KiB of 32-byte digest refs).
	WeakParentByteBudget int
	// RoundTimeout is not read by the Core: no per-round timer runs, and
	// the node builds its round-r vertex only once it holds 2f+1
	// certified round-(r-1) vertices. The node runtime uses five times
	// this value as the stall threshold of its round-advancement health
	// check.
	RoundTimeout time.Duration
	// GCSafetyWaves is the number of waves of history the DAG Store keeps
	// below the committed frontier (§5); forwarded to dagstore.New.
	GCSafetyWaves int
}

// digestSize is the wire size of one ids.ID reference, used to size the
// weak-parent budget in digest counts rather than bytes-of-structs.
const digestSize = 32

// DefaultConfig returns the documented default tuning parameters.
func DefaultConfig() Config {
	return Config{
		PayloadByteBudget:    64 * 1024,
		WeakParentByteBudget: 64 * 1024,
		RoundTimeout:         2000 * time.Millisecond,
		GCSafetyWaves:        2,
	}
}
