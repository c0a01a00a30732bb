// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package consensus

import "github.com/luxfi/ids"

// Mempool is the external batch source the Consensus Core pulls payloads
// from when it builds a vertex (§6: "Mempool interface (consumed)"). The
// reference implementation lives in package mempool; this module never
// depends on it concretely so the core can be driven by a test fixture.
type Mempool interface {
	// NextBatchDigests returns up to budgetBytes worth of pending batch
	// digests, non-blocking. It may return an empty slice if nothing is
	// ready yet.
	NextBatchDigests(budgetBytes int) []ids.ID
}
