// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mempool is the reference implementation of the external
// mempool collaborator §1 calls out of scope for its internals and §6
// specifies the interface of: client transactions are accumulated
// in-process and cut into batches on a size or age trigger, each batch
// addressed by the SHA-256 digest of its canonical encoding.
//
// Grounded on the module's own single-owner, mutex-guarded structure
// convention (dagstore.Store, rbroadcast.Engine) rather than on a
// specific teacher mempool — the example library's own engine code
// leaves transaction collection as an unimplemented placeholder
// (engine/fastdag/engine.go's collectTransactions), so this package
// follows the stack's general data-structure idiom instead: a bounded,
// mutex-protected buffer plus utils/set.Set for digest deduplication.
package mempool

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/luxfi/ids"

	"github.com/dagrider/node/utils/set"
)

// Config tunes batch cutting.
type Config struct {
	// MaxBatchBytes is the size trigger: once buffered transaction bytes
	// reach this, the buffer is cut into a batch immediately.
	MaxBatchBytes int
	// MaxBatchAge is the age trigger: a non-empty buffer older than this
	// is cut into a batch on the next call even if under MaxBatchBytes.
	MaxBatchAge time.Duration
}

// DefaultConfig matches the consensus core's default payload budget.
func DefaultConfig() Config {
	return Config{MaxBatchBytes: 64 * 1024, MaxBatchAge: 200 * time.Millisecond}
}

// Simple is an in-memory, single-node mempool satisfying the consensus
// core's Mempool interface (next_batch_digests) and the executor's
// batch_for lookup. It is safe for concurrent use: Submit is called from
// the client TCP task, NextBatchDigests/BatchFor from the Consensus Core
// and executor tasks respectively (§5: distinct tasks, message-passing
// only through this type's exported methods, not shared state).
type Simple struct {
	mu sync.Mutex

	cfg Config

	pending      [][]byte
	pendingBytes int
	opened       time.Time

	batches map[ids.ID][]byte
	ready   []ids.ID
	known   set.Set[ids.ID]
}

// New builds an empty Simple mempool.
func New(cfg Config) *Simple {
	return &Simple{
		cfg:     cfg,
		batches: make(map[ids.ID][]byte),
		known:   set.NewSet[ids.ID](64),
	}
}

// Submit accepts one client transaction into the pending buffer and
// returns nothing. When the buffered bytes reach MaxBatchBytes the
// buffer is cut into a batch before Submit returns; otherwise the
// transaction waits for a later size or age trigger. Submit does not
// report when, or into which batch, a transaction is cut.
func (m *Simple) Submit(tx []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		m.opened = time.Now()
	}
	m.pending = append(m.pending, tx)
	m.pendingBytes += len(tx)
	if m.pendingBytes >= m.cfg.MaxBatchBytes {
		m.cutLocked()
	}
}

// NextBatchDigests returns up to budgetBytes/32 ready batch digests,
// cutting the current buffer first if its age trigger has elapsed. It
// never blocks and may return an empty slice.
func (m *Simple) NextBatchDigests(budgetBytes int) []ids.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) > 0 && time.Since(m.opened) >= m.cfg.MaxBatchAge {
		m.cutLocked()
	}
	max := budgetBytes / 32
	if max <= 0 || len(m.ready) == 0 {
		return nil
	}
	if max > len(m.ready) {
		max = len(m.ready)
	}
	out := append([]ids.ID(nil), m.ready[:max]...)
	m.ready = m.ready[max:]
	return out
}

// BatchFor returns the canonically encoded batch for digest, if known.
func (m *Simple) BatchFor(digest ids.ID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[digest]
	return b, ok
}

// cutLocked turns the pending buffer into a new batch. Caller holds mu.
func (m *Simple) cutLocked() {
	if len(m.pending) == 0 {
		return
	}
	encoded := encodeBatch(m.pending)
	digest := ids.ID(sha256.Sum256(encoded))
	if !m.known.Contains(digest) {
		m.known.Add(digest)
		m.batches[digest] = encoded
		m.ready = append(m.ready, digest)
	}
	m.pending = nil
	m.pendingBytes = 0
}

// encodeBatch is the canonical, deterministic per-node encoding a
// batch's digest is computed over: a length-prefixed concatenation of
// transactions in submission order. Batches never cross nodes before
// being referenced by digest, so only self-consistency is required.
func encodeBatch(txs [][]byte) []byte {
	size := 4
	for _, tx := range txs {
		size += 4 + len(tx)
	}
	out := make([]byte, 0, size)
	out = appendUint32(out, uint32(len(txs)))
	for _, tx := range txs {
		out = appendUint32(out, uint32(len(tx)))
		out = append(out, tx...)
	}
	return out
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
