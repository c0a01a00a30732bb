// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package coin

import (
	"math/big"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/types"
)

// Collector accumulates this committee's partials per round and caches
// each round's combined value the first time quorum is reached, so a
// later Leader lookup for an already-combined round is free and
// idempotent regardless of which quorum-sized subset arrived first.
// Not safe for concurrent use: the Consensus Core owns one instance
// exclusively, the same single-owner-task convention dagstore.Store
// and rbroadcast.Engine follow.
type Collector struct {
	params *Params
	n      int
	quorum int
	self   *Coin

	partials map[types.Round]map[committee.NodeID]*big.Int
	combined map[types.Round]*big.Int
}

// NewCollector builds a Collector for an n-seat committee requiring
// quorum distinct partials to combine, using self to compute this
// seat's own contribution.
func NewCollector(params *Params, self *Coin, n, quorum int) *Collector {
	return &Collector{
		params:   params,
		n:        n,
		quorum:   quorum,
		self:     self,
		partials: make(map[types.Round]map[committee.NodeID]*big.Int),
		combined: make(map[types.Round]*big.Int),
	}
}

// OwnShare computes this seat's own partial for round, ingests it
// locally, and returns it so the caller can broadcast it to the rest
// of the committee.
func (c *Collector) OwnShare(round types.Round) Partial {
	p := c.self.Share(round)
	c.Ingest(round, p)
	return p
}

// Ingest records a partial for round, from this seat or a peer, and
// attempts to combine once quorum distinct contributors are known.
// Safe to call repeatedly, including after round has already combined
// (a no-op) or with a redelivered partial (overwrites identically).
func (c *Collector) Ingest(round types.Round, p Partial) {
	if _, done := c.combined[round]; done {
		return
	}
	byNode, ok := c.partials[round]
	if !ok {
		byNode = make(map[committee.NodeID]*big.Int)
		c.partials[round] = byNode
	}
	byNode[p.From] = p.Value

	if len(byNode) < c.quorum {
		return
	}
	batch := make([]Partial, 0, len(byNode))
	for id, v := range byNode {
		batch = append(batch, Partial{From: id, Value: v})
	}
	value, err := Combine(c.params, c.quorum, batch)
	if err != nil {
		return // ErrInsufficientShares cannot fire here; any other error leaves the round pending
	}
	c.combined[round] = value
	delete(c.partials, round)
}

// Leader reports the seat the round's combined coin value designates,
// or false if that round has not yet reached quorum.
func (c *Collector) Leader(round types.Round) (committee.NodeID, bool) {
	v, ok := c.combined[round]
	if !ok {
		return 0, false
	}
	return DeriveLeader(v, c.n), true
}
