// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package committee describes the static set of nodes that run the
// protocol together with the quorum arithmetic (f and the 2f+1 quorum)
// every other package builds on.
package committee

import (
	"crypto/ed25519"
	"fmt"
)

// NodeID is a committee member's stable slot, 1..N. Unlike a hash-based
// node identity, slots are small and order the committee deterministically,
// which the coin and the weak-parent ordering both depend on.
type NodeID uint32

func (n NodeID) String() string {
	return fmt.Sprintf("node-%d", uint32(n))
}

// Member is one committee seat: its slot and its long-lived signing key.
type Member struct {
	ID        NodeID
	PublicKey ed25519.PublicKey
}

// Committee is the fixed membership the protocol runs over. It never
// changes for the lifetime of a run (see SPEC_FULL.md Non-goals:
// reconfiguration is out of scope).
type Committee struct {
	members map[NodeID]Member
	order   []NodeID
	n       int
	f       int
}

// New builds a Committee from members sorted by NodeID. It panics if
// members is empty or ids are not in [1, len(members)] with no gaps,
// since the coin's "id c+1" selection and genesis construction both
// assume a dense 1..N numbering.
func New(members []Member) *Committee {
	n := len(members)
	if n == 0 {
		panic("committee: empty membership")
	}
	c := &Committee{
		members: make(map[NodeID]Member, n),
		order:   make([]NodeID, 0, n),
		n:       n,
		f:       (n - 1) / 3,
	}
	seen := make(map[NodeID]bool, n)
	for _, m := range members {
		if m.ID < 1 || int(m.ID) > n {
			panic(fmt.Sprintf("committee: node id %d out of range [1,%d]", m.ID, n))
		}
		if seen[m.ID] {
			panic(fmt.Sprintf("committee: duplicate node id %d", m.ID))
		}
		seen[m.ID] = true
		c.members[m.ID] = m
	}
	for i := 1; i <= n; i++ {
		if !seen[NodeID(i)] {
			panic(fmt.Sprintf("committee: missing node id %d", i))
		}
		c.order = append(c.order, NodeID(i))
	}
	return c
}

// N is the committee size.
func (c *Committee) N() int { return c.n }

// F is the maximum number of Byzantine faults tolerated: floor((N-1)/3).
func (c *Committee) F() int { return c.f }

// Quorum is the certificate/vote/strong-parent threshold 2f+1.
func (c *Committee) Quorum() int { return 2*c.f + 1 }

// Member returns the committee seat for id, or false if id is not a member.
func (c *Committee) Member(id NodeID) (Member, bool) {
	m, ok := c.members[id]
	return m, ok
}

// Members returns all members ordered by ascending NodeID.
func (c *Committee) Members() []Member {
	out := make([]Member, 0, c.n)
	for _, id := range c.order {
		out = append(out, c.members[id])
	}
	return out
}

// ByIndex returns the member at coin index idx in [0, N), i.e. NodeID(idx+1).
func (c *Committee) ByIndex(idx int) (Member, bool) {
	return c.Member(NodeID(idx + 1))
}

// DistinctAuthors reports whether ids contains only distinct, valid members.
func (c *Committee) DistinctAuthors(ids []NodeID) bool {
	seen := make(map[NodeID]bool, len(ids))
	for _, id := range ids {
		if _, ok := c.members[id]; !ok {
			return false
		}
		if seen[id] {
			return false
		}
		seen[id] = true
	}
	return true
}
