// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package types holds the wire-level data model: vertices, certificates
// of availability, and the six message tags of §6. Encoding lives in
// encode.go and is deterministic so that signatures and digests are
// reproducible byte-for-byte across nodes.
package types

import (
	"crypto/ed25519"

	"github.com/luxfi/ids"

	"github.com/dagrider/node/committee"
)

// Round is the DAG round counter. Genesis is round 0.
type Round uint64

// WaveOf returns the wave index k such that round lies in [4k, 4k+3].
func (r Round) WaveOf() uint64 { return uint64(r) / 4 }

// IsLeaderRound reports whether r is the first round of its wave (4k).
func (r Round) IsLeaderRound() bool { return uint64(r)%4 == 0 }

// IsVotingRound reports whether r is the voting round of its wave (4k+2).
func (r Round) IsVotingRound() bool { return uint64(r)%4 == 2 }

// LeaderRoundOfWave returns the leader round 4k for wave k.
func LeaderRoundOfWave(k uint64) Round { return Round(4 * k) }

// VotingRoundOfWave returns the voting round 4k+2 for wave k.
func VotingRoundOfWave(k uint64) Round { return Round(4*k + 2) }

// CoinRoundOfWave returns round 4k+3, the round at which §4.A's shared
// coin is invoked to pick wave k's leader.
func CoinRoundOfWave(k uint64) Round { return Round(4*k + 3) }

// Vertex is the fundamental DAG node: a batch of transaction digests
// authored by exactly one committee member in exactly one round.
type Vertex struct {
	Round         Round
	Author        committee.NodeID
	Payload       []ids.ID // batch digests, opaque to the core
	StrongParents []ids.ID // >= 2f+1 distinct-author vertex digests from Round-1
	WeakParents   []ids.ID // vertex digests from rounds < Round-1
	Signature     []byte   // author's Ed25519 signature over Digest()
}

// Digest is the hash of the vertex's structural fields, independent of
// the signature. It is what gets signed and what other vertices
// reference in their parent sets.
func (v *Vertex) Digest() ids.ID {
	return ids.ID(hashVertex(v))
}

// SigningMessage returns the exact bytes the author signs and verifiers
// re-derive: the structural digest.
func (v *Vertex) SigningMessage() []byte {
	d := hashVertex(v)
	return d[:]
}

// Sign sets v.Signature using sk. sk must belong to v.Author.
func (v *Vertex) Sign(sk ed25519.PrivateKey) {
	v.Signature = ed25519.Sign(sk, v.SigningMessage())
}

// VerifySignature checks v.Signature against pk.
func (v *Vertex) VerifySignature(pk ed25519.PublicKey) bool {
	if len(v.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, v.SigningMessage(), v.Signature)
}

// IsGenesis reports whether v is the implicit round-0 vertex for its author.
func (v *Vertex) IsGenesis() bool { return v.Round == 0 }

// GenesisVertex returns the well-known, signature-free round-0 vertex for
// author. Every correct node constructs the identical value (invariant 5),
// so no CoA is ever required for it.
func GenesisVertex(author committee.NodeID) *Vertex {
	return &Vertex{Round: 0, Author: author}
}

// GenesisDigest returns the fixed digest genesis vertices share per author.
func GenesisDigest(author committee.NodeID) ids.ID {
	return GenesisVertex(author).Digest()
}

// Signer pairs a signature with the signer's identity.
type Signer struct {
	Node      committee.NodeID
	Signature []byte
}

// CertificateOfAvailability (CoA) is a vertex digest plus >= 2f+1
// signatures from distinct committee members acknowledging delivery. It
// is the only admissible way to reference a vertex from another vertex's
// parent sets.
type CertificateOfAvailability struct {
	Digest  ids.ID
	Signers []Signer
}

// Verify checks that coa carries >= quorum valid, distinct signatures
// over coa.Digest from members of c.
func (coa *CertificateOfAvailability) Verify(c *committee.Committee) bool {
	if len(coa.Signers) < c.Quorum() {
		return false
	}
	seen := make(map[committee.NodeID]bool, len(coa.Signers))
	msg := coa.Digest[:]
	valid := 0
	for _, s := range coa.Signers {
		if seen[s.Node] {
			continue
		}
		m, ok := c.Member(s.Node)
		if !ok {
			continue
		}
		if len(s.Signature) != ed25519.SignatureSize {
			continue
		}
		if !ed25519.Verify(m.PublicKey, msg, s.Signature) {
			continue
		}
		seen[s.Node] = true
		valid++
	}
	return valid >= c.Quorum()
}

// CertifiedVertex bundles a delivered vertex with its proof of availability.
type CertifiedVertex struct {
	Vertex *Vertex
	CoA    *CertificateOfAvailability
}
