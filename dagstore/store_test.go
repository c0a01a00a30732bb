// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package dagstore_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/committee/committeetest"
	"github.com/dagrider/node/dagstore"
	"github.com/dagrider/node/types"
)

// fixture builds a 4-node committee (f=1, quorum=3) and a helper that
// produces a fully certified vertex for round 1, one per author, each
// strongly parented on all four genesis vertices.
type fixture struct {
	c    *committee.Committee
	keys []ed25519.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	c, keys := committeetest.New(4)
	return &fixture{c: c, keys: keys}
}

func (f *fixture) certify(v *types.Vertex, signerIdx int) (*types.Vertex, *types.CertificateOfAvailability) {
	v.Sign(f.keys[signerIdx])
	digest := v.Digest()
	signers := make([]types.Signer, 0, f.c.Quorum())
	for i := 0; i < f.c.Quorum(); i++ {
		signers = append(signers, types.Signer{Node: f.c.Members()[i].ID, Signature: ed25519.Sign(f.keys[i], digest[:])})
	}
	return v, &types.CertificateOfAvailability{Digest: digest, Signers: signers}
}

func genesisParents(c *committee.Committee) []ids.ID {
	out := make([]ids.ID, 0, c.N())
	for _, m := range c.Members() {
		out = append(out, types.GenesisDigest(m.ID))
	}
	return out
}

func TestInsertRound1VertexAgainstGenesis(t *testing.T) {
	f := newFixture(t)
	s := dagstore.New(f.c, 2)

	v, coa := f.certify(&types.Vertex{Round: 1, Author: 1, StrongParents: genesisParents(f.c)}, 0)
	require.NoError(t, s.Insert(v, coa))
	require.True(t, s.Contains(v.Digest()))
	require.Equal(t, 1, s.CountCertified(1))
}

func TestInsertRejectsEquivocation(t *testing.T) {
	f := newFixture(t)
	s := dagstore.New(f.c, 2)

	v1, coa1 := f.certify(&types.Vertex{Round: 1, Author: 1, Payload: []ids.ID{{1}}, StrongParents: genesisParents(f.c)}, 0)
	require.NoError(t, s.Insert(v1, coa1))

	v2, coa2 := f.certify(&types.Vertex{Round: 1, Author: 1, Payload: []ids.ID{{2}}, StrongParents: genesisParents(f.c)}, 0)
	err := s.Insert(v2, coa2)
	require.ErrorIs(t, err, dagstore.ErrEquivocation)
}

func TestInsertRejectsBelowQuorumStrongParents(t *testing.T) {
	f := newFixture(t)
	s := dagstore.New(f.c, 2)

	v, coa := f.certify(&types.Vertex{Round: 1, Author: 1, StrongParents: genesisParents(f.c)[:1]}, 0)
	err := s.Insert(v, coa)
	require.ErrorIs(t, err, dagstore.ErrInvariantViolation)
}

func TestInsertRejectsWrongRoundParents(t *testing.T) {
	f := newFixture(t)
	s := dagstore.New(f.c, 2)

	v, coa := f.certify(&types.Vertex{Round: 2, Author: 1, StrongParents: genesisParents(f.c)[:3]}, 0)
	// round 2 vertex strongly parenting round-0 genesis instead of round-1 certified vertices.
	err := s.Insert(v, coa)
	require.ErrorIs(t, err, dagstore.ErrInvariantViolation)
}

func TestInsertRejectsInvalidCoA(t *testing.T) {
	f := newFixture(t)
	s := dagstore.New(f.c, 2)

	v := &types.Vertex{Round: 1, Author: 1, StrongParents: genesisParents(f.c)}
	v.Sign(f.keys[0])
	badCoA := &types.CertificateOfAvailability{Digest: v.Digest()} // no signers
	require.ErrorIs(t, s.Insert(v, badCoA), dagstore.ErrInvalidCoA)
}

func TestCausalHistoryDeterministicOrder(t *testing.T) {
	f := newFixture(t)
	s := dagstore.New(f.c, 2)

	round1 := make([]*types.Vertex, 0, 4)
	for i := 0; i < 4; i++ {
		v, coa := f.certify(&types.Vertex{Round: 1, Author: f.c.Members()[i].ID, StrongParents: genesisParents(f.c)}, i)
		require.NoError(t, s.Insert(v, coa))
		round1 = append(round1, v)
	}

	round1Digests := make([]ids.ID, len(round1))
	for i, v := range round1 {
		round1Digests[i] = v.Digest()
	}
	v2, coa2 := f.certify(&types.Vertex{Round: 2, Author: 1, StrongParents: round1Digests[:3]}, 0)
	require.NoError(t, s.Insert(v2, coa2))

	history := s.CausalHistory(v2)
	require.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		a, b := history[i-1].Vertex, history[i].Vertex
		require.True(t, a.Round < b.Round || (a.Round == b.Round && a.Author < b.Author))
	}
}

func TestIsPathFindsAncestor(t *testing.T) {
	f := newFixture(t)
	s := dagstore.New(f.c, 2)

	v1, coa1 := f.certify(&types.Vertex{Round: 1, Author: 1, StrongParents: genesisParents(f.c)}, 0)
	require.NoError(t, s.Insert(v1, coa1))

	v2, coa2 := f.certify(&types.Vertex{Round: 1, Author: 2, StrongParents: genesisParents(f.c)}, 1)
	require.NoError(t, s.Insert(v2, coa2))

	p3, coaP3 := f.certify(&types.Vertex{Round: 1, Author: 3, StrongParents: genesisParents(f.c)}, 2)
	require.NoError(t, s.Insert(p3, coaP3))

	v3Digests := []ids.ID{v1.Digest(), v2.Digest(), p3.Digest()}
	v3 := &types.Vertex{Round: 2, Author: 1, StrongParents: v3Digests}
	v3, coa3 := f.certify(v3, 0)
	require.NoError(t, s.Insert(v3, coa3))

	require.True(t, s.IsPath(v1.Digest(), v3.Digest()))
	require.True(t, s.IsPath(v2.Digest(), v3.Digest()))
	require.False(t, s.IsPath(v3.Digest(), v1.Digest()))
}

func TestPruneDropsOldRoundsButKeepsGenesis(t *testing.T) {
	f := newFixture(t)
	s := dagstore.New(f.c, 1) // gc = 1*4 = 4 rounds

	v, coa := f.certify(&types.Vertex{Round: 1, Author: 1, StrongParents: genesisParents(f.c)}, 0)
	require.NoError(t, s.Insert(v, coa))

	s.Prune(10) // floor = 10 - 4 = 6, round 1 < 6 must be dropped
	require.False(t, s.Contains(v.Digest()))
	require.True(t, s.Contains(types.GenesisDigest(1)))
}
