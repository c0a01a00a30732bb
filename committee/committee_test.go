// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package committee_test

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/committee/committeetest"
)

func TestQuorumArithmetic(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantF   int
		wantQ   int
	}{
		{name: "n=1", n: 1, wantF: 0, wantQ: 1},
		{name: "n=4", n: 4, wantF: 1, wantQ: 3},
		{name: "n=7", n: 7, wantF: 2, wantQ: 5},
		{name: "n=10", n: 10, wantF: 3, wantQ: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := committeetest.New(tt.n)
			require.Equal(t, tt.n, c.N())
			require.Equal(t, tt.wantF, c.F())
			require.Equal(t, tt.wantQ, c.Quorum())
		})
	}
}

func TestNewRejectsGapsAndDuplicates(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	require.Panics(t, func() {
		committee.New([]committee.Member{{ID: 1, PublicKey: pub}, {ID: 3, PublicKey: pub}})
	})
	require.Panics(t, func() {
		committee.New([]committee.Member{{ID: 1, PublicKey: pub}, {ID: 1, PublicKey: pub}})
	})
	require.Panics(t, func() {
		committee.New(nil)
	})
}

func TestMemberLookupAndByIndex(t *testing.T) {
	c, _ := committeetest.New(4)

	m, ok := c.Member(2)
	require.True(t, ok)
	require.Equal(t, committee.NodeID(2), m.ID)

	_, ok = c.Member(5)
	require.False(t, ok)

	byIdx, ok := c.ByIndex(0)
	require.True(t, ok)
	require.Equal(t, committee.NodeID(1), byIdx.ID)
}

func TestDistinctAuthors(t *testing.T) {
	c, _ := committeetest.New(4)

	require.True(t, c.DistinctAuthors([]committee.NodeID{1, 2, 3}))
	require.False(t, c.DistinctAuthors([]committee.NodeID{1, 1, 2}))
	require.False(t, c.DistinctAuthors([]committee.NodeID{1, 99}))
}
