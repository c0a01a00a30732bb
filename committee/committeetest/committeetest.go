// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package committeetest builds fixture committees with known private keys
// for tests across the module, the same fixture-subpackage convention
// used throughout this codebase (e.g. coin/cointest).
package committeetest

import (
	"crypto/ed25519"

	"github.com/dagrider/node/committee"
)

// New builds an n-member committee with freshly generated Ed25519 keys
// and returns it alongside the private keys, indexed by NodeID-1, so a
// test can sign on behalf of any member.
func New(n int) (*committee.Committee, []ed25519.PrivateKey) {
	members := make([]committee.Member, 0, n)
	keys := make([]ed25519.PrivateKey, n)
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			panic(err)
		}
		members = append(members, committee.Member{ID: committee.NodeID(i + 1), PublicKey: pub})
		keys[i] = priv
	}
	return committee.New(members), keys
}
