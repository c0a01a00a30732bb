// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cointest deals a fixture coin for tests across the module,
// the same fixture-subpackage convention committeetest uses for
// committee membership.
package cointest

import (
	"github.com/dagrider/node/coin"
	"github.com/dagrider/node/committee"
)

// New deals a coin for an n-seat committee tolerating f faults and
// returns the shared parameters alongside each seat's private Coin,
// indexed by NodeID-1 so a test can compute any member's Share.
func New(n, f int) (*coin.Params, []*coin.Coin) {
	params := coin.DefaultParams
	shares, err := coin.Deal(params, n, f)
	if err != nil {
		panic(err)
	}
	coins := make([]*coin.Coin, n)
	for i := 0; i < n; i++ {
		coins[i] = coin.New(params, committee.NodeID(i+1), shares[i])
	}
	return params, coins
}
