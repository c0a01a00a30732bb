// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package coin implements the §4.A shared random coin: a (2f+1, n)
// threshold pseudorandom function over the order-Q subgroup of
// (Z/PZ)*, the plain-discrete-log analogue of the Naor-Pinkas-Reingold
// verifiable PRF. A trusted dealer (Deal) splits one secret exponent
// across the committee with a degree-f Shamir polynomial; each seat's
// Share(round) raises a round-dependent base to its own share, and any
// 2f+1 of those partials Combine (via exponent Lagrange interpolation
// at x=0) to the same group element for that round, regardless of
// which quorum subset contributed. An adversary holding at most f
// shares learns nothing about a not-yet-combined round's value, by
// Shamir's information-theoretic share secrecy; an adversary holding
// partials but not the underlying shares cannot invert them, by the
// hardness of discrete log in the subgroup. This needs no pairing
// library, only math/big modular exponentiation, unlike a threshold
// BLS construction.
//
// Open Question resolved (see DESIGN.md): earlier revisions of this
// package picked wave leaders by plain round-robin rotation, public
// and predictable from the committee roster alone. That met neither
// the share/combine/InsufficientShares contract nor the
// unpredictability invariant the spec requires, so it has been
// replaced by the scheme above.
package coin

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"

	"golang.org/x/crypto/hkdf"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/types"
)

// Params is the fixed algebraic group every coin in this build runs
// over: the order-Q subgroup of (Z/PZ)* generated by G, for a safe
// prime P = 2Q+1.
type Params struct {
	P *big.Int
	Q *big.Int
	G *big.Int
}

// DefaultParams is computed once, deterministically, from a fixed
// label via HKDF-expanded randomness rather than a literal hardcoded
// prime: every process that imports this package derives the
// identical (P, Q, G), which is all the committee-wide agreement the
// scheme needs, without this build having to carry (and this author
// having to transcribe from memory) a several-hundred-digit constant.
var DefaultParams = computeDefaultParams()

const paramsBits = 1024

func computeDefaultParams() *Params {
	src := hkdf.New(sha256.New, []byte("dagrider-coin-default-params"), nil, []byte("safe-prime-v1"))
	for {
		q, err := rand.Prime(src, paramsBits)
		if err != nil {
			panic(fmt.Sprintf("coin: deriving default group parameters: %v", err))
		}
		p := new(big.Int).Lsh(q, 1)
		p.Add(p, big.NewInt(1))
		if p.ProbablyPrime(32) {
			return &Params{P: p, Q: q, G: big.NewInt(4)}
		}
	}
}

// Partial is one committee seat's contribution toward a round's
// combined coin value (§4.A "coin.share(round) → partial").
type Partial struct {
	From  committee.NodeID
	Value *big.Int
}

// ErrInsufficientShares is returned by Combine when fewer than quorum
// distinct seats have contributed a partial for the round (§4.A:
// "combine fails with InsufficientShares below 2f+1").
var ErrInsufficientShares = errors.New("coin: insufficient shares to combine")

// Deal runs the trusted-dealer setup for an n-seat committee tolerating
// f Byzantine members: a random polynomial of degree f over Z_Q is
// sampled and evaluated at 1..n to produce one secret share per seat.
// Real deployments run this once, out of band, and hand share i to
// seat i alone — config.MemberConfig.CoinShare carries the result the
// same way it carries each seat's Ed25519 public key.
func Deal(p *Params, n, f int) ([]*big.Int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("coin: invalid committee size %d", n)
	}
	if f < 0 || f >= n {
		return nil, fmt.Errorf("coin: invalid threshold f=%d for n=%d", f, n)
	}
	coeffs := make([]*big.Int, f+1)
	for i := range coeffs {
		c, err := rand.Int(rand.Reader, p.Q)
		if err != nil {
			return nil, fmt.Errorf("coin: sample polynomial coefficient: %w", err)
		}
		coeffs[i] = c
	}
	shares := make([]*big.Int, n)
	for i := 1; i <= n; i++ {
		shares[i-1] = evalPoly(coeffs, big.NewInt(int64(i)), p.Q)
	}
	return shares, nil
}

func evalPoly(coeffs []*big.Int, x, mod *big.Int) *big.Int {
	result := new(big.Int)
	xPow := big.NewInt(1)
	for _, c := range coeffs {
		term := new(big.Int).Mul(c, xPow)
		result.Add(result, term)
		result.Mod(result, mod)
		xPow.Mul(xPow, x)
		xPow.Mod(xPow, mod)
	}
	return result
}

// Coin is one committee seat's private handle on the shared coin: its
// own Shamir share of the dealt polynomial, over a fixed Params.
type Coin struct {
	params *Params
	self   committee.NodeID
	secret *big.Int
}

// New builds a Coin for seat self holding secret, its share from Deal.
func New(params *Params, self committee.NodeID, secret *big.Int) *Coin {
	return &Coin{params: params, self: self, secret: new(big.Int).Set(secret)}
}

// Share computes this seat's partial for round: H(round)^secret mod P,
// where H hashes round into the order-Q subgroup. Distinct rounds use
// independent bases, so revealing one round's partials tells an
// observer nothing about any other round's value; recovering secret
// from H(round)^secret is as hard as discrete log in the subgroup.
func (c *Coin) Share(round types.Round) Partial {
	h := hashToGroup(c.params, round)
	v := new(big.Int).Exp(h, c.secret, c.params.P)
	return Partial{From: c.self, Value: v}
}

func hashToGroup(p *Params, round types.Round) *big.Int {
	var roundBuf [8]byte
	binary.BigEndian.PutUint64(roundBuf[:], uint64(round))
	src := hkdf.New(sha256.New, roundBuf[:], nil, []byte("dagrider-coin-round-base"))
	buf := make([]byte, (p.P.BitLen()+15)/8)
	if _, err := io.ReadFull(src, buf); err != nil {
		panic(fmt.Sprintf("coin: expanding round base: %v", err))
	}
	h := new(big.Int).SetBytes(buf)
	h.Mod(h, p.P)
	h.Exp(h, big.NewInt(2), p.P) // square into the order-Q subgroup
	if h.Sign() == 0 {
		h.SetInt64(1)
	}
	return h
}

// Combine reconstructs a round's coin value from partials (§4.A
// "coin.combine({partial}) → value ∈ [0, N)"). Below quorum distinct
// contributors it returns ErrInsufficientShares; at or above quorum,
// any quorum-sized subset of correct partials combines to the
// identical value, since exponent-Lagrange interpolation at x=0
// reconstructs G^{P(0)*H(round)-exponent} regardless of which points
// it interpolates through.
func Combine(p *Params, quorum int, partials []Partial) (*big.Int, error) {
	dedup := make(map[committee.NodeID]*big.Int, len(partials))
	for _, pt := range partials {
		dedup[pt.From] = pt.Value
	}
	if len(dedup) < quorum {
		return nil, ErrInsufficientShares
	}

	ids := make([]committee.NodeID, 0, len(dedup))
	for id := range dedup {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ids = ids[:quorum]

	result := big.NewInt(1)
	for _, i := range ids {
		lambda := lagrangeCoefficientAtZero(p.Q, ids, i)
		term := new(big.Int).Exp(dedup[i], lambda, p.P)
		result.Mul(result, term)
		result.Mod(result, p.P)
	}
	return result, nil
}

// lagrangeCoefficientAtZero computes L_i(0) mod q for interpolating a
// polynomial at x=0 from its values at the points in ids.
func lagrangeCoefficientAtZero(q *big.Int, ids []committee.NodeID, i committee.NodeID) *big.Int {
	num := big.NewInt(1)
	den := big.NewInt(1)
	xi := big.NewInt(int64(i))
	for _, j := range ids {
		if j == i {
			continue
		}
		xj := big.NewInt(int64(j))

		negXj := new(big.Int).Neg(xj)
		num.Mul(num, negXj)
		num.Mod(num, q)

		diff := new(big.Int).Sub(xi, xj)
		diff.Mod(diff, q)
		den.Mul(den, diff)
		den.Mod(den, q)
	}
	denInv := new(big.Int).ModInverse(den, q)
	lambda := new(big.Int).Mul(num, denInv)
	lambda.Mod(lambda, q)
	return lambda
}

// DeriveLeader maps a combined coin value to a committee seat, the
// "value ∈ [0, N)" half of the §4.A contract translated into NodeID's
// dense 1..N numbering.
func DeriveLeader(value *big.Int, n int) committee.NodeID {
	mod := new(big.Int).Mod(value, big.NewInt(int64(n)))
	return committee.NodeID(mod.Int64() + 1)
}
