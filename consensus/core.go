// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package consensus implements the Consensus Core of §4.D: the per-node
// round counter, round-advancement liveness rule, and the leader commit
// rule (direct commit plus retroactive wave fill-in) that turns the DAG
// Store's delivered vertices into a single, agreed commit sequence.
//
// Grounded on core/dag/flare.go's Classify/HasCertificate/HasSkip
// support-counting shape (direct-commit test here counts round-(4k+2)
// reachability of the wave leader instead of next-round references to a
// single vertex) and on a single-owner task convention: Core is driven
// by one goroutine's OnCertified calls, never touched concurrently,
// matching dagstore and rbroadcast.
package consensus

import (
	"fmt"
	"sort"

	"github.com/luxfi/ids"
	lxlog "github.com/luxfi/log"

	"github.com/dagrider/node/coin"
	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/dagstore"
	"github.com/dagrider/node/types"
)

// Proposer is the outbound half of the reliable-broadcast layer the core
// depends on: it hands a freshly built vertex to RB for dissemination.
// *rbroadcast.Engine satisfies this.
type Proposer interface {
	Propose(v *types.Vertex) error
}

// CoinBroadcaster disseminates this node's own shared-coin partial
// (§4.A coin.share) for a round to the rest of the committee, so every
// node can accumulate a 2f+1 quorum and combine it independently.
type CoinBroadcaster interface {
	BroadcastShare(round types.Round, partial coin.Partial) error
}

// Commit is one entry of the committed output stream (§6: "Executor
// interface (produced)"): a strictly increasing sequence number paired
// with the vertex being delivered to the executor.
type Commit struct {
	Seq    uint64
	Vertex *types.CertifiedVertex
}

// CommitHandler receives commits in Seq order, one call per vertex.
type CommitHandler func(Commit)

// Core owns r_self, the pending-leader evaluation cursor, and
// r_committed (§4.D). It is not safe for concurrent use: the node
// runtime drives it from a single owning goroutine, invoking
// OnCertified once per vertex the DAG Store delivers.
type Core struct {
	self committee.NodeID
	c    *committee.Committee

	store    *dagstore.Store
	rb       Proposer
	mp       Mempool
	coin     *coin.Collector
	coinBc   CoinBroadcaster
	cfg      Config
	log      lxlog.Logger
	onCommit CommitHandler

	rSelf             types.Round // next round this node has yet to build
	nextWave          uint64      // next wave index pending commit evaluation
	lastCommittedWave int64       // -1 until the first wave commits
	rCommitted        types.Round
	nextSeq           uint64
}

// New builds a Core for node self. rb disseminates vertices this node
// builds; mp supplies payload digests; cn accumulates this committee's
// shared-coin partials and coinBc broadcasts this node's own; onCommit
// is invoked once per vertex in the committed output stream, in Seq
// order.
func New(self committee.NodeID, c *committee.Committee, store *dagstore.Store, rb Proposer, mp Mempool, cn *coin.Collector, coinBc CoinBroadcaster, cfg Config, log lxlog.Logger, onCommit CommitHandler) *Core {
	return &Core{
		self:              self,
		c:                 c,
		store:             store,
		rb:                rb,
		mp:                mp,
		coin:              cn,
		coinBc:            coinBc,
		cfg:               cfg,
		log:               log,
		onCommit:          onCommit,
		rSelf:             1,
		nextWave:          0,
		lastCommittedWave: -1,
	}
}

// Start builds and proposes this node's round-1 vertex. Round 0
// (genesis) is seeded with a full quorum by dagstore.New, so the first
// call to tryAdvance always succeeds.
func (co *Core) Start() error {
	return co.tryAdvance()
}

// Round reports the next round this node has yet to build (r_self).
func (co *Core) Round() types.Round { return co.rSelf }

// CommittedRound reports r_committed, the largest committed leader round.
func (co *Core) CommittedRound() types.Round { return co.rCommitted }

// OnCertified notifies the core that the DAG Store has delivered a new
// certified vertex (this node's own, or a peer's arriving via RB). It is
// the sole entry point driving both round advancement and wave commit
// evaluation; the node runtime wires it as the RB layer's Delivered
// callback, downstream of dagstore.Store.Insert.
func (co *Core) OnCertified(*types.CertifiedVertex) error {
	if err := co.tryAdvance(); err != nil {
		return err
	}
	return co.tryEvaluateWaves()
}

// OnCoinShare notifies the core that a shared-coin partial (this
// node's own, or a peer's arriving over the network) is available for
// round. It ingests the partial and, since this may be the share that
// pushes some wave's coin round over quorum, retries any wave
// evaluation tryEvaluateWaves previously deferred for lack of it.
func (co *Core) OnCoinShare(round types.Round, partial coin.Partial) error {
	co.coin.Ingest(round, partial)
	return co.tryEvaluateWaves()
}

// tryAdvance implements §4.D.1: while the previous round has reached
// quorum, build and propose the next round's vertex. The loop form lets
// a node that just caught up on several rounds' worth of certificates at
// once (e.g. after a SYNC_RESP burst) build through all of them in a
// single OnCertified call rather than waiting for more events.
func (co *Core) tryAdvance() error {
	for {
		parentRound := co.rSelf - 1
		if co.store.CountCertified(parentRound) < co.c.Quorum() {
			return nil
		}
		round := co.rSelf
		if err := co.buildAndPropose(round); err != nil {
			return err
		}
		co.rSelf++
		if uint64(round)%4 == 3 {
			if err := co.broadcastOwnCoinShare(round); err != nil {
				return err
			}
		}
	}
}

// broadcastOwnCoinShare computes and disseminates this node's §4.A
// coin.share for round (always a coin round, 4k+3, reached just after
// this node built round 4k+3's own vertex) so the rest of the
// committee can fold it into wave k's combine.
func (co *Core) broadcastOwnCoinShare(round types.Round) error {
	share := co.coin.OwnShare(round)
	return co.coinBc.BroadcastShare(round, share)
}

func (co *Core) buildAndPropose(round types.Round) error {
	strong, ok := co.store.StrongParentDigests(round - 1)
	if !ok {
		return fmt.Errorf("consensus: round %d lacks quorum certified parents", round-1)
	}
	weak := co.selectWeakParents(round, strong)
	payload := co.mp.NextBatchDigests(co.cfg.PayloadByteBudget)
	v := &types.Vertex{
		Round:         round,
		Author:        co.self,
		Payload:       payload,
		StrongParents: strong,
		WeakParents:   weak,
	}
	return co.rb.Propose(v)
}

// selectWeakParents implements the weak-parent policy (Open Question
// resolved, see DESIGN.md): every delivered-but-uncommitted vertex from
// a round earlier than round-1, in (round, author) order, that is not
// already reachable through the chosen strong parents, greedily added
// until WeakParentByteBudget is exhausted.
func (co *Core) selectWeakParents(round types.Round, strong []ids.ID) []ids.ID {
	if round < 2 {
		return nil
	}
	candidates := co.store.UndeliveredUncommitted(round - 1)
	budget := co.cfg.WeakParentByteBudget
	var weak []ids.ID
	for _, cand := range candidates {
		if budget < digestSize {
			break
		}
		d := cand.Vertex.Digest()
		reachable := false
		for _, sp := range strong {
			if co.store.IsPath(d, sp) {
				reachable = true
				break
			}
		}
		if reachable {
			continue
		}
		weak = append(weak, d)
		budget -= digestSize
	}
	return weak
}

// tryEvaluateWaves implements the trigger condition of §4.D.2: once
// r_self reaches round 4(k+1)+1, wave k is evaluated for commit exactly
// once. Waves never directly committable are left to retroactive
// fill-in from a later wave's commitChain, or are permanently skipped.
func (co *Core) tryEvaluateWaves() error {
	for {
		threshold := types.Round(4*(co.nextWave+1) + 1)
		if co.rSelf < threshold {
			return nil
		}
		ready, err := co.evaluateWave(co.nextWave)
		if err != nil {
			return err
		}
		if !ready {
			// The coin for this wave hasn't combined yet (quorum of
			// partials not yet received); retry once OnCoinShare
			// delivers the share that completes it.
			return nil
		}
		co.nextWave++
	}
}

// evaluateWave reports ready=false, deferring wave k without consuming
// it, only while its coin round hasn't reached quorum. Once the
// leader seat is known, the wave's fate (committed, or permanently
// left to retroactive fill-in / skip) is decided exactly once.
func (co *Core) evaluateWave(k uint64) (bool, error) {
	coinRound := types.CoinRoundOfWave(k)
	leaderID, ok := co.coin.Leader(coinRound)
	if !ok {
		co.log.Debug("wave leader coin not yet combined, deferring evaluation", "wave", k, "coinRound", coinRound)
		return false, nil
	}

	leaderRound := types.LeaderRoundOfWave(k)
	leaderCV, ok := co.store.At(leaderRound, leaderID)
	if !ok {
		co.log.Debug("wave leader never produced a vertex, skipping", "wave", k, "leader", leaderID)
		return true, nil
	}

	leaderDigest := leaderCV.Vertex.Digest()
	votingRound := types.VotingRoundOfWave(k)
	support := 0
	for _, cv := range co.store.CertifiedAuthors(votingRound) {
		if co.store.IsPath(leaderDigest, cv.Vertex.Digest()) {
			support++
		}
	}
	if support < co.c.Quorum() {
		co.log.Debug("wave leader not yet directly committable", "wave", k, "support", support)
		return true, nil
	}

	co.commitChain(k, leaderCV)
	return true, nil
}

// commitChain performs the direct commit of wave k's leader plus
// retroactive fill-in of any earlier, uncommitted wave whose leader is
// reachable from the chain accepted so far (§4.D.2 step 3).
func (co *Core) commitChain(k uint64, leaderCV *types.CertifiedVertex) {
	type link struct {
		wave uint64
		cv   *types.CertifiedVertex
	}
	chain := []link{{k, leaderCV}}
	frontier := leaderCV.Vertex.Digest()

	var startWave uint64
	if co.lastCommittedWave >= 0 {
		startWave = uint64(co.lastCommittedWave) + 1
	}
	for j := k; j > startWave; j-- {
		jj := j - 1
		leaderID, ok := co.coin.Leader(types.CoinRoundOfWave(jj))
		if !ok {
			continue // that wave's coin never combined; unfillable
		}
		cvj, ok := co.store.At(types.LeaderRoundOfWave(jj), leaderID)
		if !ok {
			continue // that wave's leader never produced a vertex; unfillable
		}
		dj := cvj.Vertex.Digest()
		if co.store.IsPath(dj, frontier) {
			chain = append(chain, link{jj, cvj})
			frontier = dj
		}
	}

	sort.Slice(chain, func(i, j int) bool { return chain[i].wave < chain[j].wave })
	for _, l := range chain {
		co.emitWave(l.cv)
	}

	co.lastCommittedWave = int64(k)
	co.rCommitted = types.LeaderRoundOfWave(k)
	co.store.Prune(co.rCommitted)
}

// emitWave appends one wave leader's causal history, then the leader
// itself, to the committed output stream (§4.D.2 step 4), in
// dagstore's deterministic traversal order.
func (co *Core) emitWave(leaderCV *types.CertifiedVertex) {
	for _, anc := range co.store.CausalHistory(leaderCV.Vertex) {
		co.emit(anc)
	}
	co.emit(leaderCV)
}

func (co *Core) emit(cv *types.CertifiedVertex) {
	if co.store.IsCommitted(cv.Vertex.Digest()) {
		return
	}
	co.store.MarkCommitted(cv.Vertex.Digest())
	co.nextSeq++
	if co.onCommit != nil {
		co.onCommit(Commit{Seq: co.nextSeq, Vertex: cv})
	}
}
