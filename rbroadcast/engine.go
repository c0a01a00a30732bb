// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rbroadcast implements the reliable-broadcast layer of §4.B: the
// PROPOSE/VOTE/CERT protocol that turns one author's signed vertex into a
// certificate of availability every correct node agrees was delivered,
// plus the SYNC_REQ/SYNC_RESP synchroniser that resolves vertices
// referencing parents a node has not yet seen.
//
// Grounded on engine/dag/getter/getter.go's Get/GetAncestors/Put request
// shape (generalized from a single-parent-chain ancestor walk to the
// specification's disjoint strong/weak parent sets) and on
// networking/sender/sender.go's notion of a narrow, swappable outbound
// interface the engine depends on rather than owns.
package rbroadcast

import (
	"crypto/ed25519"
	"fmt"

	lxlog "github.com/luxfi/log"

	"github.com/luxfi/ids"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/dagstore"
	"github.com/dagrider/node/types"
)

// Network is the outbound half of the transport the engine depends on.
// A concrete net.Transport (or an in-memory test double) implements it.
type Network interface {
	SendTo(to committee.NodeID, frame []byte) error
	Broadcast(frame []byte) error
}

// Delivered is invoked once a vertex obtains a certificate of
// availability and has been inserted into the DAG store — the signal
// the Consensus Core waits on to advance rounds.
type Delivered func(*types.CertifiedVertex)

// VoteStore is the durable equivocation record the engine consults
// before voting and updates immediately after, so a restarted node
// never votes for a second, conflicting vertex at an (author, round)
// pair it already voted in before the crash (scenario 6 of the
// testable properties). A nil VoteStore falls back to the in-memory
// votedFor map only, which does not survive a restart.
type VoteStore interface {
	LastVote(round types.Round, author committee.NodeID) (ids.ID, bool, error)
	RecordVote(round types.Round, author committee.NodeID, digest ids.ID) error
}

type key struct {
	round  types.Round
	author committee.NodeID
}

// pending tracks in-flight PROPOSE/VOTE state for one not-yet-certified
// vertex, keyed by digest.
type pending struct {
	vertex *types.Vertex
	votes  map[committee.NodeID][]byte
}

// Engine runs the reliable-broadcast state machine for one node. It is
// not safe for concurrent use by design: the node runtime drives it from
// a single owning goroutine, the same "one task, one owner" pattern the
// DAG store and Consensus Core use.
type Engine struct {
	self committee.NodeID
	sk   ed25519.PrivateKey
	c    *committee.Committee
	net  Network
	log  lxlog.Logger

	store *dagstore.Store
	votes VoteStore
	onNew Delivered

	pendingByDigest map[ids.ID]*pending
	votedFor        map[key]ids.ID
	awaiting        map[ids.ID]*types.Vertex  // digest -> vertex missing one or more parents
	missingCount    map[ids.ID]int            // digest -> remaining missing-parent count
	requested       map[ids.ID]bool           // digests already SYNC_REQ'd
}

// New builds a reliable-broadcast engine for node self.
func New(self committee.NodeID, sk ed25519.PrivateKey, c *committee.Committee, store *dagstore.Store, net Network, votes VoteStore, log lxlog.Logger, onNew Delivered) *Engine {
	return &Engine{
		self:            self,
		sk:              sk,
		c:               c,
		net:             net,
		log:             log,
		store:           store,
		votes:           votes,
		onNew:           onNew,
		pendingByDigest: make(map[ids.ID]*pending),
		votedFor:        make(map[key]ids.ID),
		awaiting:        make(map[ids.ID]*types.Vertex),
		missingCount:    make(map[ids.ID]int),
		requested:       make(map[ids.ID]bool),
	}
}

// Propose broadcasts a new vertex authored by this node: v.Author must
// equal self. The author signs it, votes for its own digest, and
// multicasts the PROPOSE frame.
func (e *Engine) Propose(v *types.Vertex) error {
	if v.Author != e.self {
		return fmt.Errorf("rbroadcast: cannot propose on behalf of %v", v.Author)
	}
	v.Sign(e.sk)
	frame, err := types.EncodeFrame(&types.Propose{Vertex: v})
	if err != nil {
		return err
	}
	if err := e.net.Broadcast(frame); err != nil {
		return err
	}
	return e.handlePropose(e.self, v)
}

// HandleFrame dispatches one inbound, already-deframed message from peer.
func (e *Engine) HandleFrame(from committee.NodeID, tag types.Tag, body []byte) error {
	msg, err := types.DecodeFrame(tag, body)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *types.Propose:
		return e.handlePropose(from, m.Vertex)
	case *types.Vote:
		return e.handleVote(from, m)
	case *types.Cert:
		return e.handleCert(m)
	case *types.SyncReq:
		return e.handleSyncReq(from, m)
	case *types.SyncResp:
		return e.handleSyncResp(m)
	default:
		return fmt.Errorf("rbroadcast: unhandled message %T", msg)
	}
}

// priorVote reports the digest this node already voted for at k, if
// any, consulting the in-memory cache first and falling back to the
// durable VoteStore (populating the cache on a hit) so a restarted
// node recovers its pre-crash voting record without a store lookup on
// every subsequent propose for the same (author, round).
func (e *Engine) priorVote(k key) (ids.ID, bool, error) {
	if existing, seen := e.votedFor[k]; seen {
		return existing, true, nil
	}
	if e.votes == nil {
		return ids.ID{}, false, nil
	}
	existing, seen, err := e.votes.LastVote(k.round, k.author)
	if err != nil {
		return ids.ID{}, false, err
	}
	if seen {
		e.votedFor[k] = existing
	}
	return existing, seen, nil
}

func (e *Engine) handlePropose(from committee.NodeID, v *types.Vertex) error {
	m, ok := e.c.Member(v.Author)
	if !ok || !v.VerifySignature(m.PublicKey) {
		e.log.Warn("rejecting vertex with invalid signature", "author", v.Author, "round", v.Round)
		return nil
	}

	digest := v.Digest()
	k := key{v.Round, v.Author}
	if existing, seen, err := e.priorVote(k); err != nil {
		return err
	} else if seen && existing != digest {
		e.log.Warn("equivocation detected, refusing to vote", "author", v.Author, "round", v.Round)
		return nil
	}
	if e.store.Contains(digest) {
		return nil // already certified and delivered
	}

	if missing := e.store.MissingParents(v); len(missing) > 0 {
		e.bufferAwaiting(from, digest, v, missing)
		return nil
	}

	if err := e.store.ValidateParents(v); err != nil {
		e.log.Warn("rejecting structurally invalid vertex", "author", v.Author, "round", v.Round, "err", err)
		return nil
	}

	if e.votes != nil {
		if err := e.votes.RecordVote(v.Round, v.Author, digest); err != nil {
			return fmt.Errorf("rbroadcast: persist vote for author %v round %d: %w", v.Author, v.Round, err)
		}
	}
	e.votedFor[k] = digest
	p, ok := e.pendingByDigest[digest]
	if !ok {
		p = &pending{vertex: v, votes: make(map[committee.NodeID][]byte)}
		e.pendingByDigest[digest] = p
	}

	sig := ed25519.Sign(e.sk, digest[:])
	p.votes[e.self] = sig
	vote := &types.Vote{Digest: digest, Voter: e.self, Sig: sig}
	frame, err := types.EncodeFrame(vote)
	if err != nil {
		return err
	}
	if err := e.net.SendTo(v.Author, frame); err != nil {
		return err
	}
	return e.tryCertify(digest)
}

func (e *Engine) handleVote(from committee.NodeID, v *types.Vote) error {
	m, ok := e.c.Member(v.Voter)
	if !ok || !ed25519.Verify(m.PublicKey, v.Digest[:], v.Sig) {
		e.log.Warn("rejecting vote with invalid signature", "voter", v.Voter)
		return nil
	}
	p, ok := e.pendingByDigest[v.Digest]
	if !ok {
		return nil // vote for a vertex we are not (or no longer) brokering
	}
	p.votes[v.Voter] = v.Sig
	return e.tryCertify(v.Digest)
}

// tryCertify forms and multicasts a CERT once p's vote set reaches
// quorum, then delivers the now-certified vertex into the DAG store.
func (e *Engine) tryCertify(digest ids.ID) error {
	p, ok := e.pendingByDigest[digest]
	if !ok || len(p.votes) < e.c.Quorum() {
		return nil
	}
	coa := coaFrom(digest, p.votes)
	if err := e.deliver(p.vertex, coa); err != nil {
		return err
	}
	frame, err := types.EncodeFrame(&types.Cert{CoA: coa})
	if err != nil {
		return err
	}
	return e.net.Broadcast(frame)
}

func coaFrom(digest ids.ID, votes map[committee.NodeID][]byte) *types.CertificateOfAvailability {
	signers := make([]types.Signer, 0, len(votes))
	for node, sig := range votes {
		signers = append(signers, types.Signer{Node: node, Signature: sig})
	}
	return &types.CertificateOfAvailability{Digest: digest, Signers: signers}
}

func (e *Engine) handleCert(m *types.Cert) error {
	if !m.CoA.Verify(e.c) {
		e.log.Warn("rejecting CERT with invalid certificate", "digest", m.CoA.Digest)
		return nil
	}
	p, ok := e.pendingByDigest[m.CoA.Digest]
	if !ok {
		return nil // we have not seen the vertex this CERT certifies; SYNC will catch us up
	}
	return e.deliver(p.vertex, m.CoA)
}

func (e *Engine) deliver(v *types.Vertex, coa *types.CertificateOfAvailability) error {
	if e.store.Contains(v.Digest()) {
		delete(e.pendingByDigest, v.Digest())
		return nil
	}
	if err := e.store.Insert(v, coa); err != nil {
		return err
	}
	delete(e.pendingByDigest, v.Digest())
	cv, _ := e.store.Get(v.Digest())
	if e.onNew != nil {
		e.onNew(cv)
	}
	e.resolveAwaiting()
	return nil
}

// bufferAwaiting parks v until its missing parents arrive, and issues a
// single SYNC_REQ per missing digest to the peer that sent us v.
func (e *Engine) bufferAwaiting(from committee.NodeID, digest ids.ID, v *types.Vertex, missing []ids.ID) {
	e.awaiting[digest] = v
	var need []ids.ID
	for _, d := range missing {
		if !e.requested[d] {
			e.requested[d] = true
			need = append(need, d)
		}
	}
	if len(need) == 0 {
		e.missingCount[digest] = len(missing)
		return
	}
	e.missingCount[digest] = len(missing)
	frame, err := types.EncodeFrame(&types.SyncReq{Digests: need})
	if err != nil {
		e.log.Error("failed to encode SYNC_REQ", "err", err)
		return
	}
	if err := e.net.SendTo(from, frame); err != nil {
		e.log.Error("failed to send SYNC_REQ", "to", from, "err", err)
	}
}

func (e *Engine) handleSyncReq(from committee.NodeID, req *types.SyncReq) error {
	var found []types.CertifiedVertex
	for _, d := range req.Digests {
		if cv, ok := e.store.Get(d); ok {
			found = append(found, *cv)
		}
	}
	if len(found) == 0 {
		return nil
	}
	frame, err := types.EncodeFrame(&types.SyncResp{Vertices: found})
	if err != nil {
		return err
	}
	return e.net.SendTo(from, frame)
}

func (e *Engine) handleSyncResp(resp *types.SyncResp) error {
	for i := range resp.Vertices {
		cv := resp.Vertices[i]
		delete(e.requested, cv.Vertex.Digest())
		if e.store.Contains(cv.Vertex.Digest()) {
			continue
		}
		if !cv.CoA.Verify(e.c) {
			e.log.Warn("rejecting SYNC_RESP entry with invalid certificate", "digest", cv.Vertex.Digest())
			continue
		}
		if err := e.store.Insert(cv.Vertex, cv.CoA); err != nil {
			e.log.Warn("failed to insert SYNC_RESP vertex", "digest", cv.Vertex.Digest(), "err", err)
			continue
		}
		got, _ := e.store.Get(cv.Vertex.Digest())
		if e.onNew != nil {
			e.onNew(got)
		}
		e.resolveAwaiting()
	}
	return nil
}

// resolveAwaiting re-attempts every buffered vertex whose missing-parent
// set is now fully satisfied.
func (e *Engine) resolveAwaiting() {
	var ready []ids.ID
	for digest, v := range e.awaiting {
		if len(e.store.MissingParents(v)) == 0 {
			ready = append(ready, digest)
		}
	}
	for _, digest := range ready {
		v := e.awaiting[digest]
		delete(e.awaiting, digest)
		delete(e.missingCount, digest)
		if err := e.handlePropose(v.Author, v); err != nil {
			e.log.Error("failed to reprocess resolved vertex", "digest", digest, "err", err)
		}
	}
}
