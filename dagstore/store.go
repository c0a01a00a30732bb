// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dagstore is the per-node append-only view of the DAG (§4.C):
// a round-indexed buffer of delivered, certified vertices, the parent
// and round-monotonicity invariants of §3, and the causal-history and
// reachability queries the Consensus Core's commit rule depends on.
//
// Grounded on dag/dag.go's round-indexed tip-tracking DAG and
// core/dag/flare.go's certificate/skip support-counting helpers,
// generalized from a single global "next round" count to the full
// parent-set and causal-history machinery §4.C needs.
package dagstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/ids"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/types"
)

var (
	// ErrEquivocation is returned by Insert when a different vertex is
	// already stored for the same (author, round).
	ErrEquivocation = errors.New("dagstore: equivocating author for round")
	// ErrMissingParent is returned when a referenced parent has not been
	// delivered with a valid CoA yet.
	ErrMissingParent = errors.New("dagstore: parent not yet delivered")
	// ErrInvariantViolation covers the structural checks of §3 invariant 3
	// (strong-parent cardinality, round, and distinctness).
	ErrInvariantViolation = errors.New("dagstore: DAG invariant violation")
	// ErrInvalidCoA is returned when the certificate does not carry a
	// quorum of valid, distinct signatures.
	ErrInvalidCoA = errors.New("dagstore: invalid certificate of availability")
)

// roundAuthor keys the per-round index.
type roundAuthor struct {
	round  types.Round
	author committee.NodeID
}

// Store is the single owner of a node's DAG view (§5: one owning task).
// It is safe for concurrent use, but the intended deployment is a single
// "DAG Store owner" goroutine serializing access via its own message loop;
// the mutex exists for tests and for the RB layer's synchronous queries.
type Store struct {
	mu  sync.RWMutex
	c   *committee.Committee
	gc  int // rounds to retain below the committed frontier (wave_length * 2)

	byDigest     map[ids.ID]*types.CertifiedVertex
	byRoundAuth  map[roundAuthor]ids.ID
	certCount    map[types.Round]int
	committed    map[ids.ID]bool
	lowestRound  types.Round
	committedMax types.Round
}

// New creates an empty Store for committee c. gcSafetyWaves is the number
// of waves of history retained below the latest committed leader round
// (spec.md default: two waves).
func New(c *committee.Committee, gcSafetyWaves int) *Store {
	s := &Store{
		c:           c,
		gc:          gcSafetyWaves * 4,
		byDigest:    make(map[ids.ID]*types.CertifiedVertex),
		byRoundAuth: make(map[roundAuthor]ids.ID),
		certCount:   make(map[types.Round]int),
		committed:   make(map[ids.ID]bool),
	}
	s.seedGenesis()
	return s
}

// seedGenesis records the implicit, CoA-free genesis vertices (invariant 5)
// so parent-presence checks on round-1 vertices succeed from the start.
func (s *Store) seedGenesis() {
	for _, m := range s.c.Members() {
		g := types.GenesisVertex(m.ID)
		d := g.Digest()
		s.byDigest[d] = &types.CertifiedVertex{Vertex: g, CoA: nil}
		s.byRoundAuth[roundAuthor{0, m.ID}] = d
	}
	s.certCount[0] = s.c.N()
}

// Insert adds a certified vertex to the store, enforcing the DAG
// invariants of §3. Genesis-referencing vertices need no CoA check on
// their parents (genesis has none), but the vertex itself (round >= 1)
// always needs a valid CoA unless it is genesis.
func (s *Store) Insert(v *types.Vertex, coa *types.CertificateOfAvailability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.Round == 0 {
		return nil // genesis is seeded, never (re)inserted
	}

	digest := v.Digest()

	key := roundAuthor{v.Round, v.Author}
	if existing, ok := s.byRoundAuth[key]; ok {
		if existing != digest {
			return fmt.Errorf("%w: author=%v round=%d", ErrEquivocation, v.Author, v.Round)
		}
		return nil // already delivered
	}

	if coa == nil || coa.Digest != digest || !coa.Verify(s.c) {
		return ErrInvalidCoA
	}

	if err := s.checkParentInvariants(v); err != nil {
		return err
	}

	s.byDigest[digest] = &types.CertifiedVertex{Vertex: v, CoA: coa}
	s.byRoundAuth[key] = digest
	s.certCount[v.Round]++
	return nil
}

// ValidateParents runs the structural checks of §3 (strong-parent
// cardinality, round, and distinctness, plus weak-parent rounds) against
// the vertices already in the store, without requiring v itself to carry
// a certificate of availability yet. The reliable-broadcast layer calls
// this before voting on a freshly received PROPOSE, since a vote is what
// produces the CoA Insert later requires.
func (s *Store) ValidateParents(v *types.Vertex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkParentInvariants(v)
}

// MissingParents returns the subset of v's strong and weak parents not
// yet present in the store, in PROPOSE order. An empty result means
// every parent has been delivered, though not necessarily valid.
func (s *Store) MissingParents(v *types.Vertex) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []ids.ID
	for _, pd := range v.StrongParents {
		if _, ok := s.byDigest[pd]; !ok {
			missing = append(missing, pd)
		}
	}
	for _, pd := range v.WeakParents {
		if _, ok := s.byDigest[pd]; !ok {
			missing = append(missing, pd)
		}
	}
	return missing
}

func (s *Store) checkParentInvariants(v *types.Vertex) error {
	if len(v.StrongParents) < s.c.Quorum() {
		return fmt.Errorf("%w: only %d strong parents, need %d", ErrInvariantViolation, len(v.StrongParents), s.c.Quorum())
	}
	authors := make(map[committee.NodeID]bool, len(v.StrongParents))
	for _, pd := range v.StrongParents {
		parent, ok := s.byDigest[pd]
		if !ok {
			return fmt.Errorf("%w: strong parent %s", ErrMissingParent, pd)
		}
		if parent.Vertex.Round != v.Round-1 {
			return fmt.Errorf("%w: strong parent not from round-1", ErrInvariantViolation)
		}
		if authors[parent.Vertex.Author] {
			return fmt.Errorf("%w: duplicate strong-parent author", ErrInvariantViolation)
		}
		authors[parent.Vertex.Author] = true
	}
	if len(authors) < s.c.Quorum() {
		return fmt.Errorf("%w: strong parents not from %d distinct authors", ErrInvariantViolation, s.c.Quorum())
	}
	for _, pd := range v.WeakParents {
		parent, ok := s.byDigest[pd]
		if !ok {
			return fmt.Errorf("%w: weak parent %s", ErrMissingParent, pd)
		}
		if parent.Vertex.Round >= v.Round-1 {
			return fmt.Errorf("%w: weak parent must be from round < round-1", ErrInvariantViolation)
		}
	}
	return nil
}

// Contains reports whether digest has been delivered.
func (s *Store) Contains(digest ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byDigest[digest]
	return ok
}

// Get returns the certified vertex for digest, if delivered.
func (s *Store) Get(digest ids.ID) (*types.CertifiedVertex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cv, ok := s.byDigest[digest]
	return cv, ok
}

// At returns the certified vertex authored by author at round, if any.
func (s *Store) At(round types.Round, author committee.NodeID) (*types.CertifiedVertex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	digest, ok := s.byRoundAuth[roundAuthor{round, author}]
	if !ok {
		return nil, false
	}
	cv, ok := s.byDigest[digest]
	return cv, ok
}

// CountCertified returns the number of distinct authors with a certified
// vertex at round.
func (s *Store) CountCertified(round types.Round) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.certCount[round]
}

// CertifiedAuthors returns the certified vertices at round, in author order.
func (s *Store) CertifiedAuthors(round types.Round) []*types.CertifiedVertex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.CertifiedVertex, 0, s.c.N())
	for i := 1; i <= s.c.N(); i++ {
		id, ok := s.byRoundAuth[roundAuthor{round, committee.NodeID(i)}]
		if !ok {
			continue
		}
		out = append(out, s.byDigest[id])
	}
	return out
}

// StrongParentDigests returns 2f+1 certified round-r digests suitable to
// become the strong parents of a round-(r+1) vertex, or false if fewer
// than quorum are certified.
func (s *Store) StrongParentDigests(round types.Round) ([]ids.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ids.ID
	for i := 1; i <= s.c.N(); i++ {
		id, ok := s.byRoundAuth[roundAuthor{round, committee.NodeID(i)}]
		if ok {
			out = append(out, id)
		}
	}
	if len(out) < s.c.Quorum() {
		return nil, false
	}
	return out, true
}

// IsPath reports whether u is reachable from v by following strong and
// weak parent edges — i.e. whether u is in v's causal history. Used by
// the leader commit rule to test "does this round-(4k+2) vertex support
// the leader".
func (s *Store) IsPath(u, v ids.ID) bool {
	if u == v {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	visited := make(map[ids.ID]bool)
	stack := []ids.ID{v}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if cur == u {
			return true
		}
		cv, ok := s.byDigest[cur]
		if !ok || cv.Vertex.IsGenesis() {
			continue
		}
		stack = append(stack, cv.Vertex.StrongParents...)
		stack = append(stack, cv.Vertex.WeakParents...)
	}
	return false
}

// CausalHistory returns the transitive closure of v's parents (strong and
// weak), stopping at genesis or at vertices already marked committed, in
// the deterministic order required by §4.C: round ascending, then author
// id ascending. v itself is not included.
func (s *Store) CausalHistory(v *types.Vertex) []*types.CertifiedVertex {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := make(map[ids.ID]bool)
	var collected []*types.CertifiedVertex
	var walk func(digest ids.ID)
	walk = func(digest ids.ID) {
		if visited[digest] || s.committed[digest] {
			return
		}
		visited[digest] = true
		cv, ok := s.byDigest[digest]
		if !ok || cv.Vertex.IsGenesis() {
			return
		}
		for _, p := range cv.Vertex.StrongParents {
			walk(p)
		}
		for _, p := range cv.Vertex.WeakParents {
			walk(p)
		}
		collected = append(collected, cv)
	}
	for _, p := range v.StrongParents {
		walk(p)
	}
	for _, p := range v.WeakParents {
		walk(p)
	}

	sort.Slice(collected, func(i, j int) bool {
		a, b := collected[i].Vertex, collected[j].Vertex
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Author < b.Author
	})
	return collected
}

// MarkCommitted flags digest so future CausalHistory calls stop at it and
// never re-emit it (§4.C: "so each commit emits each vertex at most once").
func (s *Store) MarkCommitted(digest ids.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed[digest] = true
}

// IsCommitted reports whether digest has already been emitted.
func (s *Store) IsCommitted(digest ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed[digest]
}

// UndeliveredUncommitted returns all certified vertices whose round is
// strictly less than belowRound and which are not yet committed — the
// candidate pool for weak-parent selection (§4.D.1 step 2), in the
// deterministic (round, author) order the weak-parent policy requires.
func (s *Store) UndeliveredUncommitted(belowRound types.Round) []*types.CertifiedVertex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.CertifiedVertex
	for key, digest := range s.byRoundAuth {
		if key.round >= belowRound || key.round == 0 {
			continue
		}
		if s.committed[digest] {
			continue
		}
		out = append(out, s.byDigest[digest])
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Vertex, out[j].Vertex
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Author < b.Author
	})
	return out
}

// Prune discards every non-genesis vertex whose round is strictly below
// committedLeaderRound minus the gc safety window; it does nothing while
// committedLeaderRound is at or below the window.
func (s *Store) Prune(committedLeaderRound types.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(committedLeaderRound) <= s.gc {
		return
	}
	floor := committedLeaderRound - types.Round(s.gc)
	for key, digest := range s.byRoundAuth {
		if key.round == 0 || key.round >= floor {
			continue
		}
		delete(s.byRoundAuth, key)
		delete(s.byDigest, digest)
		delete(s.certCount, key.round)
	}
}
