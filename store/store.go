// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store is the node's durable persistence layer: the three
// column families of §persistence, kept in one on-disk key space and
// addressed by key prefix rather than by separate database handles
// (grounded on engine/dag/state/state.go's single database.Database
// handle wrapped by a narrow, domain-specific accessor type).
//
//   - vertices: digest -> encoded certified vertex, so a restarted node
//     can repopulate its DAG store without re-running reliable
//     broadcast for anything it already certified.
//   - votes_outgoing: (round, author) -> last vote digest, so a
//     restarted node never equivocates by voting for a second,
//     conflicting vertex from the same author at a round it already
//     voted in before crashing.
//   - commit_cursor: a singleton record of the last committed wave and
//     its leader digest, so a restarted node resumes commit evaluation
//     without replaying waves it already delivered to the executor.
//
// Every Put in this package is assumed durable before it returns: the
// underlying database.Database is opened against a LevelDB engine that
// syncs each write to its write-ahead log, matching the persistence
// policy's "fsync'd before the node acts externally" requirement. This
// package does not itself expose a sync flag because the
// github.com/luxfi/database.Database interface (an external,
// unvendored dependency, used here the way luxfi-adx's pkg/storage
// wraps it) does not surface one either; see DESIGN.md.
package store

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/leveldb"
	"github.com/luxfi/ids"
	lxlog "github.com/luxfi/log"

	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/types"
)

const (
	prefixVertex byte = 'v'
	prefixVote   byte = 'o'
	prefixCursor byte = 'c'
)

var cursorKey = []byte{prefixCursor}

// Config points the store at its on-disk location.
type Config struct {
	// Dir is the LevelDB directory. It is created if it does not exist.
	Dir string
}

// iterator is the slice of database.Iterator this package uses.
type iterator interface {
	Next() bool
	Value() []byte
	Error() error
	Release()
}

// kv is the slice of database.Database this package depends on. Any
// database.Database satisfies it structurally, so Open wires a real
// LevelDB-backed instance while tests can supply a minimal fake without
// reimplementing the full upstream interface.
type kv interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Close() error
	NewIteratorWithPrefix(prefix []byte) iterator
}

// Store is the durable KV-backed persistence layer. It holds no
// in-memory copy of its contents: every accessor round-trips through
// the underlying database.Database.
type Store struct {
	db kv
}

// New wraps an already-open database.Database (or, in tests, a fake
// satisfying the same narrow interface) as a Store.
func New(db kv) *Store {
	return &Store{db: db}
}

// Open opens (creating if necessary) the LevelDB-backed store at
// cfg.Dir. The returned Store must be closed with Close when the node
// shuts down.
func Open(cfg Config, log lxlog.Logger) (*Store, error) {
	db, err := leveldb.New(cfg.Dir, nil, log, "", nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Dir, err)
	}
	return New(dbAdapter{db}), nil
}

// dbAdapter narrows a real database.Database down to kv, converting
// its database.Iterator return value to this package's iterator.
type dbAdapter struct {
	database.Database
}

func (a dbAdapter) NewIteratorWithPrefix(prefix []byte) iterator {
	return a.Database.NewIteratorWithPrefix(prefix)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutVertex durably records a certified vertex under its digest.
func (s *Store) PutVertex(cv *types.CertifiedVertex) error {
	digest := cv.Vertex.Digest()
	key := append([]byte{prefixVertex}, digest[:]...)
	return s.db.Put(key, types.EncodeCertifiedVertex(cv))
}

// GetVertex looks up a previously persisted certified vertex by digest.
func (s *Store) GetVertex(digest ids.ID) (*types.CertifiedVertex, bool, error) {
	key := append([]byte{prefixVertex}, digest[:]...)
	has, err := s.db.Has(key)
	if err != nil || !has {
		return nil, false, err
	}
	buf, err := s.db.Get(key)
	if err != nil {
		return nil, false, err
	}
	cv, err := types.DecodeCertifiedVertex(buf)
	if err != nil {
		return nil, false, fmt.Errorf("store: corrupt vertex record %s: %w", digest, err)
	}
	return cv, true, nil
}

// LoadVertices replays every persisted certified vertex through fn, in
// undefined order. It is used at startup to repopulate an in-memory
// dagstore.Store without re-running reliable broadcast.
func (s *Store) LoadVertices(fn func(*types.CertifiedVertex) error) error {
	it := s.db.NewIteratorWithPrefix([]byte{prefixVertex})
	defer it.Release()
	for it.Next() {
		cv, err := types.DecodeCertifiedVertex(it.Value())
		if err != nil {
			return fmt.Errorf("store: corrupt vertex record: %w", err)
		}
		if err := fn(cv); err != nil {
			return err
		}
	}
	return it.Error()
}

func voteKey(round types.Round, author committee.NodeID) []byte {
	key := make([]byte, 1+8+4)
	key[0] = prefixVote
	binary.BigEndian.PutUint64(key[1:9], uint64(round))
	binary.BigEndian.PutUint32(key[9:13], uint32(author))
	return key
}

// LastVote reports the digest this node last voted for, at round from
// author, if any. A restarted node must consult this before emitting a
// vote and refuse to vote for anything else at the same (author,
// round): that is the no-equivocation guarantee a crash must not lose.
func (s *Store) LastVote(round types.Round, author committee.NodeID) (ids.ID, bool, error) {
	key := voteKey(round, author)
	has, err := s.db.Has(key)
	if err != nil || !has {
		return ids.ID{}, false, err
	}
	buf, err := s.db.Get(key)
	if err != nil {
		return ids.ID{}, false, err
	}
	var digest ids.ID
	if len(buf) != len(digest) {
		return ids.ID{}, false, fmt.Errorf("store: corrupt vote record for round %d author %d", round, author)
	}
	copy(digest[:], buf)
	return digest, true, nil
}

// RecordVote durably records that this node voted for digest at round
// from author. Callers must consult LastVote first and refuse to call
// RecordVote with a conflicting digest for an (author, round) pair
// that already has a recorded vote.
func (s *Store) RecordVote(round types.Round, author committee.NodeID, digest ids.ID) error {
	return s.db.Put(voteKey(round, author), digest[:])
}

// CommitCursor is the durable record of the last wave this node
// delivered to the executor, and that wave's leader digest.
type CommitCursor struct {
	Wave   uint64
	Leader ids.ID
}

// CommitCursor returns the last persisted commit cursor, if any.
func (s *Store) CommitCursor() (CommitCursor, bool, error) {
	has, err := s.db.Has(cursorKey)
	if err != nil || !has {
		return CommitCursor{}, false, err
	}
	buf, err := s.db.Get(cursorKey)
	if err != nil {
		return CommitCursor{}, false, err
	}
	if len(buf) != 8+32 {
		return CommitCursor{}, false, fmt.Errorf("store: corrupt commit cursor record")
	}
	cur := CommitCursor{Wave: binary.BigEndian.Uint64(buf[:8])}
	copy(cur.Leader[:], buf[8:])
	return cur, true, nil
}

// SetCommitCursor durably advances the commit cursor. Callers must
// ensure wave only ever increases, matching the commit stream's
// monotone wave order.
func (s *Store) SetCommitCursor(wave uint64, leader ids.ID) error {
	buf := make([]byte, 8+32)
	binary.BigEndian.PutUint64(buf[:8], wave)
	copy(buf[8:], leader[:])
	return s.db.Put(cursorKey, buf)
}
