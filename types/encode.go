// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/luxfi/ids"

	"github.com/dagrider/node/committee"
)

// CodecVersion tags the wire format, mirroring the versioned-codec
// convention used elsewhere in the committee's consensus libraries so a
// future format change can be introduced without breaking old frames.
type CodecVersion uint16

// CurrentVersion is the only version this build emits or accepts.
const CurrentVersion CodecVersion = 0

// EncodeVertex produces the canonical, deterministic byte encoding of v.
// The encoding is used both as the signing message's preimage (via
// hashVertex) and as the wire representation carried in PROPOSE/SYNC_RESP.
func EncodeVertex(v *Vertex) []byte {
	buf := make([]byte, 0, 128+32*(len(v.Payload)+len(v.StrongParents)+len(v.WeakParents)))
	buf = appendUint16(buf, uint16(CurrentVersion))
	buf = appendUint64(buf, uint64(v.Round))
	buf = appendUint32(buf, uint32(v.Author))
	buf = appendIDList(buf, v.Payload)
	buf = appendIDList(buf, sortedIDs(v.StrongParents))
	buf = appendIDList(buf, sortedIDs(v.WeakParents))
	return buf
}

// DecodeVertex parses a buffer produced by EncodeVertex. It does not
// populate Signature; callers that need the signature decode it
// separately (PROPOSE frames append it after the structural encoding).
func DecodeVertex(buf []byte) (*Vertex, error) {
	r := &reader{buf: buf}
	version := CodecVersion(r.uint16())
	if version != CurrentVersion {
		return nil, fmt.Errorf("types: unsupported codec version %d", version)
	}
	v := &Vertex{
		Round:  Round(r.uint64()),
		Author: committee.NodeID(r.uint32()),
	}
	v.Payload = r.idList()
	v.StrongParents = r.idList()
	v.WeakParents = r.idList()
	if r.err != nil {
		return nil, r.err
	}
	return v, nil
}

// hashVertex computes SHA-256 over the canonical encoding, matching §3's
// "digest is the hash of (round, author, payload, strong_parents,
// weak_parents)".
func hashVertex(v *Vertex) [32]byte {
	return sha256.Sum256(EncodeVertex(v))
}

func sortedIDs(ids []ids_ID) []ids_ID {
	out := make([]ids_ID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// ids_ID is a local alias so sortedIDs reads naturally; it is exactly ids.ID.
type ids_ID = ids.ID

func less(a, b ids_ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendIDList(buf []byte, list []ids.ID) []byte {
	buf = appendUint32(buf, uint32(len(list)))
	for _, id := range list {
		buf = append(buf, id[:]...)
	}
	return buf
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("types: truncated buffer, need %d more bytes at offset %d", n, r.off)
		return false
	}
	return true
}

func (r *reader) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) idList() []ids.ID {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	out := make([]ids.ID, 0, n)
	for i := uint32(0); i < n; i++ {
		if !r.need(32) {
			return nil
		}
		var id ids.ID
		copy(id[:], r.buf[r.off:r.off+32])
		r.off += 32
		out = append(out, id)
	}
	return out
}
