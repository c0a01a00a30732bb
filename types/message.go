// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/dagrider/node/committee"
)

// Tag identifies one of the six wire message kinds of §6. The set is
// closed and dispatch is by tag, never by dynamic type lookup.
type Tag uint8

const (
	TagPropose Tag = iota + 1
	TagVote
	TagCert
	TagSyncReq
	TagSyncResp
	TagCoinShare
)

func (t Tag) String() string {
	switch t {
	case TagPropose:
		return "PROPOSE"
	case TagVote:
		return "VOTE"
	case TagCert:
		return "CERT"
	case TagSyncReq:
		return "SYNC_REQ"
	case TagSyncResp:
		return "SYNC_RESP"
	case TagCoinShare:
		return "COIN_SHARE"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Propose carries a full, signed vertex from its author.
type Propose struct {
	Vertex *Vertex
}

// Vote is a receiver's acknowledgment that it delivered a vertex.
type Vote struct {
	Digest  ids.ID
	Voter   committee.NodeID
	Sig     []byte
}

// Cert multicasts the formed certificate of availability for a vertex.
type Cert struct {
	CoA *CertificateOfAvailability
}

// SyncReq asks any peer for the named vertices by digest.
type SyncReq struct {
	Digests []ids.ID
}

// SyncResp answers a SyncReq with fully certified vertices.
type SyncResp struct {
	Vertices []CertifiedVertex
}

// CoinShare carries one committee seat's partial contribution to the
// shared coin for round (§4.A "coin.share(round) → partial"), gossiped
// so every node can accumulate a 2f+1 quorum and combine it
// independently. Value is the big-endian encoding of the partial's
// group element (coin.Partial.Value).
type CoinShare struct {
	Round Round
	From  committee.NodeID
	Value []byte
}

// Frame is one self-delimited, length-prefixed wire frame: a tag byte
// followed by a tag-specific encoding.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// EncodeFrame serializes msg (one of Propose/Vote/Cert/SyncReq/SyncResp/CoinShare)
// into a length-prefixed frame ready to write to a stream transport.
func EncodeFrame(msg interface{}) ([]byte, error) {
	var tag Tag
	var body []byte

	switch m := msg.(type) {
	case *Propose:
		tag = TagPropose
		body = append(EncodeVertex(m.Vertex), m.Vertex.Signature...)
	case *Vote:
		tag = TagVote
		body = append(append([]byte{}, m.Digest[:]...), encodeSigner(m.Voter, m.Sig)...)
	case *Cert:
		tag = TagCert
		body = encodeCoA(m.CoA)
	case *SyncReq:
		tag = TagSyncReq
		body = encodeIDs(m.Digests)
	case *SyncResp:
		tag = TagSyncResp
		body = encodeCertifiedVertices(m.Vertices)
	case *CoinShare:
		tag = TagCoinShare
		body = encodeCoinShare(m)
	default:
		return nil, fmt.Errorf("types: unknown message type %T", msg)
	}

	out := make([]byte, 0, 9+len(body))
	out = append(out, byte(tag))
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out, nil
}

// DecodeFrame parses the body of a single frame (tag already stripped and
// resolved by the caller's framing layer) back into a typed message.
func DecodeFrame(tag Tag, body []byte) (interface{}, error) {
	switch tag {
	case TagPropose:
		return decodePropose(body)
	case TagVote:
		return decodeVote(body)
	case TagCert:
		coa, err := decodeCoA(body)
		if err != nil {
			return nil, err
		}
		return &Cert{CoA: coa}, nil
	case TagSyncReq:
		r := &reader{buf: body}
		digests := r.idList()
		if r.err != nil {
			return nil, r.err
		}
		return &SyncReq{Digests: digests}, nil
	case TagSyncResp:
		return decodeSyncResp(body)
	case TagCoinShare:
		return decodeCoinShare(body)
	default:
		return nil, fmt.Errorf("types: unknown frame tag %d", tag)
	}
}

func encodeCoinShare(m *CoinShare) []byte {
	out := make([]byte, 0, 8+4+8+len(m.Value))
	out = appendUint64(out, uint64(m.Round))
	out = appendUint32(out, uint32(m.From))
	out = appendUint64(out, uint64(len(m.Value)))
	out = append(out, m.Value...)
	return out
}

func decodeCoinShare(body []byte) (*CoinShare, error) {
	r := &reader{buf: body}
	round := Round(r.uint64())
	from := committee.NodeID(r.uint32())
	n := r.uint64()
	if r.err != nil || !r.need(int(n)) {
		return nil, fmt.Errorf("types: truncated COIN_SHARE frame")
	}
	value := append([]byte{}, r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return &CoinShare{Round: round, From: from, Value: value}, nil
}

func encodeSigner(node committee.NodeID, sig []byte) []byte {
	out := make([]byte, 0, 4+8+len(sig))
	out = appendUint32(out, uint32(node))
	out = appendUint64(out, uint64(len(sig)))
	out = append(out, sig...)
	return out
}

func decodeSigner(r *reader) (committee.NodeID, []byte) {
	node := committee.NodeID(r.uint32())
	n := r.uint64()
	if r.err != nil || !r.need(int(n)) {
		return node, nil
	}
	sig := append([]byte{}, r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return node, sig
}

func decodePropose(body []byte) (*Propose, error) {
	v, err := DecodeVertex(body)
	if err != nil {
		return nil, err
	}
	used := len(EncodeVertex(v))
	if used > len(body) {
		return nil, fmt.Errorf("types: truncated PROPOSE frame")
	}
	v.Signature = append([]byte{}, body[used:]...)
	return &Propose{Vertex: v}, nil
}

func decodeVote(body []byte) (*Vote, error) {
	r := &reader{buf: body}
	if !r.need(32) {
		return nil, r.err
	}
	var digest ids.ID
	copy(digest[:], r.buf[r.off:r.off+32])
	r.off += 32
	node, sig := decodeSigner(r)
	if r.err != nil {
		return nil, r.err
	}
	return &Vote{Digest: digest, Voter: node, Sig: sig}, nil
}

func encodeCoA(coa *CertificateOfAvailability) []byte {
	out := make([]byte, 0, 32+4+len(coa.Signers)*72)
	out = append(out, coa.Digest[:]...)
	out = appendUint32(out, uint32(len(coa.Signers)))
	for _, s := range coa.Signers {
		out = append(out, encodeSigner(s.Node, s.Signature)...)
	}
	return out
}

func decodeCoA(body []byte) (*CertificateOfAvailability, error) {
	r := &reader{buf: body}
	if !r.need(32) {
		return nil, r.err
	}
	var digest ids.ID
	copy(digest[:], r.buf[r.off:r.off+32])
	r.off += 32
	count := r.uint32()
	signers := make([]Signer, 0, count)
	for i := uint32(0); i < count && r.err == nil; i++ {
		node, sig := decodeSigner(r)
		signers = append(signers, Signer{Node: node, Signature: sig})
	}
	if r.err != nil {
		return nil, r.err
	}
	return &CertificateOfAvailability{Digest: digest, Signers: signers}, nil
}

func encodeIDs(ids []ids.ID) []byte {
	return appendIDList(nil, ids)
}

func encodeCertifiedVertices(cvs []CertifiedVertex) []byte {
	out := appendUint32(nil, uint32(len(cvs)))
	for _, cv := range cvs {
		vbuf := EncodeVertex(cv.Vertex)
		out = appendUint64(out, uint64(len(vbuf)))
		out = append(out, vbuf...)
		out = appendUint64(out, uint64(len(cv.Vertex.Signature)))
		out = append(out, cv.Vertex.Signature...)
		out = append(out, encodeCoA(cv.CoA)...)
	}
	return out
}

func decodeSyncResp(body []byte) (*SyncResp, error) {
	r := &reader{buf: body}
	count := r.uint32()
	out := make([]CertifiedVertex, 0, count)
	for i := uint32(0); i < count && r.err == nil; i++ {
		vlen := r.uint64()
		if !r.need(int(vlen)) {
			break
		}
		v, err := DecodeVertex(r.buf[r.off : r.off+int(vlen)])
		if err != nil {
			return nil, err
		}
		r.off += int(vlen)
		slen := r.uint64()
		if !r.need(int(slen)) {
			break
		}
		v.Signature = append([]byte{}, r.buf[r.off:r.off+int(slen)]...)
		r.off += int(slen)

		// CoA occupies the remainder of this entry; decode it in place by
		// constructing a sub-reader view anchored at the current offset.
		coaStart := r.off
		digestEnd := coaStart + 32
		if !r.need(32) {
			break
		}
		var digest ids.ID
		copy(digest[:], r.buf[coaStart:digestEnd])
		r.off = digestEnd
		signerCount := r.uint32()
		signers := make([]Signer, 0, signerCount)
		for j := uint32(0); j < signerCount && r.err == nil; j++ {
			node, sig := decodeSigner(r)
			signers = append(signers, Signer{Node: node, Signature: sig})
		}
		if r.err != nil {
			return nil, r.err
		}
		out = append(out, CertifiedVertex{Vertex: v, CoA: &CertificateOfAvailability{Digest: digest, Signers: signers}})
	}
	if r.err != nil {
		return nil, r.err
	}
	return &SyncResp{Vertices: out}, nil
}

// EncodeCertifiedVertex serializes a single certified vertex with the same
// deterministic wire codec used for sync responses, for use by the
// persistence layer's vertices column family.
func EncodeCertifiedVertex(cv *CertifiedVertex) []byte {
	return encodeCertifiedVertices([]CertifiedVertex{*cv})
}

// DecodeCertifiedVertex is the inverse of EncodeCertifiedVertex.
func DecodeCertifiedVertex(buf []byte) (*CertifiedVertex, error) {
	resp, err := decodeSyncResp(buf)
	if err != nil {
		return nil, err
	}
	if len(resp.Vertices) != 1 {
		return nil, fmt.Errorf("types: expected exactly one certified vertex, got %d", len(resp.Vertices))
	}
	return &resp.Vertices[0], nil
}
