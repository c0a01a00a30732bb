// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package net

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	lxlog "github.com/luxfi/log"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/dagrider/node/committee"
)

// frameInfo is the HKDF info label binding derived keys to this
// protocol and version, so a PSK reused elsewhere can never produce
// the same stream key.
var frameInfo = []byte("dagrider-tcp-frame-v1")

// TCPConfig configures the length-prefixed TCP transport.
type TCPConfig struct {
	// ListenAddr is this node's own accept address (host:port).
	ListenAddr string
	// Peers maps every other committee member to its dial address.
	Peers map[committee.NodeID]string
	// PSK is a cluster-wide pre-shared secret used to derive the
	// AEAD key every connection seals and opens frames with. It is
	// never sent over the wire.
	PSK []byte
	// DialRetry is how long to wait between reconnect attempts to a
	// peer that is not currently reachable.
	DialRetry time.Duration
	// InboxCapacity bounds the received-but-not-yet-consumed queue;
	// Mem's backpressure-at-sender reasoning applies here too.
	InboxCapacity int
}

// TCP is a Transport backed by one persistent outbound connection per
// peer plus one accept loop for inbound connections, all frames sealed
// with a cluster PSK-derived ChaCha20-Poly1305 key. Grounded on
// qzmq/qzmq.go's choice of AEAD (the same chacha20poly1305 + hkdf
// pair) for the real, classical half of its handshake; this transport
// skips qzmq's hybrid ML-KEM/ML-DSA post-quantum key exchange (stubbed
// there with random bytes rather than a real implementation) in favor
// of one static cluster secret distributed out of band, and uses a
// random 12-byte nonce per frame rather than a send counter so a
// restarted node can never reuse a nonce under the same derived key.
type TCP struct {
	self committee.NodeID
	cfg  TCPConfig
	aead cipher.AEAD
	log  lxlog.Logger

	ln net.Listener

	mu    sync.Mutex
	conns map[committee.NodeID]net.Conn

	in     chan Envelope
	closed chan struct{}
}

// NewTCP starts listening on cfg.ListenAddr and begins dialing every
// peer in cfg.Peers, retrying on failure. It returns once the listener
// is up; outbound connections complete asynchronously.
func NewTCP(self committee.NodeID, cfg TCPConfig, log lxlog.Logger) (*TCP, error) {
	key, err := deriveKey(cfg.PSK)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("net: build AEAD: %w", err)
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("net: listen %s: %w", cfg.ListenAddr, err)
	}
	if cfg.DialRetry == 0 {
		cfg.DialRetry = time.Second
	}
	t := &TCP{
		self:   self,
		cfg:    cfg,
		aead:   aead,
		log:    log,
		ln:     ln,
		conns:  make(map[committee.NodeID]net.Conn),
		in:     make(chan Envelope, cfg.InboxCapacity),
		closed: make(chan struct{}),
	}
	go t.acceptLoop()
	for id, addr := range cfg.Peers {
		go t.dialLoop(id, addr)
	}
	return t, nil
}

func deriveKey(psk []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, psk, nil, frameInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("net: derive key: %w", err)
	}
	return key, nil
}

func (t *TCP) Self() committee.NodeID { return t.self }

func (t *TCP) SendTo(to committee.NodeID, frame []byte) error {
	t.mu.Lock()
	conn, ok := t.conns[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("net: no connection to peer %v", to)
	}
	return writeSealed(conn, t.aead, frame)
}

func (t *TCP) Broadcast(frame []byte) error {
	t.mu.Lock()
	conns := make(map[committee.NodeID]net.Conn, len(t.conns))
	for id, c := range t.conns {
		conns[id] = c
	}
	t.mu.Unlock()
	for id, c := range conns {
		if err := writeSealed(c, t.aead, frame); err != nil {
			t.log.Warn("broadcast write failed", "peer", id, "err", err)
		}
	}
	return nil
}

func (t *TCP) Inbox() <-chan Envelope { return t.in }

func (t *TCP) Close() error {
	close(t.closed)
	err := t.ln.Close()
	t.mu.Lock()
	for _, c := range t.conns {
		c.Close()
	}
	t.mu.Unlock()
	return err
}

func (t *TCP) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.log.Warn("accept failed", "err", err)
				return
			}
		}
		go t.handleConn(conn)
	}
}

func (t *TCP) dialLoop(id committee.NodeID, addr string) {
	for {
		select {
		case <-t.closed:
			return
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			time.Sleep(t.cfg.DialRetry)
			continue
		}
		if err := announceSelf(conn, t.self); err != nil {
			conn.Close()
			time.Sleep(t.cfg.DialRetry)
			continue
		}
		t.mu.Lock()
		t.conns[id] = conn
		t.mu.Unlock()
		t.readLoop(id, conn)

		t.mu.Lock()
		delete(t.conns, id)
		t.mu.Unlock()
		time.Sleep(t.cfg.DialRetry)
	}
}

// handleConn services one inbound connection: the first bytes identify
// the peer, after which frames flow exactly as on an outbound link.
func (t *TCP) handleConn(conn net.Conn) {
	id, err := readSelfAnnouncement(conn)
	if err != nil {
		conn.Close()
		return
	}
	t.mu.Lock()
	t.conns[id] = conn
	t.mu.Unlock()
	t.readLoop(id, conn)
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *TCP) readLoop(id committee.NodeID, conn net.Conn) {
	for {
		frame, err := readSealed(conn, t.aead)
		if err != nil {
			if err != io.EOF {
				t.log.Warn("connection read failed", "peer", id, "err", err)
			}
			conn.Close()
			return
		}
		select {
		case t.in <- Envelope{From: id, Frame: frame}:
		default:
			t.log.Warn("inbox full, dropping frame", "peer", id)
		}
	}
}

func announceSelf(conn net.Conn, self committee.NodeID) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(self))
	_, err := conn.Write(buf[:])
	return err
}

func readSelfAnnouncement(conn net.Conn) (committee.NodeID, error) {
	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return committee.NodeID(binary.BigEndian.Uint32(buf[:])), nil
}

// writeSealed seals frame under a fresh random nonce and writes
// [4-byte length][nonce][ciphertext] to conn.
func writeSealed(conn net.Conn, aead cipher.AEAD, frame []byte) error {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("net: generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, frame, nil)
	record := make([]byte, 0, 4+len(nonce)+len(sealed))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nonce)+len(sealed)))
	record = append(record, lenBuf[:]...)
	record = append(record, nonce...)
	record = append(record, sealed...)
	_, err := conn.Write(record)
	return err
}

// readSealed reads one [length][nonce][ciphertext] record from conn and
// returns the opened frame.
func readSealed(conn net.Conn, aead cipher.AEAD) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	nonceSize := aead.NonceSize()
	if int(n) < nonceSize {
		return nil, fmt.Errorf("net: record shorter than nonce")
	}
	nonce, ciphertext := body[:nonceSize], body[nonceSize:]
	return aead.Open(nil, nonce, ciphertext, nil)
}
