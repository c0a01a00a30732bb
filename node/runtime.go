// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node wires the module's packages into one running process:
// the committee, durable store, DAG Store, reliable-broadcast engine,
// Consensus Core, mempool, and a net.Transport, each owned by a single
// task per §5's concurrency model. Runtime is the construction and
// lifecycle boundary; cmd/dagrider is the thinnest possible caller of it.
//
// One top-level struct holds every long-lived collaborator and exposes
// Start/Shutdown rather than letting main wire channels directly.
package node

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"math/big"
	stdnet "net"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/ids"
	lxlog "github.com/luxfi/log"

	apimetrics "github.com/dagrider/node/api/metrics"
	"github.com/dagrider/node/coin"
	"github.com/dagrider/node/committee"
	"github.com/dagrider/node/config"
	"github.com/dagrider/node/consensus"
	"github.com/dagrider/node/dagstore"
	"github.com/dagrider/node/mempool"
	dnet "github.com/dagrider/node/net"
	"github.com/dagrider/node/rbroadcast"
	"github.com/dagrider/node/store"
	"github.com/dagrider/node/types"
	"github.com/dagrider/node/utils/wrappers"
)

// Runtime owns every long-lived collaborator for one committee member
// and drives them from a small number of goroutines: one draining the
// transport's Inbox (network receiver + RB coordinator, combined since
// neither blocks the other meaningfully), one accepting client
// transactions, and the caller's own goroutine calling Start.
//
// Not safe for concurrent use beyond the documented goroutines above;
// nothing else should touch Engine/Core/Store directly once Start has
// been called.
type Runtime struct {
	self      committee.NodeID
	cfg       *config.Config
	committee *committee.Committee
	log       lxlog.Logger

	durable   *store.Store
	dag       *dagstore.Store
	mempool   *mempool.Simple
	engine    *rbroadcast.Engine
	core      *consensus.Core
	transport dnet.Transport
	obs       *Observability

	clientLn stdnet.Listener

	wg        sync.WaitGroup
	closeOnce sync.Once
	stop      chan struct{}
}

// Option customizes a Runtime beyond the required constructor
// arguments; used by tests to inject an in-memory transport or a
// custom commit handler in place of the defaults New would otherwise
// build from cfg.
type Option func(*options)

type options struct {
	transport dnet.Transport
	onCommit  consensus.CommitHandler
}

// WithTransport overrides the net.Transport New would otherwise build
// from cfg (a net.TCP dialing cfg.Peers). Test harnesses pass a
// net.Mem sharing one net.Bus so a cluster runs in-process.
func WithTransport(t dnet.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithCommitHandler overrides the default commit handler, which only
// logs. Pass a handler to observe or apply the committed stream.
func WithCommitHandler(h consensus.CommitHandler) Option {
	return func(o *options) { o.onCommit = h }
}

// New constructs a Runtime for committee seat self, opening its durable
// store at cfg.StoreDirFor(self) and replaying any vertices persisted
// from a prior run into a fresh DAG Store before the reliable-broadcast
// engine or Consensus Core are built. sk is this node's Ed25519 signing
// key; its public half must match the committee entry's declared key.
func New(cfg *config.Config, self committee.NodeID, sk ed25519.PrivateKey, log lxlog.Logger, opts ...Option) (*Runtime, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := cfg.Committee()
	if err != nil {
		return nil, fmt.Errorf("node: build committee: %w", err)
	}
	member, ok := c.Member(self)
	if !ok {
		return nil, fmt.Errorf("node: %v is not a committee member", self)
	}
	if !sk.Public().(ed25519.PublicKey).Equal(member.PublicKey) {
		return nil, fmt.Errorf("node: signing key does not match committee entry for %v", self)
	}

	durable, err := store.Open(store.Config{Dir: cfg.StoreDirFor(self)}, log)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	dag := dagstore.New(c, cfg.GCSafetyWaves)
	if err := replayVertices(durable, dag); err != nil {
		return nil, fmt.Errorf("node: replay persisted vertices: %w", err)
	}

	mp := mempool.New(mempool.Config{
		MaxBatchBytes: cfg.MempoolMaxBatchBytes,
		MaxBatchAge:   cfg.MempoolMaxBatchAge,
	})

	transport := o.transport
	if transport == nil {
		psk, err := cfg.PresharedSecret()
		if err != nil {
			return nil, fmt.Errorf("node: preshared secret: %w", err)
		}
		transport, err = dnet.NewTCP(self, dnet.TCPConfig{
			ListenAddr:    member.ListenAddr,
			Peers:         cfg.Peers(self),
			PSK:           psk,
			DialRetry:     500 * time.Millisecond,
			InboxCapacity: 256,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("node: start transport: %w", err)
		}
	}

	userCommit := o.onCommit
	if userCommit == nil {
		userCommit = func(cm consensus.Commit) {
			log.Info("commit", "seq", cm.Seq, "digest", cm.Vertex.Vertex.Digest(), "author", cm.Vertex.Vertex.Author, "round", cm.Vertex.Vertex.Round)
		}
	}

	r := &Runtime{
		self:      self,
		cfg:       cfg,
		committee: c,
		log:       log,
		durable:   durable,
		dag:       dag,
		mempool:   mp,
		transport: transport,
		stop:      make(chan struct{}),
	}

	obs, err := newObservability(r)
	if err != nil {
		return nil, fmt.Errorf("node: build observability: %w", err)
	}
	r.obs = obs

	onCommit := func(cm consensus.Commit) {
		r.obs.metrics.Commits().Inc()
		r.obs.metrics.CommittedWave().Set(float64(r.core.CommittedRound().WaveOf()))
		userCommit(cm)
	}

	coinShare, err := cfg.CoinShare(self)
	if err != nil {
		return nil, fmt.Errorf("node: coin share: %w", err)
	}
	selfCoin := coin.New(coin.DefaultParams, self, coinShare)
	coinCollector := coin.NewCollector(coin.DefaultParams, selfCoin, c.N(), c.Quorum())

	r.engine = rbroadcast.New(self, sk, c, dag, transport, durable, log, r.onDelivered)
	r.core = consensus.New(self, c, dag, countingProposer{Proposer: r.engine, counter: r.obs.metrics}, mp, coinCollector, transportCoinBroadcaster{transport: transport}, consensus.Config{
		PayloadByteBudget:    cfg.PayloadByteBudget,
		WeakParentByteBudget: cfg.WeakParentByteBudget,
		RoundTimeout:         cfg.RoundTimeout,
		GCSafetyWaves:        cfg.GCSafetyWaves,
	}, log, onCommit)

	return r, nil
}

// transportCoinBroadcaster adapts a net.Transport into a
// consensus.CoinBroadcaster, wrapping one node's §4.A coin share in a
// types.CoinShare frame and broadcasting it to the rest of the
// committee the same way rbroadcast.Engine disseminates vertices.
type transportCoinBroadcaster struct {
	transport dnet.Transport
}

func (b transportCoinBroadcaster) BroadcastShare(round types.Round, partial coin.Partial) error {
	frame, err := types.EncodeFrame(&types.CoinShare{
		Round: round,
		From:  partial.From,
		Value: partial.Value.Bytes(),
	})
	if err != nil {
		return fmt.Errorf("node: encode coin share: %w", err)
	}
	return b.transport.Broadcast(frame)
}

// countingProposer wraps a consensus.Proposer to increment the
// vertices-proposed counter on every successful Propose, without
// requiring the consensus or rbroadcast packages to know metrics exist.
type countingProposer struct {
	consensus.Proposer
	counter apimetrics.NodeMetrics
}

func (p countingProposer) Propose(v *types.Vertex) error {
	if err := p.Proposer.Propose(v); err != nil {
		return err
	}
	p.counter.VerticesProposed().Inc()
	return nil
}

// replayVertices repopulates a freshly built DAG Store from every
// vertex this node persisted before its last shutdown, oldest round
// first so each vertex's parents are always already present.
func replayVertices(durable *store.Store, dag *dagstore.Store) error {
	var cvs []*types.CertifiedVertex
	err := durable.LoadVertices(func(cv *types.CertifiedVertex) error {
		cvs = append(cvs, cv)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(cvs, func(i, j int) bool { return cvs[i].Vertex.Round < cvs[j].Vertex.Round })
	for _, cv := range cvs {
		if err := dag.Insert(cv.Vertex, cv.CoA); err != nil {
			return fmt.Errorf("replay digest %s: %w", cv.Vertex.Digest(), err)
		}
	}
	return nil
}

// onDelivered is the reliable-broadcast engine's Delivered callback: it
// persists the newly certified vertex before notifying the Consensus
// Core, so a crash between certification and commit evaluation always
// resumes from a DAG Store that already contains the vertex on restart.
func (r *Runtime) onDelivered(cv *types.CertifiedVertex) {
	if err := r.durable.PutVertex(cv); err != nil {
		r.log.Error("failed to persist certified vertex, node state may be unrecoverable on crash", "digest", cv.Vertex.Digest(), "err", err)
		return
	}
	r.obs.metrics.VerticesCertified().Inc()
	if err := r.core.OnCertified(cv); err != nil {
		r.log.Error("consensus core rejected certified vertex", "digest", cv.Vertex.Digest(), "err", err)
	}
	r.obs.metrics.Round().Set(float64(r.core.Round()))
	r.obs.metrics.CommittedWave().Set(float64(r.core.CommittedRound().WaveOf()))
}

// handleCoinShare decodes a peer's COIN_SHARE frame and forwards it to
// the Consensus Core, which may combine it with this node's own and
// any other already-received partials into that round's coin value.
func (r *Runtime) handleCoinShare(body []byte) error {
	msg, err := types.DecodeFrame(types.TagCoinShare, body)
	if err != nil {
		return err
	}
	cs := msg.(*types.CoinShare)
	return r.core.OnCoinShare(cs.Round, coin.Partial{From: cs.From, Value: new(big.Int).SetBytes(cs.Value)})
}

// Start launches the network receive loop, the client TCP endpoint (if
// this node's committee entry declares one), and this node's round-1
// proposal, then returns; all further work happens on Runtime's own
// goroutines until Shutdown is called.
func (r *Runtime) Start() error {
	r.wg.Add(1)
	go r.receiveLoop()

	if m, ok := r.cfg.Member(r.self); ok && m.ClientAddr != "" {
		ln, err := stdnet.Listen("tcp", m.ClientAddr)
		if err != nil {
			return fmt.Errorf("node: listen for clients on %s: %w", m.ClientAddr, err)
		}
		r.clientLn = ln
		r.wg.Add(1)
		go r.clientLoop(ln)
	}

	if r.cfg.MetricsAddr != "" {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.obs.Serve(r.cfg.MetricsAddr); err != nil {
				r.log.Warn("observability endpoint stopped", "err", err)
			}
		}()
	}

	return r.core.Start()
}

// receiveLoop drains the transport's Inbox, splitting each self-
// delimited frame into (tag, body) and handing it to the
// reliable-broadcast engine. A frame too short to carry a tag and
// length prefix, or a handling error, is logged and dropped: the
// offending peer is assumed Byzantine or merely stale, never fatal to
// this node (§7: only InvariantViolation/StoreCorruption abort).
func (r *Runtime) receiveLoop() {
	defer r.wg.Done()
	for {
		select {
		case env, ok := <-r.transport.Inbox():
			if !ok {
				return
			}
			if len(env.Frame) < 9 {
				r.log.Warn("dropping undersized frame", "from", env.From)
				continue
			}
			tag := types.Tag(env.Frame[0])
			body := env.Frame[9:]
			if tag == types.TagCoinShare {
				if err := r.handleCoinShare(body); err != nil {
					r.log.Warn("dropping coin share after handling error", "from", env.From, "err", err)
				}
				continue
			}
			if err := r.engine.HandleFrame(env.From, tag, body); err != nil {
				r.log.Warn("dropping frame after handling error", "from", env.From, "tag", tag, "err", err)
			}
		case <-r.stop:
			return
		}
	}
}

// clientLoop accepts client connections on the configured client
// address, each a stream of length-prefixed (4-byte big-endian)
// opaque transactions forwarded to the mempool. §6: "responds with an
// acknowledgment once the transaction is in a batch" — this reference
// implementation acknowledges as soon as Submit accepts the
// transaction into the pending buffer, matching mempool.Simple's own
// documented simplification.
func (r *Runtime) clientLoop(ln stdnet.Listener) {
	defer r.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-r.stop:
				return
			default:
				r.log.Warn("client listener accept error", "err", err)
				return
			}
		}
		r.wg.Add(1)
		go r.serveClient(conn)
	}
}

func (r *Runtime) serveClient(conn stdnet.Conn) {
	defer r.wg.Done()
	defer conn.Close()
	var lenBuf [4]byte
	for {
		if _, err := ioReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 || n > 16*1024*1024 {
			r.log.Warn("rejecting client frame with implausible length", "len", n)
			return
		}
		tx := make([]byte, n)
		if _, err := ioReadFull(conn, tx); err != nil {
			return
		}
		r.mempool.Submit(tx)
		if _, err := conn.Write([]byte{0x01}); err != nil {
			return
		}
	}
}

// ioReadFull is io.ReadFull, named locally so this file does not carry
// an "io" import used for exactly one call.
func ioReadFull(conn stdnet.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Self reports this node's committee seat.
func (r *Runtime) Self() committee.NodeID { return r.self }

// Core exposes the Consensus Core for tests that need to observe
// round/commit progress directly rather than only through the commit
// handler.
func (r *Runtime) Core() *consensus.Core { return r.core }

// Mempool exposes the mempool so a test or CLI client embedded in the
// same process can submit transactions without a network round trip.
func (r *Runtime) Mempool() *mempool.Simple { return r.mempool }

// LastVote reports the digest this node last voted for at (round,
// author), if any — used by tests asserting the durable VoteStore
// survived a simulated restart.
func (r *Runtime) LastVote(round types.Round, author committee.NodeID) (ids.ID, bool, error) {
	return r.durable.LastVote(round, author)
}

// Shutdown cooperatively stops every goroutine Start launched, closes
// the transport and client listener, and closes the durable store only
// after every in-flight write has completed (§5: "each task drains,
// persists, and exits").
func (r *Runtime) Shutdown() error {
	var errs wrappers.Errs
	r.closeOnce.Do(func() {
		close(r.stop)
		if r.clientLn != nil {
			errs.Add(r.clientLn.Close())
		}
		errs.Add(r.transport.Close())
		errs.Add(r.obs.Close())
		r.wg.Wait()
		errs.Add(r.durable.Close())
	})
	return errs.Err()
}
