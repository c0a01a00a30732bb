// Copyright (C) 2025, DAG Rider Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dagrider/node/api"
	"github.com/dagrider/node/api/health"
	apimetrics "github.com/dagrider/node/api/metrics"
)

// Observability is the optional, off-the-safety-path HTTP surface
// §9 calls for: a Prometheus /metrics endpoint and a JSON /health
// endpoint aggregating one Checkable per task this Runtime owns. It is
// never consulted by the reliable-broadcast or consensus packages
// themselves; a node that never starts it still participates in the
// protocol correctly.
type Observability struct {
	gatherer apimetrics.MultiGatherer
	metrics  apimetrics.NodeMetrics
	health   *health.Registry
	srv      *http.Server
}

// newObservability builds the metrics registry and health aggregator
// for one node, wiring a roundLivenessCheck against rt so /health reports a
// stalled round-advancement task (the most common failure an operator
// wants paged on) without the consensus or rbroadcast packages needing
// any awareness of HTTP or Prometheus.
func newObservability(rt *Runtime) (*Observability, error) {
	reg := apimetrics.NewRegistry()
	m, err := apimetrics.NewNodeMetrics("dagrider", reg)
	if err != nil {
		return nil, err
	}

	gatherer := apimetrics.NewMultiGatherer()
	if err := gatherer.Register("dagrider", reg); err != nil {
		return nil, err
	}
	if err := gatherer.Register("runtime", apimetrics.NewRuntimeGatherer()); err != nil {
		return nil, err
	}

	hr := health.NewRegistry()
	hr.Register("round_advancement", &roundLivenessCheck{rt: rt, stallAfter: 5 * rt.cfg.RoundTimeout})
	hr.Register("transport", transportCheckFunc(func(context.Context) (interface{}, error) {
		return map[string]interface{}{"self": rt.self}, nil
	}))
	return &Observability{gatherer: gatherer, metrics: m, health: hr}, nil
}

// transportCheckFunc adapts a plain function to health.Checkable, the
// same func-to-interface convenience the module's Delivered/CommitHandler
// callback types already use elsewhere.
type transportCheckFunc func(context.Context) (interface{}, error)

func (f transportCheckFunc) Health(ctx context.Context) (interface{}, error) { return f(ctx) }

// roundLivenessCheck reports unhealthy once the Consensus Core's round
// counter has not advanced for longer than stallAfter, a simple proxy
// for "this node's round-advancement task has wedged."
type roundLivenessCheck struct {
	rt         *Runtime
	stallAfter time.Duration

	lastRound    uint64
	lastAdvanced time.Time
}

func (c *roundLivenessCheck) Health(context.Context) (interface{}, error) {
	round := uint64(c.rt.core.Round())
	now := time.Now()
	if c.lastAdvanced.IsZero() || round != c.lastRound {
		c.lastRound = round
		c.lastAdvanced = now
	}
	details := map[string]interface{}{"round": round}
	if now.Sub(c.lastAdvanced) > c.stallAfter {
		return details, fmt.Errorf("round has not advanced past %d in over %s", round, c.stallAfter)
	}
	return details, nil
}

// Serve starts the HTTP endpoint exposing /metrics (Prometheus text
// format) and /health (JSON Report) on addr. It runs until Close is
// called or the listener fails; the caller decides whether to run it at
// all, matching §9's "both optional" language.
func (o *Observability) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := o.health.Check(r.Context())
		status := http.StatusOK
		if !report.Healthy {
			status = http.StatusServiceUnavailable
		}
		_ = api.WriteJSON(w, status, report)
	})
	o.srv = &http.Server{Addr: addr, Handler: mux}
	err := o.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the HTTP endpoint down.
func (o *Observability) Close() error {
	if o.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.srv.Shutdown(ctx)
}
