// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// NewRuntimeGatherer returns a Gatherer exposing the process and Go
// runtime collectors (open file descriptors, GC pauses, goroutine
// count) under their standard names, separate from a node's own
// domain registry so the two can be combined with a MultiGatherer
// without either interfering with the other's metric names.
func NewRuntimeGatherer() prometheus.Gatherer {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return reg
}