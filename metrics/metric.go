// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "NamespaceDB"

var (
	Registry = prometheus.NewRegistry()

	SessionAcquireDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "acquire_duration_seconds",
		Help:      "session acquire latency",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"pool"})
	SessionExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "exhausted_total",
		Help:      "acquires that timed out",
	}, []string{"pool"})
	SessionGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "sessions",
		Help:      "sessions by state",
	}, []string{"pool", "state"})

	ObjectPoolEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "objpool",
		Name:      "events_total",
		Help:      "object pool hits, misses, hydrations and evictions",
	}, []string{"pool", "event"})
	ObjectPoolSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "objpool",
		Name:      "objects",
		Help:      "live pooled objects",
	}, []string{"pool"})

	WriteBackEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "writeback",
		Name:      "events_total",
		Help:      "write-back tasks queued, flushed and dropped",
	}, []string{"event"})

	SubtreeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "subtree",
		Name:      "duration_seconds",
		Help:      "structural operation latency",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"op", "result"})
	SubtreeRows = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "subtree",
		Name:      "rows",
		Help:      "rows rewritten per structural operation",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"op"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SessionAcquireDuration,
		SessionExhausted,
		SessionGauge,
		ObjectPoolEvents,
		ObjectPoolSize,
		WriteBackEvents,
		SubtreeDuration,
		SubtreeRows,
	)
}

// Result labels an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
