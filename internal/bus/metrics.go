// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status label values for delivery metrics.
const (
	statusSuccess  = "success"
	statusFailed   = "failed"
	statusFiltered = "filtered"
)

// publishesTotal counts accepted publishes by priority.
// Use RegisterMetrics to register this with a Prometheus registry.
var publishesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugmesh_publishes_total",
		Help: "Total number of accepted publishes by priority",
	},
	[]string{"priority"},
)

// rejectedTotal counts publishes rejected at validation time.
var rejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "plugmesh_publishes_rejected_total",
		Help: "Total number of publishes rejected by validation",
	},
)

// deliveriesTotal counts delivery attempts by status.
var deliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "plugmesh_deliveries_total",
		Help: "Total number of delivery attempts by status",
	},
	[]string{"status"},
)

// droppedTotal counts deliveries dropped by a saturated worker pool.
var droppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "plugmesh_deliveries_dropped_total",
		Help: "Total number of deliveries dropped due to worker pool saturation",
	},
)

// deliveryDuration is the histogram of handler execution time.
var deliveryDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "plugmesh_delivery_duration_seconds",
		Help:    "Handler execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// RegisterMetrics registers bus package metrics with the given Prometheus
// registry. Call once at startup; panics on duplicate registration
// (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(publishesTotal)
	reg.MustRegister(rejectedTotal)
	reg.MustRegister(deliveriesTotal)
	reg.MustRegister(droppedTotal)
	reg.MustRegister(deliveryDuration)
}
