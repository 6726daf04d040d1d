// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"sync/atomic"
	"time"
)

// Statistics aggregates publish and delivery counters. All counters use
// lock-free atomics so the hot path never contends on the collector.
type Statistics struct {
	publishes   atomic.Uint64
	rejected    atomic.Uint64
	deliveries  atomic.Uint64
	failures    atomic.Uint64
	filtered    atomic.Uint64
	dropped     atomic.Uint64
	deliveryNs  atomic.Int64
	hasDelivery atomic.Bool
}

// NewStatistics creates an empty statistics collector.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Publishes       uint64
	Rejected        uint64
	Deliveries      uint64
	Failures        uint64
	Filtered        uint64
	Dropped         uint64
	AvgDeliveryTime time.Duration
}

// RecordPublish counts one accepted publish.
func (s *Statistics) RecordPublish(topic string, priority Priority) {
	s.publishes.Add(1)
	publishesTotal.WithLabelValues(priority.String()).Inc()
}

// RecordRejected counts one publish rejected at validation time.
func (s *Statistics) RecordRejected() {
	s.rejected.Add(1)
	rejectedTotal.Inc()
}

// RecordDelivery counts one successful delivery and folds its latency into
// an exponential moving average (20% weight to the new sample).
func (s *Statistics) RecordDelivery(elapsed time.Duration) {
	s.deliveries.Add(1)
	deliveriesTotal.WithLabelValues(statusSuccess).Inc()
	deliveryDuration.Observe(elapsed.Seconds())

	const alpha = 0.2
	ns := elapsed.Nanoseconds()
	if s.hasDelivery.CompareAndSwap(false, true) {
		s.deliveryNs.Store(ns)
		return
	}
	current := s.deliveryNs.Load()
	s.deliveryNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

// RecordFailure counts one failed delivery.
func (s *Statistics) RecordFailure() {
	s.failures.Add(1)
	deliveriesTotal.WithLabelValues(statusFailed).Inc()
}

// RecordFiltered counts one delivery skipped by filter or inactive flag.
func (s *Statistics) RecordFiltered() {
	s.filtered.Add(1)
	deliveriesTotal.WithLabelValues(statusFiltered).Inc()
}

// RecordDropped counts one delivery task dropped by a saturated worker pool.
func (s *Statistics) RecordDropped() {
	s.dropped.Add(1)
	droppedTotal.Inc()
}

// Snapshot returns the current counter values.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Publishes:       s.publishes.Load(),
		Rejected:        s.rejected.Load(),
		Deliveries:      s.deliveries.Load(),
		Failures:        s.failures.Load(),
		Filtered:        s.filtered.Load(),
		Dropped:         s.dropped.Load(),
		AvgDeliveryTime: time.Duration(s.deliveryNs.Load()),
	}
}
