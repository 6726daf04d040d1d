// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"log/slog"
	"time"
)

// Router defaults.
const (
	DefaultSyncFanoutThreshold = 5
	DefaultWorkers             = 8
	DefaultQueueSize           = 256
	DefaultDeliveryTimeout     = 5 * time.Second
)

// RouterConfig tunes fan-out behavior.
type RouterConfig struct {
	// SyncFanoutThreshold is the match count at or below which deliveries
	// run synchronously on the caller's thread, in registration order.
	SyncFanoutThreshold int
	// Workers and QueueSize bound the delivery worker pool used above the
	// threshold.
	Workers   int
	QueueSize int
	// DeliveryTimeout bounds how long Route waits for fan-out to settle.
	// Deliveries still pending when it elapses are reported as failed;
	// the handlers themselves keep running to completion.
	DeliveryTimeout time.Duration
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.SyncFanoutThreshold <= 0 {
		c.SyncFanoutThreshold = DefaultSyncFanoutThreshold
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	return c
}

// Router resolves which subscriptions match a message's topic and asks the
// subscription manager to deliver to each. Fan-out is independent: one
// failed subscriber never blocks the rest, and no failed handler is
// retried.
type Router struct {
	manager *SubscriptionManager
	stats   *Statistics
	pool    *WorkerPool
	cfg     RouterConfig
}

// NewRouter creates a router over the given subscription manager.
func NewRouter(manager *SubscriptionManager, stats *Statistics, cfg RouterConfig) *Router {
	cfg = cfg.withDefaults()
	if stats == nil {
		stats = NewStatistics()
	}
	return &Router{
		manager: manager,
		stats:   stats,
		pool:    NewWorkerPool(cfg.Workers, cfg.QueueSize),
		cfg:     cfg,
	}
}

// deliveryResult carries one subscriber's outcome back to the aggregator.
type deliveryResult struct {
	index int
	kind  DeliveryKind
	err   error
}

// Route fans msg out to every matching subscription and aggregates
// per-subscriber outcomes. Small fan-outs run on the caller's thread;
// larger ones are dispatched to the worker pool, still serialized
// per-subscription.
func (r *Router) Route(msg Message) PublishOutcome {
	matches := r.manager.MatchTopic(msg.Topic)
	if len(matches) == 0 {
		return PublishOutcome{}
	}

	outcome := PublishOutcome{MatchedSubscribers: len(matches)}

	submit := r.submitInline
	if len(matches) > r.cfg.SyncFanoutThreshold {
		submit = r.submitPooled
	}

	results := make(chan deliveryResult, len(matches))
	for i, match := range matches {
		i := i
		done := func(kind DeliveryKind, err error) {
			results <- deliveryResult{index: i, kind: kind, err: err}
		}
		r.manager.EnqueueDeliver(match.Handle, msg, done, submit)
	}

	settled := make([]bool, len(matches))
	deadline := time.NewTimer(r.cfg.DeliveryTimeout)
	defer deadline.Stop()

	pending := len(matches)
	for pending > 0 {
		select {
		case res := <-results:
			settled[res.index] = true
			pending--
			switch res.kind {
			case DeliveryOK:
				outcome.SuccessfulDeliveries++
			case DeliveryHandlerFailed:
				outcome.FailedSubscriberIDs = append(outcome.FailedSubscriberIDs, matches[res.index].SubscriberID)
			case DeliveryFiltered:
				// Inactive or non-matching at delivery time: neither a
				// success nor a failure.
			}
		case <-deadline.C:
			for i, ok := range settled {
				if !ok {
					outcome.FailedSubscriberIDs = append(outcome.FailedSubscriberIDs, matches[i].SubscriberID)
				}
			}
			slog.Warn("fan-out did not settle before delivery timeout",
				"topic", msg.Topic,
				"pending", pending,
				"timeout", r.cfg.DeliveryTimeout)
			return outcome
		}
	}
	return outcome
}

// submitInline runs the drain task on the caller's thread.
func (r *Router) submitInline(task func()) {
	task()
}

// submitPooled hands the drain task to the worker pool, falling back to
// the caller's thread if the pool is already closed.
func (r *Router) submitPooled(task func()) {
	if !r.pool.Submit(task) {
		task()
	}
}

// Close drains and stops the worker pool. Safe to call more than once.
func (r *Router) Close() {
	r.pool.Close()
}
