// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
)

// Handler processes one delivered message. It runs under the owning
// subscription's execution guard, so a handler is never invoked
// concurrently with itself.
type Handler func(msg Message) error

// SubscriptionHandle is an opaque reference to a subscription. Holding a
// handle grants the right to deliver through the manager and to
// unsubscribe; it never exposes the handler itself.
type SubscriptionHandle struct {
	id ulid.ULID
}

// ID returns the subscription id string, for logging and diagnostics.
func (h SubscriptionHandle) ID() string {
	return h.id.String()
}

// Zero reports whether the handle refers to nothing.
func (h SubscriptionHandle) Zero() bool {
	return h.id.Compare(ulid.ULID{}) == 0
}

// delivery is one queued handler invocation plus its completion callback.
type delivery struct {
	msg  Message
	done func(kind DeliveryKind, err error)
}

// subscription is the manager-private record for one registration.
// The handler reference never leaves this struct.
type subscription struct {
	id           ulid.ULID
	subscriberID string
	pattern      string
	filter       glob.Glob
	handler      Handler

	active   atomic.Bool
	inFlight atomic.Int64

	// execMu serializes handler invocation so two deliveries to the same
	// subscription cannot interleave.
	execMu sync.Mutex

	// queue holds pending deliveries in arrival order; draining tracks
	// whether a drain task currently owns the queue.
	queueMu  sync.Mutex
	queue    []delivery
	draining bool
}

// Match pairs a handle with the subscriber identity behind it, so the
// router can report per-subscriber outcomes without touching handlers.
type Match struct {
	Handle       SubscriptionHandle
	SubscriberID string
}

// SubscriptionManager owns the registry of active subscriptions. It is the
// only component that can invoke a subscriber's handler: everything else
// goes through Deliver or EnqueueDeliver with an opaque handle.
type SubscriptionManager struct {
	mu    sync.RWMutex
	subs  map[ulid.ULID]*subscription
	order []ulid.ULID
	stats *Statistics
}

// NewSubscriptionManager creates an empty subscription registry.
func NewSubscriptionManager(stats *Statistics) *SubscriptionManager {
	if stats == nil {
		stats = NewStatistics()
	}
	return &SubscriptionManager{
		subs:  make(map[ulid.ULID]*subscription),
		stats: stats,
	}
}

// Subscribe registers a handler for topics matching pattern. Patterns are
// glob expressions with '.' as the segment separator:
//   - "orders.created" matches exactly
//   - "orders.*" matches direct children ("orders.created", not "orders.eu.created")
//   - "orders.**" matches all descendants
func (m *SubscriptionManager) Subscribe(pattern, subscriberID string, handler Handler) (SubscriptionHandle, error) {
	if pattern == "" {
		return SubscriptionHandle{}, errors.New("topic pattern cannot be empty")
	}
	if subscriberID == "" {
		return SubscriptionHandle{}, errors.New("subscriber id cannot be empty")
	}
	if handler == nil {
		return SubscriptionHandle{}, errors.New("handler cannot be nil")
	}

	// Compile before acquiring the lock (fail-fast, no contention on error).
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return SubscriptionHandle{}, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
	}

	sub := &subscription{
		id:           NewULID(),
		subscriberID: subscriberID,
		pattern:      pattern,
		filter:       g,
		handler:      handler,
	}
	sub.active.Store(true)

	m.mu.Lock()
	m.subs[sub.id] = sub
	m.order = append(m.order, sub.id)
	m.mu.Unlock()

	return SubscriptionHandle{id: sub.id}, nil
}

// Unsubscribe deactivates a subscription. It is idempotent and safe to
// call while a delivery is in flight: the subscription is reclaimed once
// no delivery references it.
func (m *SubscriptionManager) Unsubscribe(handle SubscriptionHandle) {
	m.mu.RLock()
	sub, ok := m.subs[handle.id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if !sub.active.CompareAndSwap(true, false) {
		return // already unsubscribed
	}

	if sub.inFlight.Load() == 0 {
		m.reclaim(handle.id)
	}
	// Otherwise the last in-flight delivery reclaims it on completion.
}

// MatchTopic returns matches for all active subscriptions whose pattern
// matches topic, in subscription-registration order.
func (m *SubscriptionManager) MatchTopic(topic string) []Match {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, id := range m.order {
		sub, ok := m.subs[id]
		if !ok || !sub.active.Load() {
			continue
		}
		if !sub.filter.Match(topic) {
			continue
		}
		matches = append(matches, Match{
			Handle:       SubscriptionHandle{id: id},
			SubscriberID: sub.subscriberID,
		})
	}
	return matches
}

// ActiveCount returns the number of active subscriptions.
func (m *SubscriptionManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, sub := range m.subs {
		if sub.active.Load() {
			n++
		}
	}
	return n
}

// Deliver invokes the subscription's handler with msg on the calling
// goroutine. It is the only path by which a handler runs. The topic filter
// and active flag are checked before the execution guard is acquired, so
// non-matching traffic never contends with a running handler.
func (m *SubscriptionManager) Deliver(handle SubscriptionHandle, msg Message) (DeliveryKind, error) {
	m.mu.RLock()
	sub, ok := m.subs[handle.id]
	m.mu.RUnlock()
	if !ok {
		m.stats.RecordFiltered()
		return DeliveryFiltered, nil
	}
	return m.deliverTo(sub, msg)
}

// EnqueueDeliver appends a delivery to the subscription's FIFO queue and
// schedules a drain through submit if one is not already running. Queued
// deliveries to the same subscription execute in arrival order; done is
// called exactly once per delivery with the outcome.
func (m *SubscriptionManager) EnqueueDeliver(handle SubscriptionHandle, msg Message, done func(kind DeliveryKind, err error), submit func(task func())) {
	m.mu.RLock()
	sub, ok := m.subs[handle.id]
	m.mu.RUnlock()
	if !ok {
		m.stats.RecordFiltered()
		done(DeliveryFiltered, nil)
		return
	}

	sub.queueMu.Lock()
	sub.queue = append(sub.queue, delivery{msg: msg, done: done})
	if sub.draining {
		sub.queueMu.Unlock()
		return
	}
	sub.draining = true
	sub.queueMu.Unlock()

	submit(func() { m.drain(sub) })
}

// drain processes the subscription's queue until empty.
func (m *SubscriptionManager) drain(sub *subscription) {
	for {
		sub.queueMu.Lock()
		if len(sub.queue) == 0 {
			sub.draining = false
			sub.queueMu.Unlock()
			return
		}
		d := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.queueMu.Unlock()

		kind, err := m.deliverTo(sub, d.msg)
		d.done(kind, err)
	}
}

// deliverTo runs the filter/active checks and then the handler under the
// subscription's execution guard.
func (m *SubscriptionManager) deliverTo(sub *subscription, msg Message) (DeliveryKind, error) {
	// Filter evaluation happens before any serialization with handler
	// execution.
	if !sub.active.Load() || !sub.filter.Match(msg.Topic) {
		m.stats.RecordFiltered()
		return DeliveryFiltered, nil
	}

	sub.inFlight.Add(1)
	defer m.release(sub)

	sub.execMu.Lock()
	defer sub.execMu.Unlock()

	// Claim the slot: unsubscribe may have raced with the checks above.
	if !sub.active.Load() {
		m.stats.RecordFiltered()
		return DeliveryFiltered, nil
	}

	start := time.Now()
	err := m.invoke(sub, msg)
	if err != nil {
		m.stats.RecordFailure()
		return DeliveryHandlerFailed, &DeliveryError{
			SubscriberID: sub.subscriberID,
			Kind:         DeliveryHandlerFailed,
			Cause:        err,
		}
	}

	m.stats.RecordDelivery(time.Since(start))
	return DeliveryOK, nil
}

// invoke calls the handler, converting panics into errors so they never
// escape into the router or publisher call stack.
func (m *SubscriptionManager) invoke(sub *subscription, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("handler panic recovered",
				"subscriber", sub.subscriberID,
				"topic", msg.Topic,
				"panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(msg)
}

// release decrements the in-flight count and reclaims the subscription if
// it was unsubscribed while the delivery ran.
func (m *SubscriptionManager) release(sub *subscription) {
	if sub.inFlight.Add(-1) == 0 && !sub.active.Load() {
		m.reclaim(sub.id)
	}
}

// reclaim removes a deactivated subscription from the registry.
func (m *SubscriptionManager) reclaim(id ulid.ULID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[id]; !ok {
		return
	}
	delete(m.subs, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
