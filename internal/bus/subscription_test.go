// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscriptionManager_Subscribe(t *testing.T) {
	m := NewSubscriptionManager(nil)

	handle, err := m.Subscribe("orders.created", "audit", func(Message) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if handle.Zero() {
		t.Fatal("Expected non-zero handle")
	}
	if got := m.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}
}

func TestSubscriptionManager_SubscribeValidation(t *testing.T) {
	m := NewSubscriptionManager(nil)

	if _, err := m.Subscribe("", "audit", func(Message) error { return nil }); err == nil {
		t.Error("Expected error for empty pattern")
	}
	if _, err := m.Subscribe("orders.*", "", func(Message) error { return nil }); err == nil {
		t.Error("Expected error for empty subscriber id")
	}
	if _, err := m.Subscribe("orders.*", "audit", nil); err == nil {
		t.Error("Expected error for nil handler")
	}
	if _, err := m.Subscribe("orders.[", "audit", func(Message) error { return nil }); err == nil {
		t.Error("Expected error for invalid glob pattern")
	}
}

func TestSubscriptionManager_Deliver(t *testing.T) {
	m := NewSubscriptionManager(nil)

	var got Message
	handle, err := m.Subscribe("orders.created", "audit", func(msg Message) error {
		got = msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	msg := Message{ID: NewULID(), Topic: "orders.created", Payload: 42}
	kind, derr := m.Deliver(handle, msg)
	if derr != nil {
		t.Fatalf("Deliver failed: %v", derr)
	}
	if kind != DeliveryOK {
		t.Errorf("kind = %v, want DeliveryOK", kind)
	}
	if got.ID != msg.ID {
		t.Error("Handler did not observe the delivered message")
	}
}

func TestSubscriptionManager_DeliverFiltersNonMatchingTopic(t *testing.T) {
	m := NewSubscriptionManager(nil)

	called := false
	handle, _ := m.Subscribe("orders.*", "audit", func(Message) error {
		called = true
		return nil
	})

	kind, err := m.Deliver(handle, Message{Topic: "billing.charged", Payload: 1})
	if err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if kind != DeliveryFiltered {
		t.Errorf("kind = %v, want DeliveryFiltered", kind)
	}
	if called {
		t.Error("Handler must not run for non-matching topic")
	}
}

func TestSubscriptionManager_DeliverWrapsHandlerError(t *testing.T) {
	m := NewSubscriptionManager(nil)

	boom := errors.New("boom")
	handle, _ := m.Subscribe("orders.created", "audit", func(Message) error { return boom })

	kind, err := m.Deliver(handle, Message{Topic: "orders.created", Payload: 1})
	if kind != DeliveryHandlerFailed {
		t.Errorf("kind = %v, want DeliveryHandlerFailed", kind)
	}
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected *DeliveryError, got %T", err)
	}
	if derr.SubscriberID != "audit" {
		t.Errorf("SubscriberID = %q, want audit", derr.SubscriberID)
	}
	if !errors.Is(err, boom) {
		t.Error("DeliveryError must wrap the handler error")
	}
}

func TestSubscriptionManager_DeliverRecoversPanic(t *testing.T) {
	m := NewSubscriptionManager(nil)

	handle, _ := m.Subscribe("orders.created", "audit", func(Message) error {
		panic("handler exploded")
	})

	kind, err := m.Deliver(handle, Message{Topic: "orders.created", Payload: 1})
	if kind != DeliveryHandlerFailed {
		t.Errorf("kind = %v, want DeliveryHandlerFailed", kind)
	}
	if err == nil {
		t.Fatal("Expected error from panicking handler")
	}
}

func TestSubscriptionManager_UnsubscribeIdempotent(t *testing.T) {
	m := NewSubscriptionManager(nil)

	handle, _ := m.Subscribe("orders.created", "audit", func(Message) error { return nil })
	m.Unsubscribe(handle)
	m.Unsubscribe(handle) // second call is a no-op

	if got := m.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}

	kind, err := m.Deliver(handle, Message{Topic: "orders.created", Payload: 1})
	if err != nil {
		t.Fatalf("Deliver returned error: %v", err)
	}
	if kind != DeliveryFiltered {
		t.Errorf("kind = %v, want DeliveryFiltered after unsubscribe", kind)
	}
}

func TestSubscriptionManager_UnsubscribeDuringDelivery(t *testing.T) {
	m := NewSubscriptionManager(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	handle, _ := m.Subscribe("orders.created", "slow", func(Message) error {
		close(entered)
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Deliver(handle, Message{Topic: "orders.created", Payload: 1})
	}()

	<-entered
	m.Unsubscribe(handle) // in-flight delivery completes; registry entry reclaimed after
	close(release)
	<-done

	m.mu.RLock()
	_, present := m.subs[handle.id]
	m.mu.RUnlock()
	if present {
		t.Error("Subscription should be reclaimed once the in-flight delivery completed")
	}
}

func TestSubscriptionManager_NoDeliveryAfterUnsubscribe(t *testing.T) {
	m := NewSubscriptionManager(nil)

	var calls atomic.Int64
	handle, _ := m.Subscribe("orders.created", "audit", func(Message) error {
		calls.Add(1)
		return nil
	})

	m.Unsubscribe(handle)
	for i := 0; i < 10; i++ {
		_, _ = m.Deliver(handle, Message{Topic: "orders.created", Payload: i})
	}
	if calls.Load() != 0 {
		t.Errorf("Handler ran %d times after unsubscribe, want 0", calls.Load())
	}
}

func TestSubscriptionManager_MatchTopicOrder(t *testing.T) {
	m := NewSubscriptionManager(nil)

	h1, _ := m.Subscribe("orders.**", "first", func(Message) error { return nil })
	h2, _ := m.Subscribe("orders.created", "second", func(Message) error { return nil })
	_, _ = m.Subscribe("billing.*", "other", func(Message) error { return nil })

	matches := m.MatchTopic("orders.created")
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].Handle != h1 || matches[1].Handle != h2 {
		t.Error("Matches must be returned in registration order")
	}
	if matches[0].SubscriberID != "first" || matches[1].SubscriberID != "second" {
		t.Error("Match subscriber ids out of order")
	}
}

func TestSubscriptionManager_EnqueueDeliverPreservesOrder(t *testing.T) {
	m := NewSubscriptionManager(nil)

	var mu sync.Mutex
	var seen []int
	handle, _ := m.Subscribe("seq", "ordered", func(msg Message) error {
		mu.Lock()
		seen = append(seen, msg.Payload.(int))
		mu.Unlock()
		return nil
	})

	pool := NewWorkerPool(4, 64)
	defer pool.Close()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		m.EnqueueDeliver(handle, Message{Topic: "seq", Payload: i},
			func(DeliveryKind, error) { wg.Done() },
			func(task func()) { pool.Submit(task) })
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("delivered %d messages, want %d", len(seen), n)
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("seen[%d] = %d: deliveries out of publish order", i, v)
		}
	}
}

func TestSubscriptionManager_NoConcurrentDeliveryToSameSubscription(t *testing.T) {
	m := NewSubscriptionManager(nil)

	var inside atomic.Int64
	var overlap atomic.Bool
	handle, _ := m.Subscribe("seq", "serial", func(Message) error {
		if inside.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		inside.Add(-1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Deliver(handle, Message{Topic: "seq", Payload: 1})
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("Two deliveries to the same subscription interleaved")
	}
}
