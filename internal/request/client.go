// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package request implements call/await semantics over the bus using
// correlation identifiers and per-request deadlines.
package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/plugmesh/plugmesh/internal/bus"
)

// ErrClientClosed is returned for calls made after Close.
var ErrClientClosed = errors.New("request client is closed")

// DefaultSweepInterval is how often the background sweep scans for
// expired requests that slipped past their per-request timer.
const DefaultSweepInterval = time.Second

// metadata key marking a reply as a responder failure.
const metaResponderError = "rpc_error"

// Config tunes the request client.
type Config struct {
	SweepInterval time.Duration
}

// Client issues requests and registers responders. It owns the pending
// request table; resolution happens from exactly one of three paths
// (response, timeout, cancel), enforced by a per-request state machine.
type Client struct {
	publisher *bus.Publisher
	manager   *bus.SubscriptionManager

	mu      sync.RWMutex
	pending map[string]*pendingRequest

	closed atomic.Bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewClient creates a request client over the given publisher and
// subscription manager. The sweep loop starts immediately; Close stops it.
func NewClient(publisher *bus.Publisher, manager *bus.SubscriptionManager, cfg Config) *Client {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	c := &Client{
		publisher: publisher,
		manager:   manager,
		pending:   make(map[string]*pendingRequest),
		quit:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweepLoop(cfg.SweepInterval)
	return c
}

// Call publishes payload on topic and returns a future for the response.
// The future resolves within timeout: with the responder's payload, with
// KindNoResponder if nothing subscribes to topic, or with KindTimeout.
func (c *Client) Call(ctx context.Context, topic string, payload any, timeout time.Duration) (*Future, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}

	correlationID := bus.NewULID().String()
	replyTopic := topic + ".reply." + correlationID

	req := &pendingRequest{
		correlationID: correlationID,
		topic:         topic,
		deadline:      time.Now().Add(timeout),
		result:        make(chan Outcome, 1),
	}

	// The reply subscription must exist before the request goes out: a
	// responder on the synchronous fan-out path replies inline.
	replyHandle, err := c.manager.Subscribe(glob.QuoteMeta(replyTopic), "rpc:"+correlationID, func(msg bus.Message) error {
		c.resolveResponse(correlationID, msg)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe reply topic: %w", err)
	}
	req.replyHandle = replyHandle

	// The timer is armed inside the table's critical section so every
	// resolution path observes it once the entry is visible. It resolves
	// the deadline promptly; the sweep loop is the backstop.
	c.mu.Lock()
	c.pending[correlationID] = req
	req.timer = time.AfterFunc(timeout, func() {
		c.resolveTimeout(correlationID)
	})
	c.mu.Unlock()

	outcome, err := c.publisher.Publish(ctx, bus.Message{
		Topic:         topic,
		Payload:       payload,
		Priority:      bus.PriorityNormal,
		CorrelationID: correlationID,
		ReplyTo:       replyTopic,
	})
	if err != nil {
		c.resolve(correlationID, stateCancelled, Outcome{Err: err})
		return nil, err
	}
	if outcome.MatchedSubscribers == 0 {
		c.resolve(correlationID, stateCompleted, Outcome{Err: &Error{
			Kind:          KindNoResponder,
			Topic:         topic,
			CorrelationID: correlationID,
		}})
	}

	return &Future{client: c, correlationID: correlationID, result: req.result}, nil
}

// CallSync is Call followed by Await.
func (c *Client) CallSync(ctx context.Context, topic string, payload any, timeout time.Duration) (any, error) {
	future, err := c.Call(ctx, topic, payload, timeout)
	if err != nil {
		return nil, err
	}
	return future.Await(ctx)
}

// ResponderFunc produces a response payload for one request payload.
type ResponderFunc func(payload any) (any, error)

// RespondTo registers a responder for topic. Responder errors and panics
// are converted into an error response delivered back to the caller; a
// request is never left unresolved by a failing responder.
func (c *Client) RespondTo(topic, responderID string, handler ResponderFunc) (bus.SubscriptionHandle, error) {
	if handler == nil {
		return bus.SubscriptionHandle{}, errors.New("handler cannot be nil")
	}

	return c.manager.Subscribe(glob.QuoteMeta(topic), responderID, func(msg bus.Message) error {
		if msg.ReplyTo == "" {
			// Not a request; plain traffic on the same topic is ignored.
			return nil
		}

		response, err := safeRespond(handler, msg.Payload)
		reply := bus.Message{
			Topic:         msg.ReplyTo,
			Payload:       response,
			Priority:      msg.Priority,
			CorrelationID: msg.CorrelationID,
			SenderID:      responderID,
		}
		if err != nil {
			reply.Payload = err.Error()
			reply.Metadata = map[string]string{metaResponderError: "1"}
		}

		if _, perr := c.publisher.Publish(context.Background(), reply); perr != nil {
			slog.Error("failed to publish rpc reply",
				"topic", msg.Topic,
				"correlation_id", msg.CorrelationID,
				"error", perr)
		}
		return nil
	})
}

// safeRespond invokes the responder, converting panics to errors.
func safeRespond(handler ResponderFunc, payload any) (response any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panic: %v", r)
		}
	}()
	return handler(payload)
}

// Cancel resolves a pending request with KindCancelled. It is a no-op for
// unknown or already-resolved correlation ids.
func (c *Client) Cancel(correlationID string) {
	c.mu.RLock()
	req, ok := c.pending[correlationID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	c.resolve(correlationID, stateCancelled, Outcome{Err: &Error{
		Kind:          KindCancelled,
		Topic:         req.topic,
		CorrelationID: correlationID,
	}})
}

// PendingCount returns the number of unresolved requests.
func (c *Client) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// Close cancels all pending requests and stops the sweep loop. Idempotent.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.quit)
	c.wg.Wait()

	c.mu.RLock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		c.Cancel(id)
	}
}

// resolveResponse completes a request from an incoming reply message.
func (c *Client) resolveResponse(correlationID string, msg bus.Message) {
	outcome := Outcome{Payload: msg.Payload}
	if msg.Metadata[metaResponderError] != "" {
		outcome = Outcome{Err: &Error{
			Kind:          KindResponderError,
			Topic:         msg.Topic,
			CorrelationID: correlationID,
			Payload:       msg.Payload,
		}}
	}
	c.resolve(correlationID, stateCompleted, outcome)
}

// resolveTimeout completes a request whose deadline elapsed.
func (c *Client) resolveTimeout(correlationID string) {
	c.mu.RLock()
	req, ok := c.pending[correlationID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	c.resolve(correlationID, stateTimedOut, Outcome{Err: &Error{
		Kind:          KindTimeout,
		Topic:         req.topic,
		CorrelationID: correlationID,
	}})
}

// resolve performs the single state transition for a request and delivers
// its outcome. Exactly one caller wins; late resolutions are dropped and
// logged at debug, since a lost race between response and timeout is
// expected, not a defect.
func (c *Client) resolve(correlationID string, to int32, outcome Outcome) {
	c.mu.Lock()
	req, ok := c.pending[correlationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if !req.transition(to) {
		c.mu.Unlock()
		slog.Debug("request already resolved",
			"correlation_id", correlationID,
			"topic", req.topic)
		return
	}
	delete(c.pending, correlationID)
	c.mu.Unlock()

	if req.timer != nil {
		req.timer.Stop()
	}
	c.manager.Unsubscribe(req.replyHandle)
	req.result <- outcome
}

// sweepLoop periodically resolves expired requests.
func (c *Client) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep resolves every pending request whose deadline is in the past.
func (c *Client) sweep(now time.Time) {
	c.mu.RLock()
	var expired []string
	for id, req := range c.pending {
		if now.After(req.deadline) {
			expired = append(expired, id)
		}
	}
	c.mu.RUnlock()

	for _, id := range expired {
		c.resolveTimeout(id)
	}
}
