// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package comm wires the communication substrate together: bus, typed
// events, request/response and the contract registry, behind a single
// lifecycle-managed facade.
package comm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/contract"
	"github.com/plugmesh/plugmesh/internal/event"
	"github.com/plugmesh/plugmesh/internal/request"
)

// Lifecycle states. Shutdown is terminal.
const (
	StateUninitialized int32 = iota
	StateInitialized
	StateShuttingDown
	StateShutdown
)

// DefaultGracePeriod bounds how long Shutdown waits for in-flight work.
const DefaultGracePeriod = 5 * time.Second

// senderContracts identifies registry announcements on the bus.
const senderContracts = "contracts"

// ErrNotInitialized creates an error for operations before Initialize.
func ErrNotInitialized(op string) error {
	return oops.Code("COMM_NOT_INITIALIZED").
		With("operation", op).
		Errorf("communication system is not initialized")
}

// Config tunes the communication system.
type Config struct {
	Router    bus.RouterConfig
	Publisher bus.PublisherConfig
	Events    event.Config
	Request   request.Config
	// GracePeriod bounds phase two of Shutdown. Zero selects the default.
	GracePeriod time.Duration
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// System is the composition root for the communication substrate. It
// owns component construction, exposes the external API, and enforces
// the Uninitialized -> Initialized -> ShuttingDown -> Shutdown lifecycle.
type System struct {
	cfg   Config
	state atomic.Int32

	stats     *bus.Statistics
	manager   *bus.SubscriptionManager
	router    *bus.Router
	publisher *bus.Publisher
	events    *event.System
	rpc       *request.Client
	contracts *contract.Registry

	inflight sync.WaitGroup
}

// NewSystem creates an uninitialized system.
func NewSystem(cfg Config) *System {
	return &System{cfg: cfg.withDefaults()}
}

// Initialize builds the components bottom-up: statistics, subscription
// manager, router, publisher, event system, request client, contract
// registry. It may be called once.
func (s *System) Initialize() error {
	if !s.state.CompareAndSwap(StateUninitialized, StateInitialized) {
		if err := s.guard("initialize"); err != nil {
			return err
		}
		return oops.Code("COMM_ALREADY_INITIALIZED").
			Errorf("communication system is already initialized")
	}

	s.stats = bus.NewStatistics()
	s.manager = bus.NewSubscriptionManager(s.stats)
	s.router = bus.NewRouter(s.manager, s.stats, s.cfg.Router)
	s.publisher = bus.NewPublisher(s.router, s.stats, s.cfg.Publisher)
	s.events = event.NewSystem(s.stats, s.cfg.Events)
	s.rpc = request.NewClient(s.publisher, s.manager, s.cfg.Request)
	s.contracts = contract.NewRegistry(contract.WithAnnouncer(s.announceContract))

	slog.Info("communication system initialized")
	return nil
}

// guard returns the error for an operation attempted in the current
// lifecycle state, or nil when the system is serving.
func (s *System) guard(op string) error {
	switch s.state.Load() {
	case StateUninitialized:
		return ErrNotInitialized(op)
	case StateShuttingDown:
		return bus.ErrShuttingDown(op)
	case StateShutdown:
		return bus.ErrSystemShutdown(op)
	default:
		return nil
	}
}

// IsShutdown reports whether shutdown has started.
func (s *System) IsShutdown() bool {
	return s.state.Load() >= StateShuttingDown
}

// Publish sends a message onto the bus and reports the per-subscriber
// outcome.
func (s *System) Publish(ctx context.Context, topic string, payload any, priority bus.Priority) (bus.PublishOutcome, error) {
	if err := s.guard("publish"); err != nil {
		return bus.PublishOutcome{}, err
	}
	s.inflight.Add(1)
	defer s.inflight.Done()

	return s.publisher.Publish(ctx, bus.Message{
		Topic:    topic,
		Payload:  payload,
		Priority: priority,
	})
}

// PublishMessage sends a fully specified message, for callers that need
// sender identity, correlation or metadata.
func (s *System) PublishMessage(ctx context.Context, msg bus.Message) (bus.PublishOutcome, error) {
	if err := s.guard("publish"); err != nil {
		return bus.PublishOutcome{}, err
	}
	s.inflight.Add(1)
	defer s.inflight.Done()

	return s.publisher.Publish(ctx, msg)
}

// Subscribe registers a handler for topics matching pattern.
func (s *System) Subscribe(pattern, subscriberID string, handler bus.Handler) (bus.SubscriptionHandle, error) {
	if err := s.guard("subscribe"); err != nil {
		return bus.SubscriptionHandle{}, err
	}
	return s.manager.Subscribe(pattern, subscriberID, handler)
}

// Unsubscribe removes a subscription. Safe against in-flight deliveries
// and unknown handles.
func (s *System) Unsubscribe(handle bus.SubscriptionHandle) {
	if st := s.state.Load(); st < StateInitialized || st >= StateShutdown {
		return
	}
	s.manager.Unsubscribe(handle)
}

// Call issues a request and returns a future resolved by the response,
// timeout or cancellation.
func (s *System) Call(ctx context.Context, topic string, payload any, timeout time.Duration) (*request.Future, error) {
	if err := s.guard("call"); err != nil {
		return nil, err
	}
	s.inflight.Add(1)
	defer s.inflight.Done()

	return s.rpc.Call(ctx, topic, payload, timeout)
}

// CallSync issues a request and blocks for its outcome.
func (s *System) CallSync(ctx context.Context, topic string, payload any, timeout time.Duration) (any, error) {
	if err := s.guard("call"); err != nil {
		return nil, err
	}
	s.inflight.Add(1)
	defer s.inflight.Done()

	return s.rpc.CallSync(ctx, topic, payload, timeout)
}

// RespondTo registers a responder for requests on topic.
func (s *System) RespondTo(topic, responderID string, handler request.ResponderFunc) (bus.SubscriptionHandle, error) {
	if err := s.guard("respond_to"); err != nil {
		return bus.SubscriptionHandle{}, err
	}
	return s.rpc.RespondTo(topic, responderID, handler)
}

// RegisterContract adds a service contract to the registry and announces
// it on the bus.
func (s *System) RegisterContract(c contract.ServiceContract) error {
	if err := s.guard("register_contract"); err != nil {
		return err
	}
	return s.contracts.Register(c)
}

// FindContracts returns registered contracts for name satisfying the
// version range, most recent first.
func (s *System) FindContracts(name, rangeExpr string) ([]contract.ServiceContract, error) {
	if err := s.guard("find_contracts"); err != nil {
		return nil, err
	}
	return s.contracts.Find(name, rangeExpr)
}

// WithdrawContract removes a provider's versions of a contract.
func (s *System) WithdrawContract(providerID, name string) error {
	if err := s.guard("withdraw_contract"); err != nil {
		return err
	}
	return s.contracts.Withdraw(providerID, name)
}

// Stats returns a snapshot of delivery statistics.
func (s *System) Stats() bus.Snapshot {
	if s.stats == nil {
		return bus.Snapshot{}
	}
	return s.stats.Snapshot()
}

// PublishEvent publishes a typed event through the system's event layer.
func PublishEvent[T any](s *System, sourceID string, data T, mode event.DeliveryMode, opts ...event.PublishOption) error {
	if err := s.guard("publish_event"); err != nil {
		return err
	}
	s.inflight.Add(1)
	defer s.inflight.Done()

	return event.Publish(s.events, sourceID, data, mode, opts...)
}

// SubscribeEvent subscribes a typed handler to events of type T.
func SubscribeEvent[T any](s *System, subscriberID string, fn func(event.TypedEvent[T]), opts ...event.SubscribeOption) (bus.SubscriptionHandle, error) {
	if err := s.guard("subscribe_event"); err != nil {
		return bus.SubscriptionHandle{}, err
	}
	return event.Subscribe(s.events, subscriberID, fn, opts...)
}

// SubscribeEventBatch subscribes a handler for batched events of type T.
func SubscribeEventBatch[T any](s *System, subscriberID string, fn func([]event.TypedEvent[T])) (bus.SubscriptionHandle, error) {
	if err := s.guard("subscribe_event"); err != nil {
		return bus.SubscriptionHandle{}, err
	}
	return event.SubscribeBatch(s.events, subscriberID, fn)
}

// UnsubscribeEvent removes a typed event subscription.
func (s *System) UnsubscribeEvent(handle bus.SubscriptionHandle) {
	if st := s.state.Load(); st < StateInitialized || st >= StateShutdown {
		return
	}
	s.events.Unsubscribe(handle)
}

// Shutdown stops the system in three phases: reject new work, wait up to
// the grace period for in-flight publishes and pending requests to
// settle, then tear components down in reverse dependency order.
// Concurrent callers after the first return immediately; teardown runs
// exactly once.
func (s *System) Shutdown() error {
	if !s.state.CompareAndSwap(StateInitialized, StateShuttingDown) {
		if s.state.Load() >= StateShuttingDown {
			return nil
		}
		return s.guard("shutdown")
	}

	slog.Info("communication system shutting down", "grace_period", s.cfg.GracePeriod)

	if !s.settle(s.cfg.GracePeriod) {
		slog.Warn("grace period elapsed with work still in flight",
			"pending_requests", s.rpc.PendingCount())
	}

	s.rpc.Close()
	s.events.Close()
	s.router.Close()

	s.state.Store(StateShutdown)
	slog.Info("communication system shut down")
	return nil
}

// settle waits up to grace for in-flight operations to return and the
// pending request table to drain. It reports whether everything settled.
func (s *System) settle(grace time.Duration) bool {
	deadline := time.Now().Add(grace)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		return false
	}

	for s.rpc.PendingCount() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}

// announceContract publishes registry changes onto the bus. Failures are
// logged; discovery is advisory.
func (s *System) announceContract(topic string, c contract.ServiceContract) {
	if _, err := s.publisher.Publish(context.Background(), bus.Message{
		Topic:    topic,
		Payload:  c,
		SenderID: senderContracts,
	}); err != nil {
		slog.Warn("contract announcement failed",
			"topic", topic,
			"contract", c.Name,
			"error", err)
	}
}
