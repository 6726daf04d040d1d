// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package event

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/plugmesh/plugmesh/internal/bus"
)

// ErrClosed is returned by publish operations after Close.
var ErrClosed = errors.New("event system is closed")

// System defaults.
const (
	DefaultTick        = 10 * time.Millisecond
	DefaultBatchWindow = 50 * time.Millisecond
	DefaultHistorySize = 128
	DefaultQueueSize   = 1024
)

// Config tunes the event system.
type Config struct {
	// Tick is the drain interval for queued, deferred and batched events.
	Tick time.Duration
	// BatchWindow is how long a batch accumulates before flushing.
	BatchWindow time.Duration
	// HistorySize bounds the per-type replay ring. Negative disables
	// history; zero selects the default.
	HistorySize int
	// QueueSize bounds the queued-mode buffer. Events published in queued
	// mode while the buffer is full are dropped with a warning.
	QueueSize int
	// Router tunes fan-out for the internal subscription manager.
	Router bus.RouterConfig
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = DefaultBatchWindow
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// batch accumulates envelopes of one type for the current window.
type batch struct {
	started time.Time
	envs    []Envelope
}

// System is a self-contained typed pub/sub engine. It owns its own
// subscription manager and router, parameterized by type tag instead of
// caller-chosen topics.
type System struct {
	manager *bus.SubscriptionManager
	router  *bus.Router
	stats   *bus.Statistics
	hist    *history
	cfg     Config

	queued chan bus.Message

	deferMu  sync.Mutex
	deferred []bus.Message

	batchMu sync.Mutex
	batches map[string]*batch

	closed    atomic.Bool
	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewSystem creates and starts an event system. Close must be called to
// stop the drain loop.
func NewSystem(stats *bus.Statistics, cfg Config) *System {
	cfg = cfg.withDefaults()
	if stats == nil {
		stats = bus.NewStatistics()
	}

	manager := bus.NewSubscriptionManager(stats)
	s := &System{
		manager: manager,
		router:  bus.NewRouter(manager, stats, cfg.Router),
		stats:   stats,
		hist:    newHistory(cfg.HistorySize),
		cfg:     cfg,
		queued:  make(chan bus.Message, cfg.QueueSize),
		batches: make(map[string]*batch),
		quit:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()
	return s
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	replayLast int
}

// WithReplayLast requests that the last k events of the subscribed type be
// delivered to the new subscriber immediately after subscribing.
func WithReplayLast(k int) SubscribeOption {
	return func(o *subscribeOptions) {
		o.replayLast = k
	}
}

// PublishOption decorates a published event.
type PublishOption func(*Envelope)

// WithMetadata attaches a metadata key/value pair to the event.
func WithMetadata(key, value string) PublishOption {
	return func(env *Envelope) {
		if env.Metadata == nil {
			env.Metadata = make(map[string]string)
		}
		env.Metadata[key] = value
	}
}

// Publish distributes a typed event according to mode.
func Publish[T any](s *System, sourceID string, data T, mode DeliveryMode, opts ...PublishOption) error {
	env := Envelope{
		Type:      TypeTag[T](),
		Data:      data,
		Timestamp: time.Now(),
		SourceID:  sourceID,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return s.publish(env, mode)
}

// Subscribe registers fn for events of type T. Type identity is resolved
// here, once, not per delivery: fn only ever observes events published as
// T. The handle unsubscribes through Unsubscribe.
func Subscribe[T any](s *System, subscriberID string, fn func(TypedEvent[T]), opts ...SubscribeOption) (bus.SubscriptionHandle, error) {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	tag := TypeTag[T]()
	handler := func(msg bus.Message) error {
		env, ok := msg.Payload.(Envelope)
		if !ok {
			// Only the system itself constructs these messages; a foreign
			// payload is a programming error.
			panic("event: message payload is not an Envelope")
		}
		fn(asTyped[T](env))
		return nil
	}

	handle, err := s.manager.Subscribe(glob.QuoteMeta(tag), subscriberID, handler)
	if err != nil {
		return bus.SubscriptionHandle{}, err
	}

	if o.replayLast > 0 {
		for _, env := range s.hist.last(tag, o.replayLast) {
			if _, err := s.manager.Deliver(handle, s.busMessage(env, tag)); err != nil {
				slog.Warn("replay delivery failed",
					"subscriber", subscriberID,
					"type", tag,
					"error", err)
			}
		}
	}
	return handle, nil
}

// SubscribeBatch registers fn for batched events of type T. Batches are
// flushed when their window elapses and on shutdown.
func SubscribeBatch[T any](s *System, subscriberID string, fn func([]TypedEvent[T])) (bus.SubscriptionHandle, error) {
	tag := TypeTag[T]()
	handler := func(msg bus.Message) error {
		envs, ok := msg.Payload.([]Envelope)
		if !ok {
			panic("event: batch message payload is not []Envelope")
		}
		events := make([]TypedEvent[T], len(envs))
		for i, env := range envs {
			events[i] = asTyped[T](env)
		}
		fn(events)
		return nil
	}
	return s.manager.Subscribe(glob.QuoteMeta(batchTopic(tag)), subscriberID, handler)
}

// Unsubscribe deactivates a subscription created by Subscribe or
// SubscribeBatch. Idempotent.
func (s *System) Unsubscribe(handle bus.SubscriptionHandle) {
	s.manager.Unsubscribe(handle)
}

// Close stops the drain loop, flushes queued, deferred and batched events,
// and releases the delivery pool. Idempotent.
func (s *System) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.quit)
		s.wg.Wait()

		// Final flush so nothing accepted before Close is lost.
		s.drainQueued()
		s.flushDeferred()
		s.flushBatches(true)
		s.router.Close()
	})
}

func (s *System) publish(env Envelope, mode DeliveryMode) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.hist.record(env)

	switch mode {
	case ModeImmediate:
		s.deliver(s.busMessage(env, env.Type))
	case ModeQueued:
		select {
		case s.queued <- s.busMessage(env, env.Type):
		default:
			// Queue is full; the publisher has already moved on, so the
			// event is dropped rather than blocking the producer.
			s.stats.RecordDropped()
			slog.Warn("queued event dropped: buffer full",
				"type", env.Type,
				"source", env.SourceID)
		}
	case ModeDeferred:
		s.deferMu.Lock()
		s.deferred = append(s.deferred, s.busMessage(env, env.Type))
		s.deferMu.Unlock()
	case ModeBatched:
		s.batchMu.Lock()
		b := s.batches[env.Type]
		if b == nil {
			b = &batch{started: time.Now()}
			s.batches[env.Type] = b
		}
		b.envs = append(b.envs, env)
		s.batchMu.Unlock()
	default:
		return errors.New("unknown delivery mode")
	}
	return nil
}

func (s *System) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			drained := s.drainQueued()
			if drained == 0 {
				// Idle tick: deferred events go out now.
				s.flushDeferred()
			}
			s.flushBatches(false)
		}
	}
}

// drainQueued delivers everything currently buffered in queued mode and
// returns the number of events delivered.
func (s *System) drainQueued() int {
	n := 0
	for {
		select {
		case msg := <-s.queued:
			s.deliver(msg)
			n++
		default:
			return n
		}
	}
}

func (s *System) flushDeferred() {
	s.deferMu.Lock()
	pending := s.deferred
	s.deferred = nil
	s.deferMu.Unlock()

	for _, msg := range pending {
		s.deliver(msg)
	}
}

// flushBatches delivers batches whose window elapsed; force flushes all.
func (s *System) flushBatches(force bool) {
	now := time.Now()

	s.batchMu.Lock()
	var ready []bus.Message
	for tag, b := range s.batches {
		if !force && now.Sub(b.started) < s.cfg.BatchWindow {
			continue
		}
		delete(s.batches, tag)
		ready = append(ready, bus.Message{
			ID:        bus.NewULID(),
			Topic:     batchTopic(tag),
			Payload:   b.envs,
			CreatedAt: now,
		})
	}
	s.batchMu.Unlock()

	for _, msg := range ready {
		s.deliver(msg)
	}
}

func (s *System) deliver(msg bus.Message) {
	outcome := s.router.Route(msg)
	if outcome.Failed() {
		slog.Warn("event delivery failed for some subscribers",
			"type", msg.Topic,
			"failed", outcome.FailedSubscriberIDs)
	}
}

func (s *System) busMessage(env Envelope, topic string) bus.Message {
	return bus.Message{
		ID:        bus.NewULID(),
		Topic:     topic,
		Payload:   env,
		CreatedAt: env.Timestamp,
		SenderID:  env.SourceID,
	}
}

func batchTopic(tag string) string {
	return tag + "/batch"
}

func asTyped[T any](env Envelope) TypedEvent[T] {
	return TypedEvent[T]{
		Type:      env.Type,
		Data:      env.Data.(T),
		Metadata:  env.Metadata,
		Timestamp: env.Timestamp,
		SourceID:  env.SourceID,
	}
}
