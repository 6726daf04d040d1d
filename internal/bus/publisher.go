// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("plugmesh/bus")

// PublisherConfig tunes publish-time validation.
type PublisherConfig struct {
	// MaxPayloadBytes caps []byte and string payloads; other payload kinds
	// are opaque to the bus and exempt. Zero disables the cap.
	MaxPayloadBytes int
	// CriticalPerSecond caps critical-priority publishes per second.
	// Zero disables the quota.
	CriticalPerSecond int
}

// Publisher validates and timestamps outgoing messages and hands them to
// the router. Publish results are recorded into statistics.
type Publisher struct {
	router *Router
	stats  *Statistics
	cfg    PublisherConfig

	quotaMu     sync.Mutex
	quotaWindow time.Time
	quotaCount  int
}

// NewPublisher creates a publisher over the given router.
func NewPublisher(router *Router, stats *Statistics, cfg PublisherConfig) *Publisher {
	if stats == nil {
		stats = NewStatistics()
	}
	return &Publisher{
		router: router,
		stats:  stats,
		cfg:    cfg,
	}
}

// Publish validates msg, stamps missing fields, and routes it. Publishing
// to a topic with zero subscribers is a success with zero matches, never
// an error. The returned outcome is definite: every matched subscriber is
// accounted for as delivered, failed, or filtered.
func (p *Publisher) Publish(ctx context.Context, msg Message) (PublishOutcome, error) {
	_, span := tracer.Start(ctx, "bus.publish",
		trace.WithAttributes(
			attribute.String("topic", msg.Topic),
			attribute.String("priority", msg.Priority.String()),
		),
	)
	defer span.End()

	if err := p.validate(&msg); err != nil {
		p.stats.RecordRejected()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return PublishOutcome{}, err
	}

	if msg.ID.Compare(zeroULID) == 0 {
		msg.ID = NewULID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	p.stats.RecordPublish(msg.Topic, msg.Priority)

	outcome := p.router.Route(msg)
	span.SetAttributes(
		attribute.Int("matched", outcome.MatchedSubscribers),
		attribute.Int("delivered", outcome.SuccessfulDeliveries),
		attribute.Int("failed", len(outcome.FailedSubscriberIDs)),
	)
	return outcome, nil
}

func (p *Publisher) validate(msg *Message) error {
	if msg.Topic == "" {
		return ErrInvalidTopic(msg.Topic)
	}
	if msg.Payload == nil {
		return ErrInvalidPayload(msg.Topic)
	}

	if p.cfg.MaxPayloadBytes > 0 {
		if size, measurable := payloadSize(msg.Payload); measurable && size > p.cfg.MaxPayloadBytes {
			return ErrPayloadTooLarge(msg.Topic, size, p.cfg.MaxPayloadBytes)
		}
	}

	if msg.Priority == PriorityCritical && p.cfg.CriticalPerSecond > 0 {
		if !p.takeCriticalToken() {
			return ErrPriorityQuota(msg.Topic, p.cfg.CriticalPerSecond)
		}
	}
	return nil
}

// payloadSize measures byte-like payloads. Everything else is opaque.
func payloadSize(payload any) (int, bool) {
	switch v := payload.(type) {
	case []byte:
		return len(v), true
	case string:
		return len(v), true
	default:
		return 0, false
	}
}

// takeCriticalToken admits one critical publish into the current
// one-second window.
func (p *Publisher) takeCriticalToken() bool {
	p.quotaMu.Lock()
	defer p.quotaMu.Unlock()

	now := time.Now()
	if now.Sub(p.quotaWindow) >= time.Second {
		p.quotaWindow = now
		p.quotaCount = 0
	}
	if p.quotaCount >= p.cfg.CriticalPerSecond {
		return false
	}
	p.quotaCount++
	return true
}
