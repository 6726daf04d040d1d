// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package bus implements the in-process message substrate: publish,
// subscription management, routing, and delivery statistics.
package bus

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Priority orders messages by urgency. It is routing metadata only; the
// bus never reorders deliveries within a subscription based on it.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Message is a single unit of communication between plugins. A message is
// immutable once published: the publisher owns it until it reaches the
// router, after which every delivery target shares it read-only.
type Message struct {
	ID            ulid.ULID
	Topic         string
	Payload       any
	Priority      Priority
	CreatedAt     time.Time
	SenderID      string
	CorrelationID string            // links a request to its response, empty otherwise
	ReplyTo       string            // reply topic for request/response traffic
	Metadata      map[string]string // optional, nil when unused
}

// PublishOutcome reports the result of routing one published message.
// Zero matched subscribers is a success, not an error.
type PublishOutcome struct {
	MatchedSubscribers   int
	SuccessfulDeliveries int
	FailedSubscriberIDs  []string
}

// Failed reports whether any subscriber failed to handle the message.
func (o PublishOutcome) Failed() bool {
	return len(o.FailedSubscriberIDs) > 0
}
