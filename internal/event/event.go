// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

// Package event provides a type-safe event distribution layer on top of
// the bus subscription primitive. Events are keyed by a runtime type tag
// instead of a string topic, so subscribers only ever observe events of
// the type they asked for.
package event

import (
	"reflect"
	"time"
)

// DeliveryMode selects how a published event reaches subscribers.
type DeliveryMode uint8

const (
	// ModeImmediate delivers synchronously on the publisher's goroutine.
	ModeImmediate DeliveryMode = iota
	// ModeQueued enqueues the event; a dedicated loop drains the queue at
	// the configured tick interval.
	ModeQueued
	// ModeDeferred holds the event until the next idle tick (a tick that
	// drained no queued traffic).
	ModeDeferred
	// ModeBatched accumulates events per type for a window, then flushes
	// them as a single slice to batch subscribers.
	ModeBatched
)

func (m DeliveryMode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModeQueued:
		return "queued"
	case ModeDeferred:
		return "deferred"
	case ModeBatched:
		return "batched"
	default:
		return "unknown"
	}
}

// TypedEvent wraps a payload with its type identity and envelope metadata.
type TypedEvent[T any] struct {
	Type      string
	Data      T
	Metadata  map[string]string
	Timestamp time.Time
	SourceID  string
}

// Envelope is the untyped wire form used inside the system. The generic
// subscribe adapters convert it back to a TypedEvent[T]; the conversion
// cannot fail for events that entered through Publish[T].
type Envelope struct {
	Type      string
	Data      any
	Metadata  map[string]string
	Timestamp time.Time
	SourceID  string
}

// TypeTag returns the type identity used to route events of type T.
func TypeTag[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
