// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"fmt"

	"github.com/samber/oops"
)

// Error codes for bus-level failures.
const (
	CodeInvalidTopic    = "BUS_INVALID_TOPIC"
	CodeInvalidPayload  = "BUS_INVALID_PAYLOAD"
	CodePayloadTooLarge = "BUS_PAYLOAD_TOO_LARGE"
	CodePriorityQuota   = "BUS_PRIORITY_QUOTA"
	CodeShuttingDown    = "BUS_SHUTTING_DOWN"
	CodeSystemShutdown  = "BUS_SYSTEM_SHUTDOWN"
)

// ErrInvalidTopic creates an error for a missing or malformed topic.
func ErrInvalidTopic(topic string) error {
	return oops.Code(CodeInvalidTopic).
		With("topic", topic).
		Errorf("topic cannot be empty")
}

// ErrInvalidPayload creates an error for a nil payload.
func ErrInvalidPayload(topic string) error {
	return oops.Code(CodeInvalidPayload).
		With("topic", topic).
		Errorf("payload cannot be nil")
}

// ErrPayloadTooLarge creates an error for a payload above the configured cap.
func ErrPayloadTooLarge(topic string, size, limit int) error {
	return oops.Code(CodePayloadTooLarge).
		With("topic", topic).
		With("size", size).
		With("limit", limit).
		Errorf("payload of %d bytes exceeds limit of %d bytes", size, limit)
}

// ErrPriorityQuota creates an error for a critical-priority publish
// rejected by the per-second quota.
func ErrPriorityQuota(topic string, limit int) error {
	return oops.Code(CodePriorityQuota).
		With("topic", topic).
		With("per_second", limit).
		Errorf("critical-priority quota of %d/s exceeded", limit)
}

// ErrShuttingDown creates an error for work submitted during shutdown.
func ErrShuttingDown(op string) error {
	return oops.Code(CodeShuttingDown).
		With("operation", op).
		Errorf("communication system is shutting down")
}

// ErrSystemShutdown creates an error for work submitted after shutdown
// completed.
func ErrSystemShutdown(op string) error {
	return oops.Code(CodeSystemShutdown).
		With("operation", op).
		Errorf("communication system is shut down")
}

// DeliveryKind classifies the outcome of a single delivery attempt.
type DeliveryKind uint8

const (
	// DeliveryOK means the handler ran and returned nil.
	DeliveryOK DeliveryKind = iota
	// DeliveryFiltered means the subscription was inactive or its filter
	// did not match. Filtered deliveries are not failures.
	DeliveryFiltered
	// DeliveryHandlerFailed means the handler returned an error or panicked.
	DeliveryHandlerFailed
)

// DeliveryError describes a failed delivery to one subscriber. It is
// collected per-subscriber, never propagated up the publish call stack.
type DeliveryError struct {
	SubscriberID string
	Kind         DeliveryKind
	Cause        error
}

func (e *DeliveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("delivery to %s failed: %v", e.SubscriberID, e.Cause)
	}
	return fmt.Sprintf("delivery to %s failed", e.SubscriberID)
}

// Unwrap returns the handler error that caused the failure.
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}
