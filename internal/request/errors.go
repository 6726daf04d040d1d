// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package request

import (
	"fmt"
)

// ErrorKind classifies request/response failures.
type ErrorKind uint8

const (
	// KindTimeout means the deadline elapsed before a response arrived.
	KindTimeout ErrorKind = iota
	// KindCancelled means the caller cancelled the request explicitly.
	KindCancelled
	// KindNoResponder means no subscription matched the request topic.
	KindNoResponder
	// KindResponderError means the responder returned or raised an error;
	// Payload carries the error payload it produced.
	KindResponderError
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindNoResponder:
		return "no_responder"
	case KindResponderError:
		return "responder_error"
	default:
		return "unknown"
	}
}

// Error is the failure result of a call. It resolves the caller's future;
// it is never thrown across the async boundary.
type Error struct {
	Kind          ErrorKind
	Topic         string
	CorrelationID string
	Payload       any // responder-produced error payload, nil otherwise
}

func (e *Error) Error() string {
	return fmt.Sprintf("request on %s failed: %s", e.Topic, e.Kind)
}

// IsRetryable reports whether a fresh attempt could plausibly succeed.
// Responder errors are deterministic application failures and are not
// retried; cancellation was the caller's own decision.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindNoResponder
}
