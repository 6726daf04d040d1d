// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package request

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/plugmesh/plugmesh/internal/bus"
)

// Request states. A pending request transitions exactly once from
// statePending to one of the terminal states.
const (
	statePending int32 = iota
	stateCompleted
	stateTimedOut
	stateCancelled
)

// Outcome is the resolved result of a call: a response payload or an
// *Error, never both.
type Outcome struct {
	Payload any
	Err     error
}

// pendingRequest tracks one in-flight call. It is owned exclusively by the
// Client; only the correlation id ever reaches the bus.
type pendingRequest struct {
	correlationID string
	topic         string
	deadline      time.Time
	state         atomic.Int32
	result        chan Outcome
	replyHandle   bus.SubscriptionHandle
	timer         *time.Timer
}

// transition attempts the single Pending -> to move. Exactly one of
// {response, timeout, cancel} wins; the rest observe false.
func (p *pendingRequest) transition(to int32) bool {
	return p.state.CompareAndSwap(statePending, to)
}

// Future is the caller's handle to an in-flight request.
type Future struct {
	client        *Client
	correlationID string
	result        chan Outcome
}

// Done returns a channel that receives the outcome exactly once.
func (f *Future) Done() <-chan Outcome {
	return f.result
}

// Await blocks until the request resolves or ctx is done. Cancelling ctx
// cancels the request.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case out := <-f.result:
		return out.Payload, out.Err
	case <-ctx.Done():
		f.Cancel()
		// The cancel resolution is already in flight; drain it so the
		// request table entry is fully settled.
		out := <-f.result
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Payload, nil
	}
}

// Cancel resolves the request with a Cancelled error if it is still
// pending. Safe to call after resolution.
func (f *Future) Cancel() {
	f.client.Cancel(f.correlationID)
}
