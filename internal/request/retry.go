// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package request

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// CallRetry issues a call and retries it with the given backoff while it
// fails retryably (timeout, no responder). Retry policy belongs to the
// caller, never to the router, which is why this lives here as a helper
// instead of inside the delivery path.
func CallRetry(ctx context.Context, c *Client, topic string, payload any, timeout time.Duration, backoff retry.Backoff) (any, error) {
	var result any
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		response, err := c.CallSync(ctx, topic, payload, timeout)
		if err != nil {
			var rpcErr *Error
			if errors.As(err, &rpcErr) && rpcErr.IsRetryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		result = response
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
