// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package event

import (
	"sync"
)

// history keeps a bounded ring of the most recent envelopes per type tag
// to support replay-on-subscribe.
type history struct {
	mu    sync.RWMutex
	limit int
	rings map[string][]Envelope
}

func newHistory(limit int) *history {
	return &history{
		limit: limit,
		rings: make(map[string][]Envelope),
	}
}

// record appends env to its type's ring, discarding the oldest entry once
// the ring is full.
func (h *history) record(env Envelope) {
	if h.limit <= 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ring := h.rings[env.Type]
	if len(ring) >= h.limit {
		copy(ring, ring[1:])
		ring = ring[:len(ring)-1]
	}
	h.rings[env.Type] = append(ring, env)
}

// last returns up to k most recent envelopes for tag, oldest first.
func (h *history) last(tag string, k int) []Envelope {
	if k <= 0 {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	ring := h.rings[tag]
	if len(ring) > k {
		ring = ring[len(ring)-k:]
	}
	out := make([]Envelope, len(ring))
	copy(out, ring)
	return out
}
