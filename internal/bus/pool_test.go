// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	p := NewWorkerPool(4, 16)

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if !p.Submit(func() {
			ran.Add(1)
			wg.Done()
		}) {
			t.Fatal("Submit rejected task on open pool")
		}
	}
	wg.Wait()
	p.Close()

	if ran.Load() != 100 {
		t.Errorf("ran %d tasks, want 100", ran.Load())
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := NewWorkerPool(1, 1)
	p.Close()

	if p.Submit(func() {}) {
		t.Error("Submit must return false after Close")
	}
}

func TestWorkerPool_CloseIdempotent(t *testing.T) {
	p := NewWorkerPool(1, 1)
	p.Close()
	p.Close() // second close is a no-op
}
