// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package bus

import (
	"sync"
)

// WorkerPool runs delivery drain tasks on a bounded set of goroutines.
// Submit applies backpressure rather than dropping: when the queue is
// full the caller blocks until a worker frees a slot.
type WorkerPool struct {
	tasks   chan func()
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewWorkerPool starts workers goroutines draining a queue of queueSize.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	p := &WorkerPool{
		tasks: make(chan func(), queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues a task for execution. Returns false if the pool has been
// closed; the caller must then run or discard the task itself.
func (p *WorkerPool) Submit(task func()) (ok bool) {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return false
	}
	// Holding closeMu across the send would serialize all submitters, so
	// only the closed check is guarded; Close drains after flagging.
	p.closeMu.Unlock()

	defer func() {
		// A concurrent Close may have closed the channel between the check
		// and the send. Treat the send panic as a rejected submit.
		if r := recover(); r != nil {
			ok = false
		}
	}()
	p.tasks <- task
	return true
}

// Close stops accepting tasks and waits for queued work to finish.
func (p *WorkerPool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.closeMu.Unlock()

	p.wg.Wait()
}
