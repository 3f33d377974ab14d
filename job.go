// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package colbench

import (
	"time"
)

// Job is one thread's unit of work for a measurement round: a callable, a
// target iteration count, and the samples filled in as it runs. Exactly one
// worker executes a given Job, exactly once, start to finish.
type Job struct {
	fn         func()
	iterations int
	samples    Samples
	done       chan struct{}
}

// NewJob returns a job that will invoke fn iterations times. The iteration
// count must be positive; the Runner clamps negotiated counts before
// constructing jobs.
func NewJob(fn func(), iterations int) *Job {
	return &Job{
		fn:         fn,
		iterations: iterations,
		done:       make(chan struct{}),
	}
}

// Wait blocks until the assigned worker has finished every iteration.
func (j *Job) Wait() {
	<-j.done
}

// Samples returns the filled sample set. Only valid after Wait returns.
func (j *Job) Samples() *Samples {
	return &j.samples
}

// worker is a persistent goroutine that executes jobs handed to it one at a
// time. The capacity-1 job channel is a single-slot mailbox: the worker
// blocks on receive between assignments (no spinning), and run's send never
// blocks because a new job may only be assigned after the previous one's
// completion has been observed.
type worker struct {
	jobs    chan *Job
	stopped chan struct{}
}

func newWorker() *worker {
	w := &worker{
		jobs:    make(chan *Job, 1),
		stopped: make(chan struct{}),
	}
	go w.loop()
	return w
}

// run assigns a job for asynchronous execution and returns immediately.
// Precondition: no other job is outstanding on this worker.
func (w *worker) run(job *Job) {
	w.jobs <- job
}

// stop tells the worker to exit once any in-progress job is finished, and
// joins it.
func (w *worker) stop() {
	close(w.jobs)
	<-w.stopped
}

func (w *worker) loop() {
	defer close(w.stopped)
	for job := range w.jobs {
		for i := 0; i < job.iterations; i++ {
			start := time.Now()
			job.fn()
			job.samples.Add(time.Since(start))
		}
		close(job.done)
	}
}
