// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package colbench

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerExecutesJob(t *testing.T) {
	w := newWorker()
	defer w.stop()

	var calls int64
	job := NewJob(func() { atomic.AddInt64(&calls, 1) }, 7)
	w.run(job)
	job.Wait()

	assert.Equal(t, int64(7), calls)
	assert.Equal(t, 7, job.Samples().Len())
}

func TestWorkerSequentialJobs(t *testing.T) {
	w := newWorker()
	defer w.stop()

	// A new job may be assigned once the previous one's completion has been
	// observed.
	for i := 1; i <= 3; i++ {
		job := NewJob(func() {}, i)
		w.run(job)
		job.Wait()
		assert.Equal(t, i, job.Samples().Len())
	}
}

func TestWorkerStopIdle(t *testing.T) {
	w := newWorker()

	done := make(chan struct{})
	go func() {
		w.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stopping an idle worker deadlocked")
	}
}

func TestWorkerStopFinishesInProgressJob(t *testing.T) {
	w := newWorker()

	started := make(chan struct{})
	var once int32
	job := NewJob(func() {
		if atomic.CompareAndSwapInt32(&once, 0, 1) {
			close(started)
		}
		time.Sleep(time.Millisecond)
	}, 5)
	w.run(job)

	<-started
	w.stop()

	// stop joins only after the assigned job ran to completion.
	job.Wait()
	require.Equal(t, 5, job.Samples().Len())
}

func TestTargetIterations(t *testing.T) {
	tests := []struct {
		total  time.Duration
		median time.Duration
		exp    int
	}{
		{total: time.Second, median: 500 * time.Nanosecond, exp: 2000000},
		{total: time.Second, median: 0, exp: 1},
		{total: time.Second, median: -5, exp: 1},
		{total: time.Nanosecond, median: time.Second, exp: 1},
		{total: 2 * time.Second, median: time.Second, exp: 2},
	}
	for _, test := range tests {
		assert.Equal(t, test.exp, targetIterations(test.total, test.median), "total=%s median=%s", test.total, test.median)
	}
}
