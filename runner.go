// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package colbench

import (
	"io"
	"os"
	"time"

	"github.com/featurebasedb/colbench/collective"
	"github.com/featurebasedb/colbench/errors"
	"github.com/featurebasedb/colbench/logger"
)

const (
	// ErrInvalidOptions means the runner configuration cannot produce a
	// meaningful measurement.
	ErrInvalidOptions errors.Code = "InvalidOptions"

	// ErrVerifyFailed means a benchmark produced incorrect output during the
	// pre-measurement correctness check.
	ErrVerifyFailed errors.Code = "VerifyFailed"
)

// Options configures a Runner for one participant.
type Options struct {
	// Transport names a registered transport; resolved unless Device and
	// Factory are wired explicitly.
	Transport string

	// Rank and Size identify this participant within the group. Rank 0 is
	// the coordinator: it seeds iteration negotiation and prints the report.
	Rank int
	Size int

	// Threads is the number of worker threads per participant.
	Threads int

	// Inputs is the per-iteration input count reported in the header.
	Inputs int

	// Benchmark is the algorithm name reported in the header.
	Benchmark string

	// Elements fixes a single problem size; zero runs the standard sweep.
	Elements int

	// ElementSize is the byte width of one element, for bandwidth.
	ElementSize int

	// IterationCount fixes the per-round iteration count for every
	// participant, skipping negotiation. Zero negotiates from a warmup.
	IterationCount int

	// IterationTime is the target total run time per round when the
	// iteration count is negotiated.
	IterationTime time.Duration

	// WarmupIterations is the fixed iteration count of the warmup pass.
	WarmupIterations int

	// Sync forces point-to-point connections into synchronous handshake
	// mode; BusyPoll additionally spins instead of sleeping in the handshake.
	Sync     bool
	BusyPoll bool

	// Verify runs each benchmark once and checks its output before timing.
	Verify bool

	// ShowNanos reports latencies in nanoseconds instead of microseconds.
	ShowNanos bool

	// Device and Factory wire an already-opened transport directly,
	// bypassing Transport name resolution.
	Device  collective.Device
	Factory collective.ContextFactory

	Output io.Writer
	Logger logger.Logger
	Stats  StatsClient
}

// Runner orchestrates measurement rounds for one participant: it owns the
// worker pool and the two distributed primitives (broadcast, barrier) used to
// keep every participant running the collective in lockstep.
type Runner struct {
	opts   Options
	logger logger.Logger
	stats  StatsClient

	device  collective.Device
	factory collective.ContextFactory
	workers []*worker
	report  *reportWriter

	// broadcastValue is written by the coordinator before the broadcast runs
	// and is authoritative on every rank only after it returns.
	broadcastValue int64
	broadcast      collective.Algorithm
	barrier        collective.Algorithm
	broadcastCtx   collective.Context
	barrierCtx     collective.Context
}

// NewRunner resolves the transport, spawns the worker pool, and creates the
// coordination algorithms. The caller must Close the runner before
// finalizing the transport layer.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.Rank < 0 || opts.Rank >= opts.Size {
		return nil, errors.Newf(ErrInvalidOptions, "rank %d out of range for group of size %d", opts.Rank, opts.Size)
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.Inputs <= 0 {
		opts.Inputs = 1
	}
	if opts.ElementSize <= 0 {
		opts.ElementSize = 8
	}
	if opts.WarmupIterations <= 0 {
		opts.WarmupIterations = 5
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger
	}
	if opts.Stats == nil {
		opts.Stats = NopStatsClient
	}

	r := &Runner{
		opts:   opts,
		logger: opts.Logger,
		stats:  opts.Stats,
	}

	r.device = opts.Device
	r.factory = opts.Factory
	if r.device == nil || r.factory == nil {
		dev, factory, err := collective.Open(opts.Transport, opts.Rank, opts.Size)
		if err != nil {
			return nil, err
		}
		r.device = dev
		r.factory = factory
	}

	r.workers = make([]*worker, opts.Threads)
	for i := range r.workers {
		r.workers[i] = newWorker()
	}

	// One dedicated context each for run-to-run synchronization and
	// iteration negotiation.
	if err := r.setupAlgorithms(); err != nil {
		r.stopWorkers()
		return nil, err
	}

	r.report = newReportWriter(opts.Output, opts.ShowNanos)
	return r, nil
}

func (r *Runner) setupAlgorithms() error {
	ctx, err := r.newContext()
	if err != nil {
		return errors.Wrap(err, "creating broadcast context")
	}
	r.broadcastCtx = ctx
	if r.broadcast, err = ctx.NewBroadcast(&r.broadcastValue); err != nil {
		return errors.Wrap(err, "creating broadcast")
	}

	if ctx, err = r.newContext(); err != nil {
		return errors.Wrap(err, "creating barrier context")
	}
	r.barrierCtx = ctx
	if r.barrier, err = ctx.NewBarrier(); err != nil {
		return errors.Wrap(err, "creating barrier")
	}
	return nil
}

// Close releases the coordination algorithms and the context factory before
// the caller finalizes the transport, then joins the workers. There must be
// no outstanding job.
func (r *Runner) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	// Contexts and factory go first: in-flight collectives referencing
	// torn-down connections are undefined.
	r.barrier, r.broadcast = nil, nil
	if r.barrierCtx != nil {
		keep(r.barrierCtx.Close())
		r.barrierCtx = nil
	}
	if r.broadcastCtx != nil {
		keep(r.broadcastCtx.Close())
		r.broadcastCtx = nil
	}
	if r.factory != nil {
		keep(r.factory.Close())
	}

	r.stopWorkers()
	return first
}

func (r *Runner) stopWorkers() {
	for _, w := range r.workers {
		w.stop()
	}
	r.workers = nil
}

func (r *Runner) newContext() (collective.Context, error) {
	return r.factory.MakeContext(r.device)
}

func (r *Runner) coordinator() bool {
	return r.opts.Rank == 0
}

// bcast agrees on one scalar across the group: the coordinator proposes
// value, every rank gets the coordinator's proposal back. Only the
// coordinator writes the shared slot before the run; writing it elsewhere
// would race the broadcast's own write to the same location.
func (r *Runner) bcast(value int64) (int64, error) {
	if r.coordinator() {
		r.broadcastValue = value
	}
	if err := r.broadcast.Run(); err != nil {
		return 0, errors.Wrap(err, "running broadcast")
	}
	return r.broadcastValue, nil
}

// Run measures fn over the configured problem sizes and renders the report
// on the coordinator.
func (r *Runner) Run(fn collective.BenchmarkFactory) error {
	if fn == nil {
		return errors.New(ErrInvalidOptions, "benchmark factory required")
	}

	if r.coordinator() {
		r.report.writeHeader(r.device.String(), r.opts.Benchmark, r.opts.Size, r.opts.Inputs, r.opts.Threads)
	}

	if r.opts.Elements > 0 {
		if err := r.runSize(fn, r.opts.Elements); err != nil {
			return err
		}
	} else {
		// Sweep over problem sizes.
		for i := 100; i <= 1000000; i *= 10 {
			for _, m := range []int{1, 2, 5} {
				if err := r.runSize(fn, i*m); err != nil {
					return err
				}
			}
		}
	}

	if r.coordinator() {
		r.report.flush()
	}
	return nil
}

// runSize runs one measurement round for problem size n.
func (r *Runner) runSize(fn collective.BenchmarkFactory, n int) error {
	benchmarks := make([]collective.Benchmark, 0, r.opts.Threads)
	contexts := make([]collective.Context, 0, r.opts.Threads)
	defer func() {
		for _, ctx := range contexts {
			ctx.Close()
		}
	}()

	// Initialize one isolated context/benchmark pair per thread.
	for i := 0; i < r.opts.Threads; i++ {
		ctx, err := r.newContext()
		if err != nil {
			return errors.Wrap(err, "creating benchmark context")
		}
		contexts = append(contexts, ctx)

		b := fn(ctx)
		if err := b.Initialize(n); err != nil {
			return errors.Wrapf(err, "initializing benchmark for %d elements", n)
		}

		if r.opts.Sync {
			for j := 0; j < ctx.Size(); j++ {
				if pair := ctx.Pair(j); pair != nil {
					if err := pair.SetSync(true, r.opts.BusyPoll); err != nil {
						return errors.Wrapf(err, "setting sync mode on pair %d", j)
					}
				}
			}
		}

		if r.opts.Verify {
			if err := b.Run(); err != nil {
				return errors.Wrap(err, "running verification iteration")
			}
			if err := b.Verify(); err != nil {
				return errors.Newf(ErrVerifyFailed, "benchmark verify failed for %d elements: %s", n, err)
			}
			// No participant proceeds into measurement before every
			// participant has confirmed local correctness.
			if err := r.barrier.Run(); err != nil {
				return errors.Wrap(err, "running post-verify barrier")
			}
		}

		benchmarks = append(benchmarks, b)
	}

	// Switch mode based on iteration count or time spent.
	iterations := r.opts.IterationCount
	if iterations <= 0 {
		if r.opts.IterationTime <= 0 {
			return errors.New(ErrInvalidOptions, "either iteration count or iteration time is required")
		}

		samples, err := r.runJobs(benchmarks, r.opts.WarmupIterations)
		if err != nil {
			return err
		}
		warmup, err := NewDistribution(samples)
		if err != nil {
			return errors.Wrap(err, "computing warmup distribution")
		}

		// Agree on the median warmup iteration cost so every participant
		// derives the same iteration count; diverging counts would leave
		// faster ranks blocked in collectives their partners never enter.
		median, err := r.bcast(int64(warmup.Percentile(0.5)))
		if err != nil {
			return err
		}
		iterations = targetIterations(r.opts.IterationTime, time.Duration(median))
		r.logger.Debugf("negotiated %d iterations for %d elements (median %s)", iterations, n, time.Duration(median))
	}

	samples, err := r.runJobs(benchmarks, iterations)
	if err != nil {
		return err
	}
	latency, err := NewDistribution(samples)
	if err != nil {
		return errors.Wrap(err, "computing latency distribution")
	}

	stats := r.stats.WithTags("benchmark:" + r.opts.Benchmark)
	stats.Timing("round.p50", latency.Percentile(0.50), 1)
	stats.Timing("round.p99", latency.Percentile(0.99), 1)
	stats.Count("round.samples", int64(latency.Len()), 1)
	stats.Gauge("round.bandwidth_gbps", bandwidthGBps(n, r.opts.ElementSize, r.opts.Threads, latency), 1)

	if r.coordinator() {
		r.report.writeRow(n, r.opts.ElementSize, r.opts.Threads, latency)
	}
	return nil
}

// runJobs is one fork-join pass: a synchronized start across participants,
// one job per worker, then a full wait-and-merge. No partial merges.
func (r *Runner) runJobs(benchmarks []collective.Benchmark, iterations int) (*Samples, error) {
	jobs := make([]*Job, len(benchmarks))
	for i := range benchmarks {
		b := benchmarks[i]
		jobs[i] = NewJob(func() {
			// A failed iteration desynchronizes every participant in the
			// collective; there is no recovery path.
			if err := b.Run(); err != nil {
				panic(err)
			}
		}, iterations)
	}

	// Synchronize start across participants so skew doesn't bias latency.
	if err := r.barrier.Run(); err != nil {
		return nil, errors.Wrap(err, "running pre-measurement barrier")
	}

	for i, job := range jobs {
		r.workers[i].run(job)
	}

	var merged Samples
	for _, job := range jobs {
		job.Wait()
		merged.Merge(job.Samples())
	}
	return &merged, nil
}

// targetIterations converts the configured total run time and the group's
// agreed per-iteration cost into an iteration count. A non-positive median
// clamps the result to one iteration rather than aborting.
func targetIterations(total, median time.Duration) int {
	if median <= 0 {
		return 1
	}
	n := int(total / median)
	if n < 1 {
		n = 1
	}
	return n
}
