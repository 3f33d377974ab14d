// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package bench provides the built-in benchmarks the colbench binary can
// drive: the two collectives the engine itself depends on (barrier,
// broadcast) and a local spin benchmark that isolates engine overhead from
// transport cost.
package bench

import (
	"github.com/featurebasedb/colbench/collective"
	"github.com/featurebasedb/colbench/errors"
)

const (
	// ErrUnknownBenchmark means the requested benchmark name isn't
	// registered.
	ErrUnknownBenchmark errors.Code = "UnknownBenchmark"

	// ErrBadResult means a benchmark's output did not match the reference.
	ErrBadResult errors.Code = "BadResult"
)

// Factory resolves a benchmark by name, returning its factory and the byte
// width of one element for bandwidth accounting.
func Factory(name string) (collective.BenchmarkFactory, int, error) {
	switch name {
	case "barrier":
		return func(ctx collective.Context) collective.Benchmark {
			return &Barrier{ctx: ctx}
		}, 8, nil
	case "broadcast":
		return func(ctx collective.Context) collective.Benchmark {
			return &Broadcast{ctx: ctx}
		}, 8, nil
	case "spin":
		return func(ctx collective.Context) collective.Benchmark {
			return &Spin{}
		}, 8, nil
	default:
		return nil, 0, errors.Newf(ErrUnknownBenchmark, "unknown benchmark: %q", name)
	}
}

// Barrier measures one full barrier round per iteration.
type Barrier struct {
	ctx collective.Context
	bar collective.Algorithm
}

func (b *Barrier) Initialize(n int) error {
	bar, err := b.ctx.NewBarrier()
	if err != nil {
		return err
	}
	b.bar = bar
	return nil
}

func (b *Barrier) Run() error {
	return b.bar.Run()
}

// Verify has nothing to check: a completed barrier is its own proof.
func (b *Barrier) Verify() error {
	return nil
}

// Broadcast measures one scalar broadcast from rank 0 per iteration.
type Broadcast struct {
	ctx   collective.Context
	bcast collective.Algorithm
	slot  int64
}

// broadcastSeed is the value rank 0 publishes; every rank must hold it after
// one run.
const broadcastSeed int64 = 42

func (b *Broadcast) Initialize(n int) error {
	// Non-roots start from a rank-distinct value so Verify actually proves
	// the overwrite happened.
	b.slot = broadcastSeed + int64(b.ctx.Rank())
	bcast, err := b.ctx.NewBroadcast(&b.slot)
	if err != nil {
		return err
	}
	b.bcast = bcast
	return nil
}

func (b *Broadcast) Run() error {
	return b.bcast.Run()
}

func (b *Broadcast) Verify() error {
	if b.slot != broadcastSeed {
		return errors.Newf(ErrBadResult, "rank %d holds %d, want %d", b.ctx.Rank(), b.slot, broadcastSeed)
	}
	return nil
}

// Spin sums a buffer of ones per iteration: pure local arithmetic, no
// cross-participant traffic.
type Spin struct {
	buf    []float64
	result float64
}

func (s *Spin) Initialize(n int) error {
	s.buf = make([]float64, n)
	for i := range s.buf {
		s.buf[i] = 1
	}
	return nil
}

func (s *Spin) Run() error {
	var sum float64
	for _, v := range s.buf {
		sum += v
	}
	s.result = sum
	return nil
}

func (s *Spin) Verify() error {
	want := float64(len(s.buf))
	if s.result != want {
		return errors.Newf(ErrBadResult, "sum %f, want %f", s.result, want)
	}
	return nil
}
