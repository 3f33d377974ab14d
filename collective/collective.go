// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package collective defines the contracts the benchmark engine consumes: an
// opaque transport device, per-thread contexts minted by a factory, the two
// synchronous collectives (broadcast, barrier) used for cross-participant
// coordination, and the benchmark operation under measurement. Transport
// implementations register themselves by name; the engine resolves them from
// configuration and treats an unknown name as fatal.
package collective

import (
	"sync"

	"github.com/featurebasedb/colbench/errors"
)

const (
	ErrUnknownTransport errors.Code = "UnknownTransport"
)

// Device is an opaque transport handle. String returns a human-readable
// identity for the report header.
type Device interface {
	Name() string
	String() string
}

// ContextFactory mints contexts over a device. Every participant must create
// its contexts in the same order; the i'th context of each participant forms
// one connected group. Close releases the factory's share of the underlying
// connections and must happen before the transport itself is finalized.
type ContextFactory interface {
	MakeContext(dev Device) (Context, error)
	Close() error
}

// Context is one connected group of participants, scoped to a single worker
// thread's share of the run.
type Context interface {
	Rank() int
	Size() int

	// Pair returns the point-to-point connection to the given rank, or nil
	// for the caller's own rank.
	Pair(rank int) Pair

	// NewBroadcast returns an algorithm that, when run by every participant,
	// overwrites *slot on every non-root with root's (rank 0) value and
	// leaves root's value unchanged. The run is a synchronization point: the
	// slot is only authoritative after Run returns.
	NewBroadcast(slot *int64) (Algorithm, error)

	// NewBarrier returns an algorithm whose Run blocks until every
	// participant in the context has entered it.
	NewBarrier() (Algorithm, error)

	Close() error
}

// Pair is one point-to-point connection owned by a context.
type Pair interface {
	// SetSync forces the connection into fully synchronous handshake mode so
	// per-call latency is measured without pipelining effects.
	SetSync(enabled, busyPoll bool) error
}

// Algorithm is a synchronous collective operation. Run blocks until every
// participant in the context has entered the call and the operation is
// complete on this participant.
type Algorithm interface {
	Run() error
}

// Benchmark is one thread's instance of the operation under measurement.
type Benchmark interface {
	// Initialize prepares the benchmark for the given problem size.
	Initialize(n int) error

	// Run executes one measured iteration.
	Run() error

	// Verify checks the output of a prior Run against an independently
	// computed reference. A non-nil error is fatal to the whole run.
	Verify() error
}

// BenchmarkFactory binds a benchmark instance to a context. One instance is
// created per worker thread per problem size.
type BenchmarkFactory func(ctx Context) Benchmark

// Transport resolves devices and forms connected groups for one named
// transport mechanism.
type Transport interface {
	// Open resolves the device and rendezvous for one participant.
	Open(rank, size int) (Device, ContextFactory, error)
}

var (
	transportsMu sync.Mutex
	transports   = make(map[string]Transport)
)

// Register makes a transport resolvable by name. Called from transport
// package init or from test setup; re-registration replaces the previous
// entry.
func Register(name string, tr Transport) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = tr
}

// Lookup resolves a registered transport by name.
func Lookup(name string) (Transport, error) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	tr, ok := transports[name]
	if !ok {
		return nil, errors.Newf(ErrUnknownTransport, "unknown transport: %q", name)
	}
	return tr, nil
}

// Open resolves a transport by name and opens it for one participant.
func Open(name string, rank, size int) (Device, ContextFactory, error) {
	tr, err := Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	return tr.Open(rank, size)
}

// NopPair represents a Pair that doesn't do anything.
var NopPair Pair = &nopPair{}

type nopPair struct{}

// SetSync is a no-op implementation of the Pair SetSync method.
func (*nopPair) SetSync(enabled, busyPoll bool) error { return nil }

// NopAlgorithm represents an Algorithm that doesn't do anything. Useful for
// single-participant groups where every collective is trivially complete.
var NopAlgorithm Algorithm = &nopAlgorithm{}

type nopAlgorithm struct{}

// Run is a no-op implementation of the Algorithm Run method.
func (*nopAlgorithm) Run() error { return nil }
