// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package local implements the collective transport contracts in-process:
// participants are goroutines sharing one Cluster, the barrier is a
// generation-counted rendezvous, and broadcast copies the root's slot under
// that rendezvous. It exists so the engine can run and be tested end to end
// inside a single process; it is registered under the transport name "local".
package local

import (
	"fmt"
	"sync"

	"github.com/featurebasedb/colbench/collective"
	"github.com/featurebasedb/colbench/errors"
)

const (
	// ErrBadRank means a rank outside [0, size) was opened on a cluster.
	ErrBadRank errors.Code = "BadRank"

	// ErrSizeMismatch means two participants opened the same process-wide
	// cluster with different sizes.
	ErrSizeMismatch errors.Code = "SizeMismatch"
)

func init() {
	collective.Register("local", &transport{})
}

// transport is the process-wide "local" transport. All ranks of one run share
// a single lazily-created cluster; once every rank has opened it, the next
// Open starts a fresh cluster so independent runs don't collide.
type transport struct {
	mu      sync.Mutex
	cluster *Cluster
	opened  int
}

func (t *transport) Open(rank, size int) (collective.Device, collective.ContextFactory, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cluster == nil || t.opened == t.cluster.size {
		t.cluster = NewCluster(size)
		t.opened = 0
	}
	if t.cluster.size != size {
		return nil, nil, errors.Newf(ErrSizeMismatch, "cluster size %d already in use, got %d", t.cluster.size, size)
	}
	dev, factory, err := t.cluster.Open(rank)
	if err != nil {
		return nil, nil, err
	}
	t.opened++
	return dev, factory, nil
}

// Cluster is the shared state for one group of in-process participants.
type Cluster struct {
	size int

	mu     sync.Mutex
	groups map[int]*group
}

// NewCluster returns a cluster for the given number of participants.
func NewCluster(size int) *Cluster {
	return &Cluster{
		size:   size,
		groups: make(map[int]*group),
	}
}

// Size returns the number of participants in the cluster.
func (c *Cluster) Size() int {
	return c.size
}

// Open returns the device and context factory for one rank. Every rank must
// create its contexts in the same order; the i'th context of each rank forms
// one connected group.
func (c *Cluster) Open(rank int) (collective.Device, collective.ContextFactory, error) {
	if rank < 0 || rank >= c.size {
		return nil, nil, errors.Newf(ErrBadRank, "rank %d out of range for cluster of size %d", rank, c.size)
	}
	dev := &device{cluster: c}
	return dev, &factory{cluster: c, rank: rank}, nil
}

// group is the cross-rank shared state behind all ranks' i'th context.
func (c *Cluster) group(id int) *group {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[id]
	if !ok {
		g = &group{
			bar:   newRendezvous(c.size),
			slots: make(map[int]*int64),
		}
		c.groups[id] = g
	}
	return g
}

type group struct {
	bar *rendezvous

	mu    sync.Mutex
	slots map[int]*int64
}

// device implements collective.Device.
type device struct {
	cluster *Cluster
}

func (d *device) Name() string { return "local" }

func (d *device) String() string {
	return fmt.Sprintf("local, size=%d", d.cluster.size)
}

// factory implements collective.ContextFactory for one rank. Context ids are
// issued sequentially, which keeps groups aligned across ranks as long as all
// ranks create contexts in the same order.
type factory struct {
	cluster *Cluster
	rank    int

	mu   sync.Mutex
	next int
}

func (f *factory) MakeContext(dev collective.Device) (collective.Context, error) {
	f.mu.Lock()
	id := f.next
	f.next++
	f.mu.Unlock()

	ctx := &context{
		cluster: f.cluster,
		group:   f.cluster.group(id),
		rank:    f.rank,
		pairs:   make([]*Pair, f.cluster.size),
	}
	for i := range ctx.pairs {
		if i != f.rank {
			ctx.pairs[i] = &Pair{}
		}
	}
	return ctx, nil
}

func (f *factory) Close() error { return nil }

// context implements collective.Context.
type context struct {
	cluster *Cluster
	group   *group
	rank    int
	pairs   []*Pair
}

func (c *context) Rank() int { return c.rank }

func (c *context) Size() int { return c.cluster.size }

func (c *context) Pair(rank int) collective.Pair {
	if c.pairs[rank] == nil {
		return nil
	}
	return c.pairs[rank]
}

func (c *context) NewBroadcast(slot *int64) (collective.Algorithm, error) {
	c.group.mu.Lock()
	c.group.slots[c.rank] = slot
	c.group.mu.Unlock()
	return &broadcast{ctx: c, slot: slot}, nil
}

func (c *context) NewBarrier() (collective.Algorithm, error) {
	return &barrier{ctx: c}, nil
}

func (c *context) Close() error { return nil }

// Pair implements collective.Pair. Sync mode has no wire-level meaning for a
// shared-memory transport; the flags are recorded so callers (and tests) can
// observe the toggle.
type Pair struct {
	mu       sync.Mutex
	sync     bool
	busyPoll bool
}

func (p *Pair) SetSync(enabled, busyPoll bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sync = enabled
	p.busyPoll = busyPoll
	return nil
}

// Sync reports the recorded sync-mode flags.
func (p *Pair) Sync() (enabled, busyPoll bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sync, p.busyPoll
}

// broadcast copies rank 0's slot to every other rank's slot. The first
// rendezvous orders every rank's pre-call write before any copy; the second
// keeps the root from overwriting its slot before every rank has copied.
type broadcast struct {
	ctx  *context
	slot *int64
}

func (b *broadcast) Run() error {
	g := b.ctx.group
	g.bar.await()
	if b.ctx.rank != 0 {
		g.mu.Lock()
		root := g.slots[0]
		g.mu.Unlock()
		*b.slot = *root
	}
	g.bar.await()
	return nil
}

// barrier blocks until every rank in the context has entered Run.
type barrier struct {
	ctx *context
}

func (b *barrier) Run() error {
	b.ctx.group.bar.await()
	return nil
}

// rendezvous is a reusable N-party barrier. Generation counting lets the same
// instance be awaited any number of times without re-arming races.
type rendezvous struct {
	mu         sync.Mutex
	cond       *sync.Cond
	size       int
	arrived    int
	generation int
}

func newRendezvous(size int) *rendezvous {
	r := &rendezvous{size: size}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *rendezvous) await() {
	r.mu.Lock()
	defer r.mu.Unlock()
	gen := r.generation
	r.arrived++
	if r.arrived == r.size {
		r.arrived = 0
		r.generation++
		r.cond.Broadcast()
		return
	}
	for gen == r.generation {
		r.cond.Wait()
	}
}
