// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package local_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/featurebasedb/colbench/collective"
	"github.com/featurebasedb/colbench/collective/local"
	"github.com/featurebasedb/colbench/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eachRank runs fn concurrently for every rank of a fresh cluster and waits
// for all of them.
func eachRank(t *testing.T, size int, fn func(rank int, ctx collective.Context)) {
	t.Helper()
	cluster := local.NewCluster(size)

	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		rank := rank
		wg.Add(1)
		go func() {
			defer wg.Done()
			dev, factory, err := cluster.Open(rank)
			require.NoError(t, err)
			ctx, err := factory.MakeContext(dev)
			require.NoError(t, err)
			fn(rank, ctx)
		}()
	}
	wg.Wait()
}

func TestBroadcast(t *testing.T) {
	const size = 3

	var got [size]int64
	eachRank(t, size, func(rank int, ctx collective.Context) {
		// Every rank starts with a distinct value; after the broadcast all
		// ranks must hold rank 0's value.
		slot := int64(100 * (rank + 1))
		bcast, err := ctx.NewBroadcast(&slot)
		require.NoError(t, err)
		require.NoError(t, bcast.Run())
		got[rank] = slot
	})

	for rank := 0; rank < size; rank++ {
		assert.Equal(t, int64(100), got[rank], "rank %d", rank)
	}
}

func TestBroadcastReuse(t *testing.T) {
	const size = 2

	var got [size][2]int64
	eachRank(t, size, func(rank int, ctx collective.Context) {
		slot := int64(rank)
		bcast, err := ctx.NewBroadcast(&slot)
		require.NoError(t, err)

		// Two rounds over the same algorithm; the root rewrites its slot
		// between rounds and must not race the copies from round one.
		require.NoError(t, bcast.Run())
		got[rank][0] = slot
		if rank == 0 {
			slot = 7
		}
		require.NoError(t, bcast.Run())
		got[rank][1] = slot
	})

	for rank := 0; rank < size; rank++ {
		assert.Equal(t, int64(0), got[rank][0], "round 1, rank %d", rank)
		assert.Equal(t, int64(7), got[rank][1], "round 2, rank %d", rank)
	}
}

func TestBarrier(t *testing.T) {
	const size = 4

	var before, after int32
	eachRank(t, size, func(rank int, ctx collective.Context) {
		bar, err := ctx.NewBarrier()
		require.NoError(t, err)

		atomic.AddInt32(&before, 1)
		require.NoError(t, bar.Run())
		// No rank may pass the barrier until every rank has arrived.
		assert.Equal(t, int32(size), atomic.LoadInt32(&before))
		atomic.AddInt32(&after, 1)
	})
	assert.Equal(t, int32(size), atomic.LoadInt32(&after))
}

func TestPairSetSync(t *testing.T) {
	cluster := local.NewCluster(2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		dev, factory, err := cluster.Open(1)
		require.NoError(t, err)
		_, err = factory.MakeContext(dev)
		require.NoError(t, err)
	}()

	dev, factory, err := cluster.Open(0)
	require.NoError(t, err)
	ctx, err := factory.MakeContext(dev)
	require.NoError(t, err)
	<-done

	assert.Nil(t, ctx.Pair(0), "own rank has no pair")

	pair := ctx.Pair(1)
	require.NotNil(t, pair)
	require.NoError(t, pair.SetSync(true, true))

	enabled, busyPoll := pair.(*local.Pair).Sync()
	assert.True(t, enabled)
	assert.True(t, busyPoll)
}

func TestOpenBadRank(t *testing.T) {
	cluster := local.NewCluster(2)
	_, _, err := cluster.Open(2)
	assert.True(t, errors.Is(err, local.ErrBadRank))
}

func TestRegisteredTransport(t *testing.T) {
	_, _, err := collective.Open("nonexistent", 0, 1)
	assert.True(t, errors.Is(err, collective.ErrUnknownTransport))

	dev, factory, err := collective.Open("local", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "local", dev.Name())

	ctx, err := factory.MakeContext(dev)
	require.NoError(t, err)
	assert.Equal(t, 0, ctx.Rank())
	assert.Equal(t, 1, ctx.Size())

	// Single participant: collectives complete trivially.
	bar, err := ctx.NewBarrier()
	require.NoError(t, err)
	require.NoError(t, bar.Run())
}
