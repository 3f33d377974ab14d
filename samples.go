// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package colbench

import (
	"sort"
	"time"

	"github.com/featurebasedb/colbench/errors"
)

const (
	// ErrEmptySamples means a Distribution was requested over zero samples.
	ErrEmptySamples errors.Code = "EmptySamples"
)

// Samples is an unordered collection of per-iteration durations produced by
// one thread. The zero value is ready to use.
type Samples struct {
	data []time.Duration
}

// Add appends one iteration's elapsed time.
func (s *Samples) Add(d time.Duration) {
	s.data = append(s.data, d)
}

// Len returns the number of recorded samples.
func (s *Samples) Len() int {
	return len(s.data)
}

// Merge moves all of other's samples into s, leaving other empty. Order
// independent and count additive.
func (s *Samples) Merge(other *Samples) {
	s.data = append(s.data, other.data...)
	other.data = nil
}

// Distribution is an immutable statistics view over one set of samples.
type Distribution struct {
	sorted []time.Duration
	sum    time.Duration
}

// NewDistribution sorts a copy of the samples and computes the aggregate sum.
// An empty sample set is a fatal statistical invariant violation.
func NewDistribution(s *Samples) (*Distribution, error) {
	if s.Len() == 0 {
		return nil, errors.New(ErrEmptySamples, "no latency samples found")
	}
	sorted := make([]time.Duration, len(s.data))
	copy(sorted, s.data)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return &Distribution{sorted: sorted, sum: sum}, nil
}

// Len returns the number of samples backing the distribution.
func (d *Distribution) Len() int {
	return len(d.sorted)
}

// Min returns the smallest sample.
func (d *Distribution) Min() time.Duration {
	return d.sorted[0]
}

// Max returns the largest sample.
func (d *Distribution) Max() time.Duration {
	return d.sorted[len(d.sorted)-1]
}

// Sum returns the total across all samples. Divided by the thread count it
// approximates aggregate wall-clock time as if all threads ran fully
// overlapped; used for bandwidth, not as a latency statistic.
func (d *Distribution) Sum() time.Duration {
	return d.sum
}

// Percentile returns the sample at the nearest rank for p in [0, 1], using
// index floor(p * (len-1)) into the sorted samples. Percentile(0) == Min,
// Percentile(1) == Max, and the result is monotone in p. Out-of-range p is
// clamped.
func (d *Distribution) Percentile(p float64) time.Duration {
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	return d.sorted[int(p*float64(len(d.sorted)-1))]
}
