// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package colbench is a benchmark orchestration and timing-aggregation
// engine for collective operations. A Runner drives repeated latency
// measurement of a caller-supplied benchmark across many worker threads in
// each of several cooperating participants, negotiates a common iteration
// count over the group so every participant calls the collective the same
// number of times, and merges per-thread samples into percentile and
// bandwidth reports printed by the coordinator.
package colbench
