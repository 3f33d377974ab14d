// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/featurebasedb/colbench/bench"
	"github.com/featurebasedb/colbench/collective"
	"github.com/featurebasedb/colbench/ctl"
	"github.com/featurebasedb/colbench/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand() (*ctl.BenchCommand, *bytes.Buffer) {
	var stdout bytes.Buffer
	cmd := ctl.NewBenchCommand(strings.NewReader(""), &stdout, os.Stderr)
	return cmd, &stdout
}

func TestBenchCommand_InvalidOptions(t *testing.T) {
	cmd, _ := newCommand()
	err := cmd.Run(context.Background())
	assert.True(t, errors.Is(err, ctl.ErrBenchmarkRequired))

	cmd.Config.Benchmark = "allreduce"
	err = cmd.Run(context.Background())
	assert.True(t, errors.Is(err, bench.ErrUnknownBenchmark))

	cmd.Config.Benchmark = "spin"
	cmd.Config.Transport = "ibverbs"
	err = cmd.Run(context.Background())
	assert.True(t, errors.Is(err, collective.ErrUnknownTransport))
}

func TestBenchCommand_Run(t *testing.T) {
	cmd, stdout := newCommand()
	cmd.Config.Benchmark = "spin"
	cmd.Config.Processes = 2
	cmd.Config.Threads = 2
	cmd.Config.Elements = 32
	cmd.Config.IterationCount = 2

	require.NoError(t, cmd.Run(context.Background()))

	out := stdout.String()
	assert.Contains(t, out, "Device:      local, size=2")
	assert.Contains(t, out, "Algorithm:   spin")
	assert.Contains(t, out, "processes=2, inputs=1, threads=2")
	assert.Contains(t, out, "elements")
	assert.Contains(t, out, "32")
}

func TestBenchCommand_RunCollective(t *testing.T) {
	cmd, stdout := newCommand()
	cmd.Config.Benchmark = "broadcast"
	cmd.Config.Processes = 2
	cmd.Config.Elements = 1
	cmd.Config.IterationCount = 3

	require.NoError(t, cmd.Run(context.Background()))
	assert.Contains(t, stdout.String(), "Algorithm:   broadcast")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
benchmark = "barrier"
processes = 4
iteration-time = "250ms"
verify = false
`), 0o644))

	cfg, err := ctl.LoadConfig(path, ctl.NewConfig())
	require.NoError(t, err)
	assert.Equal(t, "barrier", cfg.Benchmark)
	assert.Equal(t, 4, cfg.Processes)
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.IterationTime))
	assert.False(t, cfg.Verify)

	// Unset keys keep their defaults.
	assert.Equal(t, "local", cfg.Transport)
	assert.Equal(t, 5, cfg.WarmupIterations)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := ctl.LoadConfig(filepath.Join(t.TempDir(), "nope.toml"), ctl.NewConfig())
	assert.Error(t, err)
}
