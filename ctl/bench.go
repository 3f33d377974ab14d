// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ctl contains the command logic behind the colbench binary.
package ctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/featurebasedb/colbench"
	"github.com/featurebasedb/colbench/bench"
	"github.com/featurebasedb/colbench/collective"
	_ "github.com/featurebasedb/colbench/collective/local" // registers the "local" transport
	"github.com/featurebasedb/colbench/errors"
	"github.com/featurebasedb/colbench/logger"
	"github.com/featurebasedb/colbench/statsd"
	colbenchtoml "github.com/featurebasedb/colbench/toml"
	"github.com/pelletier/go-toml"
	"golang.org/x/sync/errgroup"
)

const (
	// ErrBenchmarkRequired means no benchmark name was configured.
	ErrBenchmarkRequired errors.Code = "BenchmarkRequired"
)

// Config holds a benchmark run's configuration. Fields mirror the command
// line flags and can also be loaded from a TOML file.
type Config struct {
	Transport        string                `toml:"transport"`
	Processes        int                   `toml:"processes"`
	Threads          int                   `toml:"threads"`
	Inputs           int                   `toml:"inputs"`
	Benchmark        string                `toml:"benchmark"`
	Elements         int                   `toml:"elements"`
	IterationCount   int                   `toml:"iteration-count"`
	IterationTime    colbenchtoml.Duration `toml:"iteration-time"`
	WarmupIterations int                   `toml:"warmup-iterations"`
	Sync             bool                  `toml:"sync"`
	BusyPoll         bool                  `toml:"busy-poll"`
	Verify           bool                  `toml:"verify"`
	ShowNanos        bool                  `toml:"show-nanos"`
	StatsHost        string                `toml:"stats-host"`
	Verbose          bool                  `toml:"verbose"`
}

// NewConfig returns a Config with the standard defaults.
func NewConfig() Config {
	return Config{
		Transport:        "local",
		Processes:        1,
		Threads:          1,
		Inputs:           1,
		IterationTime:    colbenchtoml.Duration(2 * time.Second),
		WarmupIterations: 5,
		Verify:           true,
	}
}

// LoadConfig reads a TOML config file into a Config over the given defaults.
func LoadConfig(path string, defaults Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, errors.Wrapf(err, "reading config file %s", path)
	}
	cfg := defaults
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return defaults, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}

// BenchCommand represents a command for running collective benchmarks.
type BenchCommand struct {
	Config Config

	// Standard input/output
	*colbench.CmdIO
}

// NewBenchCommand returns a new instance of BenchCommand.
func NewBenchCommand(stdin io.Reader, stdout, stderr io.Writer) *BenchCommand {
	return &BenchCommand{
		Config: NewConfig(),
		CmdIO:  colbench.NewCmdIO(stdin, stdout, stderr),
	}
}

// Run executes the benchmark: one runner per participant, all ranks hosted in
// this process by the configured transport, with rank 0 reporting.
func (cmd *BenchCommand) Run(ctx context.Context) error {
	cfg := cmd.Config
	if cfg.Benchmark == "" {
		return errors.New(ErrBenchmarkRequired, "benchmark name required")
	}
	if cfg.Processes <= 0 {
		cfg.Processes = 1
	}

	fn, elementSize, err := bench.Factory(cfg.Benchmark)
	if err != nil {
		return err
	}

	// Resolve the transport up front so a bad name fails before any worker
	// or stats machinery spins up.
	transport, err := collective.Lookup(cfg.Transport)
	if err != nil {
		return err
	}

	stats := colbench.NopStatsClient
	if cfg.StatsHost != "" {
		client, err := statsd.NewStatsClient(cfg.StatsHost)
		if err != nil {
			return errors.Wrap(err, "creating stats client")
		}
		client.SetLogger(cmd.Logger())
		defer client.Close()
		stats = client
	}

	log := logger.Logger(logger.NopLogger)
	if cfg.Verbose {
		log = logger.NewVerboseLogger(cmd.Stderr)
	}

	g, _ := errgroup.WithContext(ctx)
	for rank := 0; rank < cfg.Processes; rank++ {
		rank := rank
		g.Go(func() error {
			dev, factory, err := transport.Open(rank, cfg.Processes)
			if err != nil {
				return err
			}

			r, err := colbench.NewRunner(colbench.Options{
				Rank:             rank,
				Size:             cfg.Processes,
				Threads:          cfg.Threads,
				Inputs:           cfg.Inputs,
				Benchmark:        cfg.Benchmark,
				Elements:         cfg.Elements,
				ElementSize:      elementSize,
				IterationCount:   cfg.IterationCount,
				IterationTime:    time.Duration(cfg.IterationTime),
				WarmupIterations: cfg.WarmupIterations,
				Sync:             cfg.Sync,
				BusyPoll:         cfg.BusyPoll,
				Verify:           cfg.Verify,
				ShowNanos:        cfg.ShowNanos,
				Device:           dev,
				Factory:          factory,
				Output:           cmd.Stdout,
				Logger:           log.WithPrefix(rankPrefix(rank)),
				Stats:            stats.WithTags("transport:" + cfg.Transport),
			})
			if err != nil {
				return err
			}
			defer r.Close()
			return r.Run(fn)
		})
	}
	return g.Wait()
}

func rankPrefix(rank int) string {
	return fmt.Sprintf("rank%d ", rank)
}
