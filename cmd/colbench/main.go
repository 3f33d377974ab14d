// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/featurebasedb/colbench/ctl"
	colbenchtoml "github.com/featurebasedb/colbench/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	rc := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rc.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	bc := ctl.NewBenchCommand(stdin, stdout, stderr)
	var (
		configPath    string
		iterationTime = time.Duration(bc.Config.IterationTime)
	)

	rc := &cobra.Command{
		Use:   "colbench",
		Short: "colbench measures the latency of collective operations.",
		Long: `colbench measures the latency and bandwidth of collective operations run
simultaneously by many worker threads across a group of participants. It
negotiates a common iteration count over the group and reports percentile
latencies and aggregate bandwidth from rank 0.
`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			bc.Config.IterationTime = colbenchtoml.Duration(iterationTime)
			if configPath == "" {
				return nil
			}
			fileCfg, err := ctl.LoadConfig(configPath, ctl.NewConfig())
			if err != nil {
				return err
			}
			applyFileConfig(cmd.Flags(), &bc.Config, fileCfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return bc.Run(cmd.Context())
		},
	}

	flags := rc.Flags()
	flags.StringVar(&bc.Config.Transport, "transport", bc.Config.Transport, "Transport to benchmark over.")
	flags.IntVar(&bc.Config.Processes, "processes", bc.Config.Processes, "Number of participants hosted by this process.")
	flags.IntVar(&bc.Config.Threads, "threads", bc.Config.Threads, "Worker threads per participant.")
	flags.IntVar(&bc.Config.Inputs, "inputs", bc.Config.Inputs, "Input count reported in the header.")
	flags.StringVar(&bc.Config.Benchmark, "benchmark", bc.Config.Benchmark, "Benchmark to run (barrier, broadcast, spin).")
	flags.IntVar(&bc.Config.Elements, "elements", bc.Config.Elements, "Fixed problem size; 0 sweeps the standard sizes.")
	flags.IntVar(&bc.Config.IterationCount, "iteration-count", bc.Config.IterationCount, "Fixed iteration count; 0 negotiates one from a warmup pass.")
	flags.DurationVar(&iterationTime, "iteration-time", iterationTime, "Target total run time per round when negotiating.")
	flags.IntVar(&bc.Config.WarmupIterations, "warmup-iterations", bc.Config.WarmupIterations, "Iteration count of the warmup pass.")
	flags.BoolVar(&bc.Config.Sync, "sync", bc.Config.Sync, "Force point-to-point pairs into synchronous handshake mode.")
	flags.BoolVar(&bc.Config.BusyPoll, "busy-poll", bc.Config.BusyPoll, "Busy-poll instead of sleeping in sync mode.")
	flags.BoolVar(&bc.Config.Verify, "verify", bc.Config.Verify, "Verify benchmark output before measuring.")
	flags.BoolVar(&bc.Config.ShowNanos, "nanos", bc.Config.ShowNanos, "Report latencies in nanoseconds instead of microseconds.")
	flags.StringVar(&bc.Config.StatsHost, "stats-host", bc.Config.StatsHost, "StatsD host:port to emit round metrics to.")
	flags.BoolVar(&bc.Config.Verbose, "verbose", bc.Config.Verbose, "Enable verbose logging.")
	flags.StringVarP(&configPath, "config", "c", "", "Configuration file to read from.")

	rc.SetOutput(stderr)
	return rc
}

// applyFileConfig copies file values into cfg for every flag the user did not
// set explicitly: flags win over the file, the file wins over defaults.
func applyFileConfig(flags *pflag.FlagSet, cfg *ctl.Config, file ctl.Config) {
	set := func(name string, apply func()) {
		if f := flags.Lookup(name); f == nil || !f.Changed {
			apply()
		}
	}
	set("transport", func() { cfg.Transport = file.Transport })
	set("processes", func() { cfg.Processes = file.Processes })
	set("threads", func() { cfg.Threads = file.Threads })
	set("inputs", func() { cfg.Inputs = file.Inputs })
	set("benchmark", func() { cfg.Benchmark = file.Benchmark })
	set("elements", func() { cfg.Elements = file.Elements })
	set("iteration-count", func() { cfg.IterationCount = file.IterationCount })
	set("iteration-time", func() { cfg.IterationTime = file.IterationTime })
	set("warmup-iterations", func() { cfg.WarmupIterations = file.WarmupIterations })
	set("sync", func() { cfg.Sync = file.Sync })
	set("busy-poll", func() { cfg.BusyPoll = file.BusyPoll })
	set("verify", func() { cfg.Verify = file.Verify })
	set("nanos", func() { cfg.ShowNanos = file.ShowNanos })
	set("stats-host", func() { cfg.StatsHost = file.StatsHost })
	set("verbose", func() { cfg.Verbose = file.Verbose })
}
