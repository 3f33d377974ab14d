// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package colbench

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// reportWriter renders the coordinator's report: a header block followed by
// one row per measured size. Rows accumulate and the table is rendered when
// the sweep completes.
type reportWriter struct {
	w         io.Writer
	showNanos bool
	tw        table.Writer
}

func newReportWriter(w io.Writer, showNanos bool) *reportWriter {
	unit := "(us)"
	if showNanos {
		unit = "(ns)"
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)

	// Don't uppercase the header values.
	tw.Style().Format.Header = text.FormatDefault

	tw.AppendHeader(table.Row{
		"elements",
		"min " + unit,
		"p50 " + unit,
		"p99 " + unit,
		"max " + unit,
		"avg (GB/s)",
		"samples",
	})

	return &reportWriter{
		w:         w,
		showNanos: showNanos,
		tw:        tw,
	}
}

func (rw *reportWriter) writeHeader(device, algorithm string, processes, inputs, threads int) {
	fmt.Fprintf(rw.w, "%-13s%s\n", "Device:", device)
	fmt.Fprintf(rw.w, "%-13s%s\n", "Algorithm:", algorithm)
	fmt.Fprintf(rw.w, "%-13sprocesses=%d, inputs=%d, threads=%d\n\n", "Options:", processes, inputs, threads)
}

func (rw *reportWriter) writeRow(elements, elementSize, threads int, latency *Distribution) {
	div := time.Duration(1000)
	if rw.showNanos {
		div = 1
	}

	rw.tw.AppendRow(table.Row{
		elements,
		int64(latency.Min() / div),
		int64(latency.Percentile(0.50) / div),
		int64(latency.Percentile(0.99) / div),
		int64(latency.Max() / div),
		fmt.Sprintf("%.3f", bandwidthGBps(elements, elementSize, threads, latency)),
		latency.Len(),
	})
}

func (rw *reportWriter) flush() {
	rw.tw.Render()
}

// bandwidthGBps estimates aggregate bandwidth for one round: total bytes
// moved across all samples over the wall-clock time approximated by the
// latency sum spread across fully-overlapped threads.
func bandwidthGBps(elements, elementSize, threads int, latency *Distribution) float64 {
	totalBytes := int64(elements) * int64(elementSize) * int64(latency.Len())
	totalNanos := latency.Sum().Nanoseconds() / int64(threads)
	if totalNanos <= 0 {
		return 0
	}
	return float64(totalBytes) * 1e9 / float64(totalNanos) / (1 << 30)
}
