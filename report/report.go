// Package report aggregates per-run benchmark results into the summary lines
// the surrounding orchestration scripts scrape.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Octogonapus/S3BenchRunner/util"
)

// Report holds one workload execution's results: the per-run series and their
// summaries.
type Report struct {
	BytesPerRun    int64
	DurationSecs   []float64
	ThroughputGbps []float64
	Duration       Summary
	Throughput     Summary
}

// Build derives per-run throughput from the per-run durations and summarizes
// both series.
func Build(bytesPerRun int64, durations []time.Duration) *Report {
	r := &Report{BytesPerRun: bytesPerRun}
	gigabits := util.BytesToGigabit(bytesPerRun)
	for _, d := range durations {
		secs := d.Seconds()
		r.DurationSecs = append(r.DurationSecs, secs)
		r.ThroughputGbps = append(r.ThroughputGbps, gigabits/secs)
	}
	r.Duration = Summarize(r.DurationSecs)
	r.Throughput = Summarize(r.ThroughputGbps)
	return r
}

// Print writes the overall stats lines. The format is shared across runner
// implementations and parsed downstream; don't change it.
func (r *Report) Print(w io.Writer) {
	printSummary(w, "Throughput (Gb/s)", r.Throughput)
	printSummary(w, "Duration (Secs)", r.Duration)

	rss, err := PeakRSSBytes()
	if err != nil {
		slog.Warn("reading peak RSS failed", slog.String("error", err.Error()))
		return
	}
	fmt.Fprintf(w, "Peak RSS:%f MiB\n", util.BytesToMiB(rss))
}

func printSummary(w io.Writer, label string, s Summary) {
	fmt.Fprintf(w, "Overall %s Median:%f Mean:%f Min:%f Max:%f Variance:%f StdDev:%f\n",
		label, s.Median, s.Mean, s.Min, s.Max, s.Variance, s.StdDev)
}
