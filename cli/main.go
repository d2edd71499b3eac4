package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Octogonapus/S3BenchRunner/bench"
	"github.com/Octogonapus/S3BenchRunner/metrics"
	"github.com/Octogonapus/S3BenchRunner/monitor"
	"github.com/Octogonapus/S3BenchRunner/prep"
	"github.com/Octogonapus/S3BenchRunner/report"
	"github.com/Octogonapus/S3BenchRunner/util"
	"github.com/Octogonapus/S3BenchRunner/workload"

	_ "github.com/Octogonapus/S3BenchRunner/loopback"
	_ "github.com/Octogonapus/S3BenchRunner/s3driver"
)

func main() {
	workloadPath := flag.String("workload", "", "Path to the workload run file (e.g. workloads/download-5GiB-1x.run.json). Required.")
	driverID := flag.String("driver", "", fmt.Sprintf("The transfer driver to benchmark. Must be one of: %s. Required.", bench.ExplainDrivers()))
	bucket := flag.String("bucket", "", "The S3 bucket holding the benchmark objects.")
	region := flag.String("region", "", "The AWS region (e.g. us-west-2). Discovered from IMDS when omitted.")
	targetThroughput := flag.Float64("throughput", 0, "The instance's target network throughput in gigabits per second. Drivers may use this to size their internals.")
	driverOptionsJSON := flag.String("driver-options", "", "Driver-specific options as a JSON object (e.g. '{\"PartSizeMiB\": 16}').")
	maxConcurrency := flag.Int("max-concurrency", 0, "Override the driver's task admission budget. Uses the driver's own budget by default.")
	telemetryDir := flag.String("telemetry-dir", "", "Write one CSV of per-task timings per run into this directory. Disabled by default.")
	monitorSystem := flag.Bool("monitor", false, "Sample CPU, memory, and network utilization once per second while the benchmark runs, and log a summary at the end.")
	prepareFiles := flag.Bool("prepare-files", false, "Before running, create the local files this workload uploads from disk and the directories its downloads save into.")
	reportMetrics := flag.Bool("report-metrics", false, "Publish per-run results to CloudWatch after the benchmark.")
	instanceType := flag.String("instance-type", "", "The EC2 instance type, used as a metrics dimension.")
	branch := flag.String("branch", "", "The source branch under test, used as a metrics dimension.")
	storageClass := flag.String("storage-class", "", "The bucket's storage class, used as a metrics dimension.")
	verbose := flag.Bool("verbose", false, "Enable debug logging.")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if *workloadPath == "" {
		util.ExitWithError("workload is a required flag")
	}
	if *driverID == "" {
		util.ExitWithError(fmt.Sprintf("driver is a required flag, one of: %s", bench.ExplainDrivers()))
	}

	w, err := workload.Load(*workloadPath)
	if err != nil {
		var formatErr *workload.FormatError
		if errors.As(err, &formatErr) {
			util.ExitWithSkipCode(err.Error())
		}
		util.ExitWithError(err.Error())
	}
	slog.Debug("loaded workload",
		slog.String("path", *workloadPath),
		slog.Int("uploads", w.NumUploads()),
		slog.Int("downloads", w.NumDownloads()),
		slog.Bool("filesOnDisk", w.FilesOnDisk))

	var driverOptions map[string]any
	if *driverOptionsJSON != "" {
		err = json.Unmarshal([]byte(*driverOptionsJSON), &driverOptions)
		if err != nil {
			util.ExitWithError(fmt.Sprintf("parsing driver-options failed: %s", err))
		}
	}

	if *prepareFiles {
		specs, err := prep.GatherFiles(map[string]*workload.Workload{*workloadPath: w})
		if err != nil {
			util.ExitWithError(fmt.Sprintf("gathering workload files failed: %s", err))
		}
		err = prep.CreateFiles(".", specs, 0)
		if err != nil {
			util.ExitWithError(err.Error())
		}
	}

	driver, err := bench.NewDriver(*driverID, &bench.DriverConfig{
		Bucket:               *bucket,
		Region:               *region,
		TargetThroughputGbps: *targetThroughput,
	}, driverOptions)
	if err != nil {
		util.ExitWithError(fmt.Sprintf("setting up the %s driver failed: %s", *driverID, err))
	}

	runner, err := bench.NewRunner(&bench.RunnerInput{
		Workload:       w,
		Driver:         driver,
		MaxConcurrency: *maxConcurrency,
		PrepareRun: func() error {
			return prep.Run(w)
		},
		TelemetryDir: *telemetryDir,
	})
	if err != nil {
		util.ExitWithError(err.Error())
	}

	var mon *monitor.Monitor
	if *monitorSystem {
		mon = monitor.New(1 * time.Second)
		mon.Start()
	}

	start := time.Now()
	durations, err := runner.Execute(context.Background())
	if err != nil {
		util.ExitWithError(err.Error())
	}
	end := time.Now()

	if mon != nil {
		mon.Stop()
		mon.LogSummary()
	}

	err = driver.Close()
	if err != nil {
		slog.Warn("closing the driver failed", slog.String("error", err.Error()))
	}

	rep := report.Build(w.BytesPerRun(), durations)
	rep.Print(os.Stdout)

	if *reportMetrics {
		err = metrics.Publish(context.Background(), *region, &metrics.Input{
			DriverID:     *driverID,
			InstanceType: *instanceType,
			Branch:       *branch,
			StorageClass: *storageClass,
			WorkloadPath: *workloadPath,
			BytesPerRun:  w.BytesPerRun(),
			Durations:    durations,
			Start:        start,
			End:          end,
		})
		if err != nil {
			// Metrics are best-effort. A reporting failure must not fail the
			// benchmark itself.
			slog.Error("reporting metrics failed", slog.String("error", err.Error()))
		}
	}

	fmt.Println("Done!")
}
