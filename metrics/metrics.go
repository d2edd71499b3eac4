// Package metrics publishes per-run benchmark results to CloudWatch so
// dashboards can track transfer performance over time.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Octogonapus/S3BenchRunner/util"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwTypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const namespace = "S3Benchmarks"

// Input describes one benchmark invocation's results.
type Input struct {
	DriverID     string
	InstanceType string
	Branch       string
	StorageClass string
	WorkloadPath string

	BytesPerRun int64
	Durations   []time.Duration

	// Start and End bracket the whole invocation. Per-run timestamps are
	// approximated by slicing this interval evenly.
	Start time.Time
	End   time.Time
}

// BuildMetricData converts results into CloudWatch datums: one Throughput and
// one Duration datum per run. When there was more than one run the first is
// not reported, since things are still warming up (connection pools, file
// caching, etc).
func BuildMetricData(in *Input) []cwTypes.MetricDatum {
	runCount := len(in.Durations)
	if runCount == 0 {
		return nil
	}

	dimensions := []cwTypes.Dimension{
		{Name: aws.String("S3Client"), Value: aws.String(orUnknown(in.DriverID))},
		{Name: aws.String("InstanceType"), Value: aws.String(orUnknown(in.InstanceType))},
		{Name: aws.String("Branch"), Value: aws.String(orUnknown(in.Branch))},
		{Name: aws.String("Workload"), Value: aws.String(workloadName(in.WorkloadPath))},
		{Name: aws.String("StorageClass"), Value: aws.String(orUnknown(in.StorageClass))},
	}

	gigabits := util.BytesToGigabit(in.BytesPerRun)
	approxPerRun := in.End.Sub(in.Start) / time.Duration(runCount)

	var data []cwTypes.MetricDatum
	for i, dur := range in.Durations {
		if i == 0 && runCount > 1 {
			continue
		}
		timestamp := in.Start.Add(approxPerRun * time.Duration(i+1))
		secs := dur.Seconds()
		data = append(data,
			cwTypes.MetricDatum{
				MetricName: aws.String("Throughput"),
				Value:      aws.Float64(gigabits / secs),
				Unit:       cwTypes.StandardUnitGigabitsSecond,
				Timestamp:  aws.Time(timestamp),
				Dimensions: dimensions,
			},
			cwTypes.MetricDatum{
				MetricName: aws.String("Duration"),
				Value:      aws.Float64(secs),
				Unit:       cwTypes.StandardUnitSeconds,
				Timestamp:  aws.Time(timestamp),
				Dimensions: dimensions,
			})
	}
	return data
}

// Publish sends every datum to CloudWatch in a single PutMetricData call.
func Publish(ctx context.Context, region string, in *Input) error {
	data := BuildMetricData(in)
	if len(data) == 0 {
		slog.Debug("no successful runs, not reporting metrics")
		return nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	} else {
		loadOpts = append(loadOpts, config.WithEC2IMDSRegion())
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("loading AWS config failed: %w", err)
	}

	slog.Info("reporting metrics", slog.Int("datums", len(data)))
	client := cloudwatch.NewFromConfig(awsCfg)
	_, err = client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("PutMetricData failed: %w", err)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// workloadName is the dashboard name for a workload: the file name up to the
// first dot, so "workloads/download-5GiB-1x.run.json" becomes
// "download-5GiB-1x".
func workloadName(path string) string {
	name := filepath.Base(path)
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return orUnknown(name)
}
