package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMetricDataSkipsWarmupRun(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	in := &Input{
		DriverID:     "sdk-go",
		WorkloadPath: "workloads/download-5GiB-1x.run.json",
		BytesPerRun:  1_250_000_000, // 10 gigabits
		Durations:    []time.Duration{2 * time.Second, 2 * time.Second, 4 * time.Second},
		Start:        start,
		End:          start.Add(30 * time.Second),
	}

	data := BuildMetricData(in)
	// Two metrics per run, first run dropped as warmup.
	require.Len(t, data, 4)

	assert.Equal(t, "Throughput", *data[0].MetricName)
	assert.Equal(t, 5.0, *data[0].Value)
	assert.Equal(t, "Duration", *data[1].MetricName)
	assert.Equal(t, 2.0, *data[1].Value)
	assert.Equal(t, 2.5, *data[2].Value)
	assert.Equal(t, 4.0, *data[3].Value)
}

func TestBuildMetricDataKeepsSingleRun(t *testing.T) {
	in := &Input{
		BytesPerRun: 1_000_000_000,
		Durations:   []time.Duration{time.Second},
		Start:       time.Now(),
		End:         time.Now().Add(time.Second),
	}
	data := BuildMetricData(in)
	assert.Len(t, data, 2)
}

func TestBuildMetricDataEmptyWithoutRuns(t *testing.T) {
	assert.Nil(t, BuildMetricData(&Input{}))
}

func TestBuildMetricDataDimensions(t *testing.T) {
	in := &Input{
		DriverID:     "crt-c",
		InstanceType: "",
		Branch:       "main",
		WorkloadPath: "upload-256KiB-10_000x.run.json",
		BytesPerRun:  1024,
		Durations:    []time.Duration{time.Second},
	}
	data := BuildMetricData(in)
	require.Len(t, data, 2)

	dims := map[string]string{}
	for _, d := range data[0].Dimensions {
		dims[*d.Name] = *d.Value
	}
	assert.Equal(t, "crt-c", dims["S3Client"])
	assert.Equal(t, "Unknown", dims["InstanceType"])
	assert.Equal(t, "main", dims["Branch"])
	assert.Equal(t, "upload-256KiB-10_000x", dims["Workload"])
	assert.Equal(t, "Unknown", dims["StorageClass"])
}

func TestBuildMetricDataApproximatesTimestamps(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	in := &Input{
		BytesPerRun: 1024,
		Durations:   []time.Duration{time.Second, time.Second, time.Second},
		Start:       start,
		End:         start.Add(30 * time.Second),
	}
	data := BuildMetricData(in)
	require.Len(t, data, 4)

	// Runs are spaced evenly across [Start, End]; run 2 lands at +20s and
	// run 3 at +30s.
	assert.Equal(t, start.Add(20*time.Second), *data[0].Timestamp)
	assert.Equal(t, start.Add(30*time.Second), *data[2].Timestamp)
}
