package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/Octogonapus/S3BenchRunner/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDriver simulates transfers in-process. Each Begin spawns a goroutine
// that optionally delivers download bytes to the sink, then completes. The
// in-flight counter covers Begin through OnComplete, which is exactly the
// span the admission budget bounds.
type stubDriver struct {
	concurrency int
	delay       time.Duration
	failKeys    map[string]bool

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	begun       []string
	payloadLens map[string]int
}

func (d *stubDriver) Begin(req *TransferRequest) (Transfer, error) {
	d.mu.Lock()
	d.begun = append(d.begun, req.Key)
	if req.Payload != nil {
		if d.payloadLens == nil {
			d.payloadLens = map[string]int{}
		}
		d.payloadLens[req.Key] = len(req.Payload)
	}
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	d.mu.Unlock()

	go func() {
		if d.delay > 0 {
			time.Sleep(d.delay)
		}

		var err error
		if d.failKeys[req.Key] {
			err = errors.New("injected failure")
		} else if req.Action == workload.ActionDownload {
			chunk := make([]byte, 64*1024)
			remaining := req.Size
			for remaining > 0 && err == nil {
				n := remaining
				if n > int64(len(chunk)) {
					n = int64(len(chunk))
				}
				_, err = req.Sink.Write(chunk[:n])
				remaining -= n
			}
		}

		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
		req.OnComplete(err)
	}()
	return nopTransfer{}, nil
}

type nopTransfer struct{}

func (nopTransfer) GrantReadWindow(int64) {}

func (d *stubDriver) MaxConcurrency() int { return d.concurrency }
func (d *stubDriver) Close() error        { return nil }

func testWorkload(filesOnDisk bool, repeatCount, repeatSecs int, tasks ...workload.Task) *workload.Workload {
	return &workload.Workload{
		Version:        workload.FormatVersion,
		FilesOnDisk:    filesOnDisk,
		MaxRepeatCount: repeatCount,
		MaxRepeatSecs:  repeatSecs,
		Tasks:          tasks,
	}
}

func TestRunOnceRunsEveryTask(t *testing.T) {
	var tasks []workload.Task
	for i := 0; i < 5; i++ {
		tasks = append(tasks, workload.Task{
			Action: workload.ActionDownload,
			Key:    fmt.Sprintf("download/1KiB-5x/%d", i+1),
			Size:   1024,
		})
	}
	d := &stubDriver{concurrency: 8}
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 1, 600, tasks...), Driver: d})
	require.NoError(t, err)

	dur, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Greater(t, dur, time.Duration(0))

	// Serialized admission starts tasks in workload order.
	require.Len(t, d.begun, 5)
	for i, key := range d.begun {
		assert.Equal(t, tasks[i].Key, key)
	}
}

func TestRunOnceBoundsConcurrency(t *testing.T) {
	var tasks []workload.Task
	for i := 0; i < 12; i++ {
		tasks = append(tasks, workload.Task{
			Action: workload.ActionDownload,
			Key:    fmt.Sprintf("download/1KiB-12x/%d", i+1),
			Size:   1024,
		})
	}
	d := &stubDriver{concurrency: 4, delay: 100 * time.Millisecond}
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 1, 600, tasks...), Driver: d})
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, d.maxInFlight)
}

func TestRunOnceSlicesPayloadPerTask(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionUpload, Key: "upload/a", Size: 10},
		{Action: workload.ActionUpload, Key: "upload/b", Size: 20},
	}
	d := &stubDriver{concurrency: 2}
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 1, 600, tasks...), Driver: d})
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, d.payloadLens["upload/a"])
	assert.Equal(t, 20, d.payloadLens["upload/b"])
}

func TestRunOnceWritesDownloadFiles(t *testing.T) {
	key := filepath.Join(t.TempDir(), "download", "64KiB-1x", "1")
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: key, Size: 64 * 1024},
	}
	d := &stubDriver{concurrency: 1}
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(true, 1, 600, tasks...), Driver: d})
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	require.NoError(t, err)

	fi, err := os.Stat(key)
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), fi.Size())
}

func TestRunOnceFirstFailureIsFatal(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/ok/1", Size: 16},
		{Action: workload.ActionDownload, Key: "download/bad/2", Size: 16},
		{Action: workload.ActionDownload, Key: "download/ok/3", Size: 16},
	}
	d := &stubDriver{concurrency: 4, failKeys: map[string]bool{"download/bad/2": true}}
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 1, 600, tasks...), Driver: d})
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task 1")
	assert.Contains(t, err.Error(), "download/bad/2")
}

func TestRunOnceFailureReleasesBudget(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/bad/1", Size: 16},
		{Action: workload.ActionDownload, Key: "download/ok/2", Size: 16},
	}
	d := &stubDriver{
		concurrency: 1,
		delay:       50 * time.Millisecond,
		failKeys:    map[string]bool{"download/bad/1": true},
	}
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 1, 600, tasks...), Driver: d})
	require.NoError(t, err)

	// Admission of the second task can only proceed once the failed first
	// task has released its budget unit.
	_, err = r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, d.begun, 2)
}

func TestExecuteHonorsRepeatCount(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/1KiB-1x/1", Size: 1024},
	}
	d := &stubDriver{concurrency: 1}
	var out bytes.Buffer
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 3, 600, tasks...), Driver: d, Out: &out})
	require.NoError(t, err)

	durations, err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Len(t, durations, 3)
	assert.Contains(t, out.String(), "Run:1 ")
	assert.Contains(t, out.String(), "Run:2 ")
	assert.Contains(t, out.String(), "Run:3 ")
}

func TestExecuteHonorsTimeBudget(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/1KiB-1x/1", Size: 1024},
	}
	d := &stubDriver{concurrency: 1, delay: 700 * time.Millisecond}
	var out bytes.Buffer
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 100, 1, tasks...), Driver: d, Out: &out})
	require.NoError(t, err)

	// The budget is only consulted after a run completes, so the run that
	// crosses it still finishes and is reported.
	durations, err := r.Execute(context.Background())
	require.NoError(t, err)
	assert.Len(t, durations, 2)
}

func TestExecuteRunLineFormat(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/1MiB-1x/1", Size: 1024 * 1024},
	}
	d := &stubDriver{concurrency: 1, delay: 10 * time.Millisecond}
	var out bytes.Buffer
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 1, 600, tasks...), Driver: d, Out: &out})
	require.NoError(t, err)

	_, err = r.Execute(context.Background())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`(?m)^Run:1 Secs:\d+\.\d{6} Gb/s:\d+\.\d{6}$`), out.String())
}

func TestExecuteStopsAfterFailedRun(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/bad/1", Size: 16},
	}
	d := &stubDriver{concurrency: 1, failKeys: map[string]bool{"download/bad/1": true}}
	var out bytes.Buffer
	r, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 5, 600, tasks...), Driver: d, Out: &out})
	require.NoError(t, err)

	durations, err := r.Execute(context.Background())
	require.Error(t, err)
	assert.Empty(t, durations)
	assert.Len(t, d.begun, 1)
}

func TestExecuteRunsPrepareBeforeEachRun(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/1KiB-1x/1", Size: 1024},
	}
	d := &stubDriver{concurrency: 1}
	prepares := 0
	r, err := NewRunner(&RunnerInput{
		Workload: testWorkload(false, 3, 600, tasks...),
		Driver:   d,
		PrepareRun: func() error {
			prepares++
			return nil
		},
		Out: &bytes.Buffer{},
	})
	require.NoError(t, err)

	_, err = r.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, prepares)
}

func TestExecuteWritesTelemetryPerRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "telemetry")
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/1KiB-2x/1", Size: 1024},
		{Action: workload.ActionDownload, Key: "download/1KiB-2x/2", Size: 1024},
	}
	d := &stubDriver{concurrency: 2}
	r, err := NewRunner(&RunnerInput{
		Workload:     testWorkload(false, 2, 600, tasks...),
		Driver:       d,
		TelemetryDir: dir,
		Out:          &bytes.Buffer{},
	})
	require.NoError(t, err)

	_, err = r.Execute(context.Background())
	require.NoError(t, err)

	for _, name := range []string{"01.csv", "02.csv"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, 3, bytes.Count(data, []byte("\n")), "expected a header and one row per task in %s", name)
	}
}

func TestNewRunnerRejectsZeroBudget(t *testing.T) {
	tasks := []workload.Task{
		{Action: workload.ActionDownload, Key: "download/1KiB-1x/1", Size: 1024},
	}
	d := &stubDriver{concurrency: 0}
	_, err := NewRunner(&RunnerInput{Workload: testWorkload(false, 1, 600, tasks...), Driver: d})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget")
}
