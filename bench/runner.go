package bench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Octogonapus/S3BenchRunner/payload"
	"github.com/Octogonapus/S3BenchRunner/telemetry"
	"github.com/Octogonapus/S3BenchRunner/util"
	"github.com/Octogonapus/S3BenchRunner/workload"
	"golang.org/x/sync/semaphore"
)

type RunnerInput struct {
	Workload *workload.Workload
	Driver   Driver

	// MaxConcurrency overrides the driver's admission budget when positive.
	MaxConcurrency int

	// PrepareRun runs before each run, outside the timed window.
	PrepareRun func() error

	// TelemetryDir, when set, receives one CSV of per-task samples per run.
	TelemetryDir string

	// Out receives the per-run progress lines. Defaults to os.Stdout.
	Out io.Writer
}

// Runner executes a workload's runs against one driver.
type Runner struct {
	w            *workload.Workload
	driver       Driver
	payload      []byte
	sem          *semaphore.Weighted
	budget       int
	prepareRun   func() error
	telemetryDir string
	out          io.Writer
}

func NewRunner(in *RunnerInput) (*Runner, error) {
	if in.Workload == nil || in.Driver == nil {
		return nil, fmt.Errorf("a runner needs a workload and a driver")
	}
	budget := in.MaxConcurrency
	if budget <= 0 {
		budget = in.Driver.MaxConcurrency()
	}
	if budget < 1 {
		return nil, fmt.Errorf("concurrency budget must be positive, got %d", budget)
	}
	buf, err := payload.ForWorkload(in.Workload)
	if err != nil {
		return nil, fmt.Errorf("allocating the upload payload failed: %w", err)
	}
	out := in.Out
	if out == nil {
		out = os.Stdout
	}
	return &Runner{
		w:            in.Workload,
		driver:       in.Driver,
		payload:      buf,
		sem:          semaphore.NewWeighted(int64(budget)),
		budget:       budget,
		prepareRun:   in.PrepareRun,
		telemetryDir: in.TelemetryDir,
		out:          out,
	}, nil
}

// RunOnce executes every task of the workload once, bounded by the admission
// budget, and returns the run's wall-clock duration.
func (r *Runner) RunOnce(ctx context.Context) (time.Duration, error) {
	return r.runOnce(ctx, telemetry.Nop{})
}

// runOnce starts tasks strictly in workload order. Task N+1 is not
// constructed until task N's construction has returned, so admission blocks
// the controlling goroutine when the budget is exhausted. Completions are
// then awaited in order; the first failure is fatal and siblings are left to
// finish on their own.
func (r *Runner) runOnce(ctx context.Context, tel telemetry.Sink) (time.Duration, error) {
	start := time.Now()

	tasks := make([]*task, 0, len(r.w.Tasks))
	for i, cfg := range r.w.Tasks {
		t, err := r.startTask(ctx, i, cfg, tel)
		if err != nil {
			return 0, err
		}
		tasks = append(tasks, t)
	}

	for _, t := range tasks {
		if err := t.wait(); err != nil {
			return 0, err
		}
	}
	return time.Since(start), nil
}

// Execute repeats runs until the workload's repeat count or wall-clock budget
// is exhausted, whichever comes first. The time budget is only consulted
// after a run completes; a run in progress is never interrupted. Returns the
// duration of every completed run.
func (r *Runner) Execute(ctx context.Context) ([]time.Duration, error) {
	gigabits := util.BytesToGigabit(r.w.BytesPerRun())

	slog.Info("starting benchmark runs",
		slog.Int("tasks", len(r.w.Tasks)),
		slog.Int("maxRepeatCount", r.w.MaxRepeatCount),
		slog.Int("maxRepeatSecs", r.w.MaxRepeatSecs),
		slog.Int("concurrency", r.budget))

	var durations []time.Duration
	appStart := time.Now()
	for runNumber := 1; runNumber <= r.w.MaxRepeatCount; runNumber++ {
		if err := ctx.Err(); err != nil {
			return durations, err
		}

		if r.prepareRun != nil {
			if err := r.prepareRun(); err != nil {
				return durations, fmt.Errorf("preparing run %d failed: %w", runNumber, err)
			}
		}

		tel, err := r.newTelemetrySink(runNumber)
		if err != nil {
			return durations, err
		}

		slog.Debug("starting run", slog.Int("run", runNumber))
		dur, runErr := r.runOnce(ctx, tel)
		if cerr := tel.Close(); cerr != nil {
			slog.Warn("closing telemetry sink failed", slog.String("error", cerr.Error()))
		}
		if runErr != nil {
			return durations, runErr
		}

		durations = append(durations, dur)
		secs := dur.Seconds()
		fmt.Fprintf(r.out, "Run:%d Secs:%f Gb/s:%f\n", runNumber, secs, gigabits/secs)

		if time.Since(appStart) >= r.w.MaxRepeatDuration() {
			break
		}
	}
	return durations, nil
}

func (r *Runner) newTelemetrySink(runNumber int) (telemetry.Sink, error) {
	if r.telemetryDir == "" {
		return telemetry.Nop{}, nil
	}
	sink, err := telemetry.NewCSVSink(r.telemetryDir, runNumber)
	if err != nil {
		return nil, fmt.Errorf("opening the telemetry sink for run %d failed: %w", runNumber, err)
	}
	return sink, nil
}
