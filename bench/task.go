package bench

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Octogonapus/S3BenchRunner/telemetry"
	"github.com/Octogonapus/S3BenchRunner/workload"
)

type taskState int32

const (
	taskCreated taskState = iota
	taskAdmitted
	taskRunning
	taskSucceeded
	taskFailed
)

func (s taskState) String() string {
	switch s {
	case taskCreated:
		return "created"
	case taskAdmitted:
		return "admitted"
	case taskRunning:
		return "running"
	case taskSucceeded:
		return "succeeded"
	case taskFailed:
		return "failed"
	}
	return "unknown"
}

// task is one transfer within a run. Its lifecycle is created -> admitted
// (budget unit held) -> running (driver working) -> succeeded or failed. The
// budget unit is released on completion, on either outcome.
type task struct {
	index int
	cfg   workload.Task

	state atomic.Int32
	r     *Runner
	sink  *creditSink // non-nil only for disk downloads
	tel   telemetry.Sink
	start time.Time
	end   time.Time
	err   error
	done  chan struct{}
}

// startTask admits one task against the concurrency budget, blocking until a
// unit is free, then hands the transfer to the driver. Everything the
// completion callback touches is built before Begin, so a callback racing
// Begin's return finds fully constructed state.
func (r *Runner) startTask(ctx context.Context, index int, cfg workload.Task, tel telemetry.Sink) (*task, error) {
	t := &task{index: index, cfg: cfg, r: r, tel: tel, done: make(chan struct{})}
	t.state.Store(int32(taskCreated))

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("task %d: admission failed: %w", index, err)
	}
	t.state.Store(int32(taskAdmitted))

	req := &TransferRequest{
		Action:      cfg.Action,
		Key:         cfg.Key,
		Size:        cfg.Size,
		FilesOnDisk: r.w.FilesOnDisk,
		Checksum:    r.w.Checksum,
		OnComplete:  t.complete,
	}
	switch cfg.Action {
	case workload.ActionUpload:
		if !r.w.FilesOnDisk {
			req.Payload = r.payload[:cfg.Size]
		}
	case workload.ActionDownload:
		if r.w.FilesOnDisk {
			sink, err := newCreditSink(cfg.Key)
			if err != nil {
				r.sem.Release(1)
				return nil, fmt.Errorf("task %d: %w", index, err)
			}
			t.sink = sink
			req.Sink = sink
		} else {
			req.Sink = io.Discard
		}
	}

	t.start = time.Now()
	t.state.Store(int32(taskRunning))
	tr, err := r.driver.Begin(req)
	if err != nil {
		if t.sink != nil {
			t.sink.Close()
		}
		r.sem.Release(1)
		return nil, fmt.Errorf("task %d: starting %s of %s failed: %w", index, cfg.Action, cfg.Key, err)
	}
	if t.sink != nil {
		t.sink.attach(tr)
	}
	return t, nil
}

// complete is the driver's completion callback. It may fire on any goroutine,
// including before startTask has returned to its caller.
func (t *task) complete(err error) {
	t.end = time.Now()
	if t.sink != nil {
		cerr := t.sink.Close()
		if err == nil && cerr != nil {
			err = cerr
		}
	}
	if err != nil {
		t.err = fmt.Errorf("task %d: %s of %s failed: %w", t.index, t.cfg.Action, t.cfg.Key, err)
		t.state.Store(int32(taskFailed))
		slog.Error("task failed",
			slog.Int("index", t.index),
			slog.String("action", string(t.cfg.Action)),
			slog.String("key", t.cfg.Key),
			slog.String("error", err.Error()))
	} else {
		t.state.Store(int32(taskSucceeded))
	}
	if terr := t.tel.Record(telemetry.Sample{
		TaskIndex: t.index,
		Action:    string(t.cfg.Action),
		Key:       t.cfg.Key,
		Bytes:     t.cfg.Size,
		Start:     t.start,
		End:       t.end,
	}); terr != nil {
		slog.Warn("recording telemetry sample failed", slog.String("error", terr.Error()))
	}
	t.r.sem.Release(1)
	close(t.done)
}

// wait blocks until the task completes and returns its outcome.
func (t *task) wait() error {
	<-t.done
	return t.err
}
