// Package loopback provides an in-process driver that simulates transfers
// without any network. It exists to exercise the engine end to end: tests,
// demos, and measuring engine overhead in isolation.
package loopback

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Octogonapus/S3BenchRunner/bench"
	"github.com/Octogonapus/S3BenchRunner/payload"
	"github.com/Octogonapus/S3BenchRunner/util"
	"github.com/Octogonapus/S3BenchRunner/workload"
	"github.com/alitto/pond"
	"github.com/mitchellh/mapstructure"
)

func init() {
	bench.RegisterDriver("loopback", func(cfg *bench.DriverConfig, options map[string]any) (bench.Driver, error) {
		opts := &Options{}
		err := mapstructure.Decode(options, opts)
		if err != nil {
			return nil, fmt.Errorf("can't convert options to loopback Options: %w", err)
		}
		if opts.BytesPerSec == 0 && cfg.TargetThroughputGbps > 0 {
			// Simulate the instance's network ceiling unless pacing was set
			// explicitly.
			opts.BytesPerSec = int64(cfg.TargetThroughputGbps * 1e9 / 8)
		}
		return New(opts)
	})
}

// Options configure the simulated transport.
type Options struct {
	// BytesPerSec paces every transfer when positive. Zero means unpaced.
	BytesPerSec int64

	// Latency is added to each transfer before any bytes move.
	Latency time.Duration

	// ChunkLen is the delivery granularity.
	ChunkLen int64

	// InitialWindow is how many download bytes may be delivered ahead of
	// granted credit when the destination is a disk file.
	InitialWindow int64

	// MaxConcurrency is the admission budget this driver reports.
	MaxConcurrency int

	// Workers sizes the transfer pool. Defaults to MaxConcurrency.
	Workers int

	// FailKey makes transfers on a matching key fail, for fault injection.
	FailKey string
}

type driver struct {
	opts  Options
	pool  *pond.WorkerPool
	chunk []byte
}

func New(opts *Options) (bench.Driver, error) {
	o := *opts
	if o.MaxConcurrency <= 0 {
		// Simulated transfers multiplex cheaply, so the budget can be large.
		o.MaxConcurrency = 1000
	}
	if o.ChunkLen <= 0 {
		o.ChunkLen = 256 * util.KiB
	}
	if o.InitialWindow <= 0 {
		o.InitialWindow = 256 * util.MiB
	}
	if o.Workers <= 0 {
		o.Workers = o.MaxConcurrency
	}
	chunk, err := payload.Generate(o.ChunkLen)
	if err != nil {
		return nil, fmt.Errorf("generating the delivery chunk failed: %w", err)
	}
	return &driver{
		opts:  o,
		pool:  pond.New(o.Workers, 0, pond.MinWorkers(o.Workers)),
		chunk: chunk,
	}, nil
}

type transfer struct {
	d   *driver
	req *bench.TransferRequest

	mu     sync.Mutex
	cond   *sync.Cond
	window int64
}

func (d *driver) Begin(req *bench.TransferRequest) (bench.Transfer, error) {
	tr := &transfer{d: d, req: req, window: d.opts.InitialWindow}
	tr.cond = sync.NewCond(&tr.mu)
	d.pool.Submit(func() {
		req.OnComplete(tr.run())
	})
	return tr, nil
}

func (d *driver) MaxConcurrency() int { return d.opts.MaxConcurrency }

func (d *driver) Close() error {
	d.pool.StopAndWait()
	return nil
}

func (tr *transfer) run() error {
	o := &tr.d.opts
	if o.Latency > 0 {
		time.Sleep(o.Latency)
	}
	if o.FailKey != "" && tr.req.Key == o.FailKey {
		return fmt.Errorf("injected failure for key %s", tr.req.Key)
	}
	switch tr.req.Action {
	case workload.ActionUpload:
		return tr.runUpload()
	case workload.ActionDownload:
		return tr.runDownload()
	}
	return fmt.Errorf("unsupported action %q", tr.req.Action)
}

func (tr *transfer) runUpload() error {
	var rd io.Reader
	if tr.req.Payload != nil {
		rd = bytes.NewReader(tr.req.Payload)
	} else {
		f, err := os.Open(tr.req.Key)
		if err != nil {
			return fmt.Errorf("opening the upload file failed: %w", err)
		}
		defer f.Close()
		rd = f
	}

	buf := make([]byte, tr.d.opts.ChunkLen)
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			tr.pace(int64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading upload bytes failed: %w", err)
		}
	}
}

func (tr *transfer) runDownload() error {
	// Disk downloads respect the read window so the engine's write-then-grant
	// flow control is exercised; RAM downloads are delivered unthrottled.
	backpressure := tr.req.FilesOnDisk
	remaining := tr.req.Size
	for remaining > 0 {
		n := min(remaining, int64(len(tr.d.chunk)))
		if backpressure {
			n = tr.take(n)
		}
		if _, err := tr.req.Sink.Write(tr.d.chunk[:n]); err != nil {
			return fmt.Errorf("delivering a download chunk failed: %w", err)
		}
		tr.pace(n)
		remaining -= n
	}
	return nil
}

// take blocks until at least one byte of window credit is available, then
// consumes up to want of it.
func (tr *transfer) take(want int64) int64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for tr.window <= 0 {
		tr.cond.Wait()
	}
	n := min(want, tr.window)
	tr.window -= n
	return n
}

func (tr *transfer) GrantReadWindow(n int64) {
	tr.mu.Lock()
	tr.window += n
	tr.mu.Unlock()
	tr.cond.Broadcast()
}

func (tr *transfer) pace(n int64) {
	if tr.d.opts.BytesPerSec > 0 {
		time.Sleep(time.Duration(float64(n) / float64(tr.d.opts.BytesPerSec) * float64(time.Second)))
	}
}
