// Package s3driver transfers objects through the AWS SDK for Go v2, using
// the transfer manager for multipart uploads and plain GetObject streams for
// downloads.
package s3driver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/Octogonapus/S3BenchRunner/bench"
	"github.com/Octogonapus/S3BenchRunner/util"
	"github.com/Octogonapus/S3BenchRunner/workload"
	"github.com/alitto/pond"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3Types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/mitchellh/mapstructure"
)

func init() {
	bench.RegisterDriver("sdk-go", func(cfg *bench.DriverConfig, options map[string]any) (bench.Driver, error) {
		opts := &Options{}
		err := mapstructure.Decode(options, opts)
		if err != nil {
			return nil, fmt.Errorf("can't convert options to sdk-go Options: %w", err)
		}
		return New(cfg, opts)
	})
}

// Options tune the SDK transfer paths.
type Options struct {
	// PartSizeMiB is the multipart part size for uploads.
	PartSizeMiB int64

	// PartConcurrency is how many parts of one upload move in parallel.
	PartConcurrency int

	// MaxConcurrency is the admission budget this driver reports.
	MaxConcurrency int

	// InitialWindowMiB is how many download bytes may be read ahead of
	// granted credit when the destination is a disk file.
	InitialWindowMiB int64
}

type driver struct {
	opts     Options
	cfg      *bench.DriverConfig
	client   *s3.Client
	uploader *manager.Uploader
	pool     *pond.WorkerPool
}

func New(cfg *bench.DriverConfig, opts *Options) (bench.Driver, error) {
	o := *opts
	if o.PartSizeMiB <= 0 {
		o.PartSizeMiB = workload.PartSize / util.MiB
	}
	if o.PartConcurrency <= 0 {
		o.PartConcurrency = 5
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = runtime.NumCPU() * 5
	}
	if o.InitialWindowMiB <= 0 {
		o.InitialWindowMiB = 256
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	} else {
		loadOpts = append(loadOpts, config.WithEC2IMDSRegion())
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config failed: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = o.PartSizeMiB * util.MiB
		u.Concurrency = o.PartConcurrency
	})
	return &driver{
		opts:     o,
		cfg:      cfg,
		client:   client,
		uploader: uploader,
		pool:     pond.New(o.MaxConcurrency, 0, pond.MinWorkers(o.MaxConcurrency)),
	}, nil
}

func (d *driver) Begin(req *bench.TransferRequest) (bench.Transfer, error) {
	tr := &transfer{
		d:      d,
		req:    req,
		window: d.opts.InitialWindowMiB * util.MiB,
		gated:  req.Action == workload.ActionDownload && req.FilesOnDisk,
	}
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

type transfer struct {
	d   *driver
	req *bench.TransferRequest

	mu     sync.Mutex
	cond   *sync.Cond
	window int64
	gated  bool
}

func (tr *transfer) run() error {
	ctx := context.Background()
	switch tr.req.Action {
	case workload.ActionUpload:
		return tr.upload(ctx)
	case workload.ActionDownload:
		return tr.download(ctx)
	}
	return fmt.Errorf("unsupported action %q", tr.req.Action)
}

func (tr *transfer) upload(ctx context.Context) error {
	var body io.Reader
	if tr.req.Payload != nil {
		body = bytes.NewReader(tr.req.Payload)
	} else {
		f, err := os.Open(tr.req.Key)
		if err != nil {
			return fmt.Errorf("opening the upload file failed: %w", err)
		}
		defer f.Close()
		body = f
	}

	input := &s3.PutObjectInput{
		Bucket: &tr.d.cfg.Bucket,
		Key:    &tr.req.Key,
		Body:   body,
	}
	if alg, ok := checksumAlgorithm(tr.req.Checksum); ok {
		input.ChecksumAlgorithm = alg
	}
	_, err := tr.d.uploader.Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("uploading failed: %w", err)
	}
	return nil
}

func (tr *transfer) download(ctx context.Context) error {
	input := &s3.GetObjectInput{
		Bucket: &tr.d.cfg.Bucket,
		Key:    &tr.req.Key,
	}
	if tr.req.Checksum != workload.ChecksumNone {
		input.ChecksumMode = s3Types.ChecksumModeEnabled
	}
	resp, err := tr.d.client.GetObject(ctx, input)
	if err != nil {
		return fmt.Errorf("starting the download failed: %w", err)
	}
	defer resp.Body.Close()

	// Reading every byte is very important for an accurate test, otherwise
	// not all data is downloaded.
	buf := make([]byte, 256*util.KiB)
	for {
		limit := int64(len(buf))
		if tr.gated {
			limit = tr.acquire(limit)
		}
		n, err := resp.Body.Read(buf[:limit])
		if n > 0 {
			if _, werr := tr.req.Sink.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing download bytes failed: %w", werr)
			}
		}
		if tr.gated && int64(n) < limit {
			// Unread credit returns to the window.
			tr.release(limit - int64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading download bytes failed: %w", err)
		}
	}
}

// acquire blocks until at least one byte of window credit is available, then
// consumes up to want of it.
func (tr *transfer) acquire(want int64) int64 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for tr.window <= 0 {
		tr.cond.Wait()
	}
	n := min(want, tr.window)
	tr.window -= n
	return n
}

func (tr *transfer) release(n int64) {
	tr.mu.Lock()
	tr.window += n
	tr.mu.Unlock()
	tr.cond.Broadcast()
}

func (tr *transfer) GrantReadWindow(n int64) {
	if n <= 0 {
		return
	}
	tr.release(n)
}

func checksumAlgorithm(c workload.ChecksumAlgorithm) (s3Types.ChecksumAlgorithm, bool) {
	switch c {
	case workload.ChecksumCRC32:
		return s3Types.ChecksumAlgorithmCrc32, true
	case workload.ChecksumCRC32C:
		return s3Types.ChecksumAlgorithmCrc32c, true
	case workload.ChecksumSHA1:
		return s3Types.ChecksumAlgorithmSha1, true
	case workload.ChecksumSHA256:
		return s3Types.ChecksumAlgorithmSha256, true
	}
	return "", false
}
