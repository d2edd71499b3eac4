// Package bench executes benchmark workloads: it admits tasks under a
// driver-owned concurrency budget, drives them to completion through an
// asynchronous transfer driver, and repeats runs until a count or wall-clock
// budget is exhausted.
package bench

import (
	"fmt"
	"io"
	"strings"

	"github.com/Octogonapus/S3BenchRunner/workload"
)

// DriverConfig is the ambient configuration every driver receives alongside
// its own option map.
type DriverConfig struct {
	Bucket               string
	Region               string
	TargetThroughputGbps float64
}

// TransferRequest describes one transfer a driver must perform.
type TransferRequest struct {
	Action      workload.Action
	Key         string
	Size        int64
	FilesOnDisk bool
	Checksum    workload.ChecksumAlgorithm

	// Payload backs RAM uploads: a read-only slice of the shared upload
	// buffer, already cut to Size. Nil for disk uploads; the driver opens
	// the file at Key itself.
	Payload []byte

	// Sink receives download bytes. For disk downloads the engine supplies
	// a sink that writes the file and grants read-window credit; RAM
	// downloads get a discarding sink. Drivers must read every byte either
	// way.
	Sink io.Writer

	// OnComplete must be called exactly once per started transfer, from any
	// goroutine, but never synchronously from within Begin. If Begin
	// returns an error the transfer never started and OnComplete must not
	// be called.
	OnComplete func(err error)
}

// Transfer is a handle to one in-flight transfer.
type Transfer interface {
	// GrantReadWindow adds n bytes of download read-window credit. Drivers
	// without download flow control may ignore it.
	GrantReadWindow(n int64)
}

// Driver performs the actual storage I/O. Begin starts a transfer
// asynchronously and returns immediately; completion arrives through the
// request's OnComplete callback.
type Driver interface {
	Begin(req *TransferRequest) (Transfer, error)

	// MaxConcurrency is the admission budget: how many transfers may be in
	// flight before task creation blocks.
	MaxConcurrency() int

	Close() error
}

type driverFactory func(*DriverConfig, map[string]any) (Driver, error)

var drivers map[string]driverFactory

// All drivers must register themselves at module load time so that NewDriver
// can create a driver of that id.
func RegisterDriver(id string, f driverFactory) {
	if drivers == nil {
		drivers = map[string]driverFactory{}
	}
	drivers[id] = f
}

func NewDriver(id string, cfg *DriverConfig, options map[string]any) (Driver, error) {
	f, ok := drivers[id]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q. Options are: %s", id, ExplainDrivers())
	}
	return f(cfg, options)
}

func ExplainDrivers() string {
	i := 0
	var sb strings.Builder
	for id := range drivers {
		sb.WriteString("\"")
		sb.WriteString(id)
		sb.WriteString("\"")
		if i < len(drivers)-1 {
			sb.WriteString(", ")
		}
		i++
	}
	return sb.String()
}
