// Package telemetry records per-task transfer samples into per-run CSV files.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Sample describes one completed transfer.
type Sample struct {
	TaskIndex int
	Action    string
	Key       string
	Bytes     int64
	Start     time.Time
	End       time.Time
}

// Sink receives samples as tasks complete. Record may be called from any
// goroutine. Each run gets its own Sink, closed when the run ends.
type Sink interface {
	Record(Sample) error
	Close() error
}

// Nop discards everything. Used when no telemetry dir is configured.
type Nop struct{}

func (Nop) Record(Sample) error { return nil }
func (Nop) Close() error        { return nil }

type csvSink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// NewCSVSink creates dir/NN.csv for one run. Run numbers are zero-padded so
// the files sort asciibetically.
func NewCSVSink(dir string, runNumber int) (Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating telemetry dir failed: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%02d.csv", runNumber))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating telemetry file failed: %w", err)
	}
	s := &csvSink{f: f, w: csv.NewWriter(f)}
	header := []string{"task_index", "action", "key", "bytes", "start_time_ns", "end_time_ns", "total_duration_ns"}
	if err := s.w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing telemetry header failed: %w", err)
	}
	return s, nil
}

func (s *csvSink) Record(sample Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write([]string{
		strconv.Itoa(sample.TaskIndex),
		sample.Action,
		sample.Key,
		strconv.FormatInt(sample.Bytes, 10),
		strconv.FormatInt(sample.Start.UnixNano(), 10),
		strconv.FormatInt(sample.End.UnixNano(), 10),
		strconv.FormatInt(sample.End.Sub(sample.Start).Nanoseconds(), 10),
	})
}

func (s *csvSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return fmt.Errorf("flushing telemetry failed: %w", err)
	}
	return s.f.Close()
}
