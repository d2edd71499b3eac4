// Package workload defines the JSON workload documents the benchmark runner
// executes: a versioned list of upload/download tasks plus repeat budgets.
package workload

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FormatVersion is the only workload file version this build understands.
const FormatVersion = 2

// PartSize is the part granularity drivers use for multipart transfers. The
// payload generator guarantees no two PartSize-aligned windows of a generated
// buffer are byte-identical.
const PartSize int64 = 8 * 1024 * 1024

type Action string

const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
)

type ChecksumAlgorithm string

const (
	ChecksumNone   ChecksumAlgorithm = ""
	ChecksumCRC32  ChecksumAlgorithm = "CRC32"
	ChecksumCRC32C ChecksumAlgorithm = "CRC32C"
	ChecksumSHA1   ChecksumAlgorithm = "SHA1"
	ChecksumSHA256 ChecksumAlgorithm = "SHA256"
)

// The workload files write "no checksum" as JSON null.
func (c ChecksumAlgorithm) MarshalJSON() ([]byte, error) {
	if c == ChecksumNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

func (c *ChecksumAlgorithm) UnmarshalJSON(buf []byte) error {
	if string(buf) == "null" {
		*c = ChecksumNone
		return nil
	}
	var s string
	if err := json.Unmarshal(buf, &s); err != nil {
		return err
	}
	*c = ChecksumAlgorithm(s)
	return nil
}

type Task struct {
	Action Action `json:"action"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}

// Workload is the fully-built form the runner executes. Every field is filled
// in; humans author the higher-level Source form and build it into this one.
type Workload struct {
	Version        int               `json:"version"`
	Comment        string            `json:"comment"`
	FilesOnDisk    bool              `json:"filesOnDisk"`
	Checksum       ChecksumAlgorithm `json:"checksum"`
	MaxRepeatCount int               `json:"maxRepeatCount"`
	MaxRepeatSecs  int               `json:"maxRepeatSecs"`
	Tasks          []Task            `json:"tasks"`
}

// FormatError marks a workload file this build cannot execute: unparsable
// JSON, an unsupported version, or fields outside the understood vocabulary.
// Runners report it as "skip this benchmark" rather than as a failure, so a
// fleet of differently-built runners can share one workload directory.
type FormatError struct {
	err error
}

func (e *FormatError) Error() string { return e.err.Error() }
func (e *FormatError) Unwrap() error { return e.err }

func formatErrf(format string, args ...any) error {
	return &FormatError{err: fmt.Errorf(format, args...)}
}

// Load reads and validates a built workload file. Format problems come back
// as *FormatError; I/O problems are ordinary errors.
func Load(path string) (*Workload, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload file failed: %w", err)
	}
	w, err := Parse(buf)
	if err != nil {
		return nil, fmt.Errorf("workload file %s: %w", path, err)
	}
	return w, nil
}

func Parse(buf []byte) (*Workload, error) {
	var w Workload
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, formatErrf("parsing workload JSON failed: %w", err)
	}
	if w.Version != FormatVersion {
		return nil, formatErrf("workload version %d is not supported, this runner only understands version %d", w.Version, FormatVersion)
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

func (w *Workload) validate() error {
	switch w.Checksum {
	case ChecksumNone, ChecksumCRC32, ChecksumCRC32C, ChecksumSHA1, ChecksumSHA256:
	default:
		return formatErrf("unknown checksum algorithm %q", w.Checksum)
	}
	if w.MaxRepeatCount < 1 {
		return formatErrf("maxRepeatCount must be positive, got %d", w.MaxRepeatCount)
	}
	if w.MaxRepeatSecs < 1 {
		return formatErrf("maxRepeatSecs must be positive, got %d", w.MaxRepeatSecs)
	}
	if len(w.Tasks) == 0 {
		return formatErrf("workload has no tasks")
	}
	for i, t := range w.Tasks {
		switch t.Action {
		case ActionUpload, ActionDownload:
		default:
			return formatErrf("task %d: unknown action %q", i, t.Action)
		}
		if t.Key == "" {
			return formatErrf("task %d: key must not be empty", i)
		}
		if t.Size < 0 {
			return formatErrf("task %d: size must not be negative, got %d", i, t.Size)
		}
	}
	return nil
}

// BytesPerRun returns the total bytes one run transfers, both directions.
func (w *Workload) BytesPerRun() int64 {
	var total int64
	for _, t := range w.Tasks {
		total += t.Size
	}
	return total
}

// LargestUpload returns the size of the biggest upload task, or 0 if the
// workload has none.
func (w *Workload) LargestUpload() int64 {
	var largest int64
	for _, t := range w.Tasks {
		if t.Action == ActionUpload && t.Size > largest {
			largest = t.Size
		}
	}
	return largest
}

// NumUploads returns how many tasks upload.
func (w *Workload) NumUploads() int {
	n := 0
	for _, t := range w.Tasks {
		if t.Action == ActionUpload {
			n++
		}
	}
	return n
}

// NumDownloads returns how many tasks download.
func (w *Workload) NumDownloads() int {
	n := 0
	for _, t := range w.Tasks {
		if t.Action == ActionDownload {
			n++
		}
	}
	return n
}

func (w *Workload) MaxRepeatDuration() time.Duration {
	return time.Duration(w.MaxRepeatSecs) * time.Second
}
