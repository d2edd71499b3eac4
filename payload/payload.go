// Package payload builds the synthetic bytes uploaded during benchmarks.
package payload

import (
	"crypto/rand"
	"fmt"

	"github.com/Octogonapus/S3BenchRunner/util"
	"github.com/Octogonapus/S3BenchRunner/workload"
)

// BlockLen is the length of the random block tiled across generated buffers.
// It is one byte short of 32MiB so it shares no common factor with the 8MiB
// part size: the tile phase shifts at every part boundary, and no two
// part-aligned windows of the buffer are byte-identical. An all-zero or
// repeating buffer would let deduplicating transports cheat the measurement.
const BlockLen = 32*util.MiB - 1

// Generate returns exactly n bytes of random-looking data. Randomness is
// drawn once per BlockLen and tiled; filling the rest is a memory copy.
func Generate(n int64) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("payload size must not be negative, got %d", n)
	}
	buf := make([]byte, n)
	block := buf
	if n > BlockLen {
		block = buf[:BlockLen]
	}
	if _, err := rand.Read(block); err != nil {
		return nil, fmt.Errorf("generating payload block failed: %w", err)
	}
	for filled := int64(len(block)); filled < n; {
		filled += int64(copy(buf[filled:], block))
	}
	return buf, nil
}

// ForWorkload allocates the shared upload buffer for a workload: sized to the
// largest upload task, nil when uploads are staged on disk or don't exist.
// Allocated once per process and shared read-only by every task in every run.
func ForWorkload(w *workload.Workload) ([]byte, error) {
	if w.FilesOnDisk {
		return nil, nil
	}
	n := w.LargestUpload()
	if n == 0 {
		return nil, nil
	}
	return Generate(n)
}
