// Package prep readies the local filesystem for benchmark runs: between-run
// cleanup, and bulk creation of the files that on-disk workloads need.
package prep

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Octogonapus/S3BenchRunner/workload"
)

// Run does per-run prep work, outside the timed window. Pre-existing files at
// download keys are deleted, in case overwriting is slower than the original
// write, and missing parent directories are created. Files at upload keys
// must already exist.
func Run(w *workload.Workload) error {
	if !w.FilesOnDisk {
		return nil
	}
	for _, t := range w.Tasks {
		switch t.Action {
		case workload.ActionDownload:
			if _, err := os.Stat(t.Key); err == nil {
				if err := os.Remove(t.Key); err != nil {
					return fmt.Errorf("removing the file from the previous run failed: %w", err)
				}
			} else if dir := filepath.Dir(t.Key); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("creating directory %s failed: %w", dir, err)
				}
			}
		case workload.ActionUpload:
			if _, err := os.Stat(t.Key); err != nil {
				return fmt.Errorf("upload file not found: %s", t.Key)
			}
		}
	}
	return nil
}
