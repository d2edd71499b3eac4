package prep

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Octogonapus/S3BenchRunner/util"
	"github.com/Octogonapus/S3BenchRunner/workload"
	"github.com/alitto/pond"
	"github.com/schollz/progressbar/v3"
)

// FileSpec is one file a workload needs, deduplicated across workloads by
// key so each file is prepared once even when several workloads use it.
type FileSpec struct {
	Key      string
	Action   workload.Action
	Size     int64
	Checksum workload.ChecksumAlgorithm
	OnDisk   bool
}

// GatherFiles merges the file requirements of several workloads, keyed by the
// path of the workload file they came from. Upload keys must use the
// "upload/" prefix so a bucket lifecycle rule can expire them cheaply, and
// nothing else may use that prefix. A key reused with a different action,
// size, or download checksum is a clash.
func GatherFiles(workloads map[string]*workload.Workload) (map[string]*FileSpec, error) {
	paths := make([]string, 0, len(workloads))
	for p := range workloads {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	specs := map[string]*FileSpec{}
	firstFrom := map[string]string{}
	for _, path := range paths {
		w := workloads[path]
		for _, t := range w.Tasks {
			if t.Action == workload.ActionUpload {
				if !strings.HasPrefix(t.Key, "upload/") {
					return nil, fmt.Errorf("bad key %q: uploads must use the \"upload/\" prefix", t.Key)
				}
			} else if strings.HasPrefix(t.Key, "upload/") {
				return nil, fmt.Errorf("bad key %q: only uploads may use the \"upload/\" prefix", t.Key)
			}

			existing, ok := specs[t.Key]
			if !ok {
				specs[t.Key] = &FileSpec{
					Key:      t.Key,
					Action:   t.Action,
					Size:     t.Size,
					Checksum: w.Checksum,
					OnDisk:   w.FilesOnDisk,
				}
				firstFrom[t.Key] = path
				continue
			}

			// A failed download must not corrupt a later upload, so a key
			// never serves both actions.
			if existing.Action != t.Action {
				return nil, fmt.Errorf("clashing actions: %q != %q. Key: %q. From: %s",
					t.Action, existing.Action, t.Key, firstFrom[t.Key])
			}
			if existing.Size != t.Size {
				return nil, fmt.Errorf("clashing sizes: %d != %d. Key: %q. From: %s",
					t.Size, existing.Size, t.Key, firstFrom[t.Key])
			}
			if t.Action == workload.ActionDownload && existing.Checksum != w.Checksum {
				return nil, fmt.Errorf("clashing checksums: %q != %q. Key: %q. From: %s",
					w.Checksum, existing.Checksum, t.Key, firstFrom[t.Key])
			}
			// One workload staging a key on disk is enough to require the
			// file even if other workloads keep it in RAM.
			if w.FilesOnDisk && !existing.OnDisk {
				existing.OnDisk = true
				firstFrom[t.Key] = path
			}
		}
	}
	return specs, nil
}

// CreateFiles creates the local files that on-disk workloads upload, and the
// directories their downloads save into, under dir. Existing files of the
// right size are kept.
func CreateFiles(dir string, specs map[string]*FileSpec, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 8
	}
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	errChan := make(chan error, len(specs))
	pool := pond.New(concurrency, 0, pond.MinWorkers(concurrency))
	p := progressbar.Default(int64(len(specs)), "Preparing files:")
	for _, key := range keys {
		spec := specs[key]
		pool.Submit(func() {
			defer p.Add(1)
			if err := createOne(dir, spec); err != nil {
				slog.Error("preparing file failed",
					slog.String("key", spec.Key),
					slog.String("error", err.Error()))
				errChan <- err
			}
		})
	}
	pool.StopAndWait()
	p.Finish()

	select {
	case err := <-errChan:
		return fmt.Errorf("some files failed to prepare: %w", err)
	default:
		return nil
	}
}

func createOne(dir string, spec *FileSpec) error {
	if !spec.OnDisk {
		return nil
	}
	path := filepath.Join(dir, spec.Key)
	switch spec.Action {
	case workload.ActionUpload:
		return createRandomFile(path, spec.Size)
	case workload.ActionDownload:
		return os.MkdirAll(filepath.Dir(path), 0o755)
	}
	return fmt.Errorf("unsupported action %q", spec.Action)
}

func createRandomFile(path string, size int64) error {
	if fi, err := os.Stat(path); err == nil {
		if fi.Size() == size {
			return nil
		}
		slog.Info("deleting file with wrong size", slog.String("path", path))
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing the wrong-sized file failed: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating the parent directory failed: %w", err)
	}

	// A partially written file must never be visible under the final name.
	tmp := path + ".tmp-" + util.Randstring(8)
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating the file failed: %w", err)
	}

	buf := make([]byte, min(size, workload.PartSize))
	remaining := size
	for remaining > 0 {
		n := min(remaining, int64(len(buf)))
		if _, err := rand.Read(buf[:n]); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("generating random file data failed: %w", err)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("writing random file data failed: %w", err)
		}
		remaining -= n
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing the file failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming the file into place failed: %w", err)
	}
	return nil
}
