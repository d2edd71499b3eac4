package prep

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Octogonapus/S3BenchRunner/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDeletesStaleDownloads(t *testing.T) {
	key := filepath.Join(t.TempDir(), "download", "1KiB-1x", "1")
	require.NoError(t, os.MkdirAll(filepath.Dir(key), 0o755))
	require.NoError(t, os.WriteFile(key, []byte("stale"), 0o644))

	w := &workload.Workload{
		FilesOnDisk: true,
		Tasks:       []workload.Task{{Action: workload.ActionDownload, Key: key, Size: 1024}},
	}
	require.NoError(t, Run(w))

	_, err := os.Stat(key)
	assert.True(t, os.IsNotExist(err))
}

func TestRunCreatesDownloadDirs(t *testing.T) {
	key := filepath.Join(t.TempDir(), "download", "1KiB-1x", "1")

	w := &workload.Workload{
		FilesOnDisk: true,
		Tasks:       []workload.Task{{Action: workload.ActionDownload, Key: key, Size: 1024}},
	}
	require.NoError(t, Run(w))

	fi, err := os.Stat(filepath.Dir(key))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestRunRequiresUploadFiles(t *testing.T) {
	key := filepath.Join(t.TempDir(), "upload", "1KiB-1x", "1")

	w := &workload.Workload{
		FilesOnDisk: true,
		Tasks:       []workload.Task{{Action: workload.ActionUpload, Key: key, Size: 1024}},
	}
	err := Run(w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")

	require.NoError(t, os.MkdirAll(filepath.Dir(key), 0o755))
	require.NoError(t, os.WriteFile(key, make([]byte, 1024), 0o644))
	assert.NoError(t, Run(w))
}

func TestRunIgnoresRAMWorkloads(t *testing.T) {
	w := &workload.Workload{
		FilesOnDisk: false,
		Tasks:       []workload.Task{{Action: workload.ActionUpload, Key: "upload/does-not-exist", Size: 1024}},
	}
	assert.NoError(t, Run(w))
}
