package payload

import (
	"bytes"
	"testing"

	"github.com/Octogonapus/S3BenchRunner/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateExactLength(t *testing.T) {
	for _, n := range []int64{0, 1, 1024, BlockLen, BlockLen + 1, 3 * workload.PartSize} {
		buf, err := Generate(n)
		require.NoError(t, err)
		assert.Len(t, buf, int(n))
	}

	_, err := Generate(-1)
	assert.Error(t, err)
}

func TestPartAlignedWindowsDiffer(t *testing.T) {
	// 12 part-size windows straddle several tile boundaries; none may repeat.
	n := 12 * workload.PartSize
	buf, err := Generate(n)
	require.NoError(t, err)

	windows := make([][]byte, 0, 12)
	for off := int64(0); off < n; off += workload.PartSize {
		windows = append(windows, buf[off:off+workload.PartSize])
	}
	for i := range windows {
		for j := i + 1; j < len(windows); j++ {
			assert.False(t, bytes.Equal(windows[i], windows[j]), "windows %d and %d are identical", i, j)
		}
	}
}

func TestTilePhase(t *testing.T) {
	buf, err := Generate(BlockLen + 64)
	require.NoError(t, err)
	// Past the block boundary the data repeats from the block's start.
	assert.True(t, bytes.Equal(buf[:64], buf[BlockLen:BlockLen+64]))
}

func TestForWorkload(t *testing.T) {
	ram := &workload.Workload{FilesOnDisk: false, Tasks: []workload.Task{
		{Action: workload.ActionUpload, Key: "a", Size: 1024},
		{Action: workload.ActionUpload, Key: "b", Size: 4096},
		{Action: workload.ActionDownload, Key: "c", Size: 1 << 30},
	}}
	buf, err := ForWorkload(ram)
	require.NoError(t, err)
	assert.Len(t, buf, 4096, "buffer is sized to the largest upload, downloads don't count")

	disk := &workload.Workload{FilesOnDisk: true, Tasks: ram.Tasks}
	buf, err = ForWorkload(disk)
	require.NoError(t, err)
	assert.Nil(t, buf)

	downloadsOnly := &workload.Workload{Tasks: []workload.Task{{Action: workload.ActionDownload, Key: "c", Size: 10}}}
	buf, err = ForWorkload(downloadsOnly)
	require.NoError(t, err)
	assert.Nil(t, buf)
}
