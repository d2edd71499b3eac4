package bench

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransfer struct {
	mu      sync.Mutex
	granted []int64
}

func (t *recordingTransfer) GrantReadWindow(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.granted = append(t.granted, n)
}

func TestCreditSinkGrantsAfterWrites(t *testing.T) {
	key := filepath.Join(t.TempDir(), "download", "1KiB-1x", "1")
	s, err := newCreditSink(key)
	require.NoError(t, err)

	// Chunks written before the transfer handle attaches accumulate as
	// pending credit.
	_, err = s.Write(make([]byte, 100))
	require.NoError(t, err)
	_, err = s.Write(make([]byte, 50))
	require.NoError(t, err)

	tr := &recordingTransfer{}
	s.attach(tr)
	assert.Equal(t, []int64{150}, tr.granted)

	_, err = s.Write(make([]byte, 25))
	require.NoError(t, err)
	assert.Equal(t, []int64{150, 25}, tr.granted)

	require.NoError(t, s.Close())

	fi, err := os.Stat(key)
	require.NoError(t, err)
	assert.Equal(t, int64(175), fi.Size())
}

func TestCreditSinkCreatesParentDirectories(t *testing.T) {
	key := filepath.Join(t.TempDir(), "a", "b", "c", "file")
	s, err := newCreditSink(key)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(key)
	assert.NoError(t, err)
}
