package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesToGigabit(t *testing.T) {
	assert.InDelta(t, 0.08, BytesToGigabit(10_000_000), 1e-12)
	assert.InDelta(t, 8.0, BytesToGigabit(1_000_000_000), 1e-12)
	assert.InDelta(t, 0.0, BytesToGigabit(0), 1e-12)
}

func TestBytesToMegabit(t *testing.T) {
	assert.InDelta(t, 80.0, BytesToMegabit(10_000_000), 1e-9)
}

func TestBytesToMiB(t *testing.T) {
	assert.InDelta(t, 1.0, BytesToMiB(1024*1024), 1e-12)
	assert.InDelta(t, 0.5, BytesToMiB(512*1024), 1e-12)
}

func TestBytesToGiB(t *testing.T) {
	assert.InDelta(t, 2.0, BytesToGiB(2*1024*1024*1024), 1e-12)
}

func TestRandstringLength(t *testing.T) {
	assert.Len(t, Randstring(8), 8)
	assert.Empty(t, Randstring(0))
}
