package report

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// PeakRSSBytes returns the high-water-mark resident set size of this process.
// Platforms without a high-water counter report the current RSS instead.
func PeakRSSBytes() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, fmt.Errorf("opening own process failed: %w", err)
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("reading process memory info failed: %w", err)
	}
	if mem.HWM == 0 {
		return mem.RSS, nil
	}
	return mem.HWM, nil
}
