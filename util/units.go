package util

// Binary size units, matching the workload file convention (KiB = 1024 bytes).
const (
	KiB int64 = 1024
	MiB       = 1024 * KiB
	GiB       = 1024 * MiB
)

// BytesToGigabit converts a byte count to decimal gigabits (1 Gb = 1e9 bits).
// Throughput is always reported in decimal bits even though sizes use binary units.
func BytesToGigabit(bytes int64) float64 {
	return float64(bytes) * 8.0 / 1_000_000_000.0
}

func BytesToMegabit(bytes int64) float64 {
	return float64(bytes) * 8.0 / 1_000_000.0
}

func BytesToMiB(bytes uint64) float64 {
	return float64(bytes) / float64(MiB)
}

func BytesToGiB(bytes uint64) float64 {
	return float64(bytes) / float64(GiB)
}
