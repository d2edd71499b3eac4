package report

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary holds the order statistics and moments reported for one metric.
type Summary struct {
	Median   float64
	Mean     float64
	Min      float64
	Max      float64
	Variance float64
	StdDev   float64
}

// Summarize computes a Summary over values. Variance and StdDev are the
// population forms (divide by N); a single value yields variance 0, and an
// even count's median is the average of the two middle values. The input
// slice is left untouched.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	s := Summary{
		Mean:     stat.Mean(sorted, nil),
		Min:      sorted[0],
		Max:      sorted[n-1],
		Variance: stat.PopVariance(sorted, nil),
		StdDev:   stat.PopStdDev(sorted, nil),
	}
	if n%2 == 0 {
		s.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		s.Median = sorted[n/2]
	}
	return s
}
