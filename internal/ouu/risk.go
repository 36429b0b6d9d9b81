package ouu

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Superquantile is the alpha-superquantile (conditional value at risk) of
// the sample: the mean of its largest ceil((1-alpha) n) values. alpha = 0
// gives the mean and alpha close to 1 approaches the maximum.
func Superquantile(values []float64, alpha float64) float64 {
	if len(values) == 0 || !(alpha >= 0 && alpha < 1) {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	k := int(math.Ceil((1 - alpha) * float64(len(sorted))))
	k = max(1, min(k, len(sorted)))
	return stat.Mean(sorted[len(sorted)-k:], nil)
}
