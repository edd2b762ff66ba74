package preprocess

import "sort"

// maxNoiseSamples bounds the samples used per channel by NoiseLevel.
const maxNoiseSamples = 200_000

// NoiseLevel estimates the noise standard deviation of x from the median
// absolute deviation around the median, scaled for Gaussian noise. Long
// channels are strided down to maxNoiseSamples.
func NoiseLevel(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	stride := 1
	if len(x) > maxNoiseSamples {
		stride = (len(x) + maxNoiseSamples - 1) / maxNoiseSamples
	}
	vals := make([]float64, 0, len(x)/stride+1)
	for i := 0; i < len(x); i += stride {
		vals = append(vals, float64(x[i]))
	}
	sort.Float64s(vals)
	med := sortedMedian(vals)
	for i, v := range vals {
		if v < med {
			vals[i] = med - v
		} else {
			vals[i] = v - med
		}
	}
	sort.Float64s(vals)
	return sortedMedian(vals) / 0.6744897501960817
}

// sortedMedian returns the median of ascending xs, averaging the two middle
// values when len(xs) is even.
func sortedMedian(xs []float64) float64 {
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}
