package analyzer

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/spikesort/internal/protocol"
)

// Template metric names.
const (
	MetricPeakToValley        = "peak_to_valley"
	MetricPeakTroughRatio     = "peak_trough_ratio"
	MetricHalfWidth           = "half_width"
	MetricRepolarizationSlope = "repolarization_slope"
)

// Quality metric names.
const (
	MetricNumSpikes          = "num_spikes"
	MetricFiringRate         = "firing_rate"
	MetricPresenceRatio      = "presence_ratio"
	MetricISIViolationsRatio = "isi_violations_ratio"
	MetricISIViolationsCount = "isi_violations_count"
	MetricSNR                = "snr"
	MetricAmplitudeMedian    = "amplitude_median"
)

// computeTemplateMetrics measures each unit's template on its extremum
// channel. Times are in seconds, the slope in units per second.
func computeTemplateMetrics(a *Analyzer, _ protocol.Params) (any, error) {
	t := a.Results.Templates
	best := t.ExtremumChannel()
	out := make([]map[string]float64, len(t.Average))
	for u := range t.Average {
		out[u] = waveformMetrics(t.Average[u][best[u]], a.fs)
	}
	a.Results.TemplateMetrics = out
	return out, nil
}

func waveformMetrics(w []float64, fs float64) map[string]float64 {
	m := map[string]float64{}
	if len(w) == 0 {
		return m
	}
	trough := floats.MinIdx(w)
	peak := trough
	if trough+1 < len(w) {
		peak = trough + 1 + floats.MaxIdx(w[trough+1:])
	}
	m[MetricPeakToValley] = float64(peak-trough) / fs
	if w[trough] != 0 {
		m[MetricPeakTroughRatio] = w[peak] / w[trough]
	}

	half := w[trough] / 2
	left := trough
	for left > 0 && w[left] < half {
		left--
	}
	right := trough
	for right < len(w)-1 && w[right] < half {
		right++
	}
	m[MetricHalfWidth] = float64(right-left) / fs

	if peak > trough {
		m[MetricRepolarizationSlope] = (w[peak] - w[trough]) / (float64(peak-trough) / fs)
	}
	return m
}

// computeQualityMetrics always reports spike counts, rates and ISI
// violations; snr and amplitude_median only when their inputs exist.
func computeQualityMetrics(a *Analyzer, p protocol.Params) (any, error) {
	isiMs, err := p.Float("isi_threshold_ms", 1.5)
	if err != nil {
		return nil, err
	}
	minIsiMs, err := p.Float("min_isi_ms", 0)
	if err != nil {
		return nil, err
	}
	binS, err := p.Float("presence_bin_s", 60)
	if err != nil {
		return nil, err
	}
	duration := a.DurationSeconds()
	numBins := max(1, int(math.Ceil(duration/binS)))

	var best []int
	if a.Results.Templates != nil {
		best = a.Results.Templates.ExtremumChannel()
	}

	out := make([]map[string]float64, len(a.sorting.Units))
	for ui, u := range a.sorting.Units {
		n := len(u.SpikeFrames)
		m := map[string]float64{
			MetricNumSpikes:  float64(n),
			MetricFiringRate: float64(n) / duration,
		}

		occupied := make([]bool, numBins)
		for _, f := range u.SpikeFrames {
			b := min(int(float64(f)/a.fs/binS), numBins-1)
			occupied[b] = true
		}
		var present int
		for _, o := range occupied {
			if o {
				present++
			}
		}
		m[MetricPresenceRatio] = float64(present) / float64(numBins)

		count, ratio := isiViolations(u.SpikeFrames, a.fs, duration, isiMs, minIsiMs)
		m[MetricISIViolationsCount] = float64(count)
		m[MetricISIViolationsRatio] = ratio

		if best != nil && a.Results.NoiseLevels != nil {
			ch := best[ui]
			if noise := a.Results.NoiseLevels[ch]; noise > 0 {
				tmpl := a.Results.Templates.Average[ui][ch]
				m[MetricSNR] = math.Abs(tmpl[a.Results.Templates.NBefore]) / noise
			}
		}
		if a.Results.SpikeAmplitudes != nil {
			m[MetricAmplitudeMedian] = medianOf(a.Results.SpikeAmplitudes[ui])
		}
		out[ui] = m
	}
	a.Results.QualityMetrics = out
	return out, nil
}

// isiViolations counts inter-spike intervals shorter than the refractory
// threshold and returns the violation rate relative to that expected from a
// Poisson process at the unit's firing rate.
func isiViolations(frames []int, fs, duration, thresholdMs, minIsiMs float64) (int, float64) {
	n := len(frames)
	if n < 2 {
		return 0, 0
	}
	thr := thresholdMs / 1000
	var count int
	for i := 1; i < n; i++ {
		if float64(frames[i]-frames[i-1])/fs < thr {
			count++
		}
	}
	violationTime := 2 * float64(n) * (thr - minIsiMs/1000)
	if violationTime <= 0 {
		return count, 0
	}
	rate := float64(n) / duration
	return count, float64(count) / (violationTime * rate)
}
