package analyzer

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/spikesort/internal/preprocess"
	"github.com/banshee-data/spikesort/internal/protocol"
)

func computeNoiseLevels(a *Analyzer, _ protocol.Params) (any, error) {
	levels := make([]float64, a.NumChannels())
	for c, x := range a.traces {
		levels[c] = preprocess.NoiseLevel(x)
	}
	a.Results.NoiseLevels = levels
	return levels, nil
}

func computeCorrelograms(a *Analyzer, p protocol.Params) (any, error) {
	windowMs, err := p.Float("window_ms", 50)
	if err != nil {
		return nil, err
	}
	binMs, err := p.Float("bin_ms", 1)
	if err != nil {
		return nil, err
	}
	if binMs <= 0 || windowMs < binMs {
		return nil, fmt.Errorf("need 0 < bin_ms <= window_ms, got %v and %v", binMs, windowMs)
	}
	half := int(math.Round(windowMs / 2 / binMs))
	nBins := 2 * half
	binFrames := binMs * a.fs / 1000
	halfFrames := float64(half) * binFrames

	cg := &Correlograms{WindowMs: windowMs, BinMs: binMs}
	for b := 0; b <= nBins; b++ {
		cg.BinsMs = append(cg.BinsMs, float64(b-half)*binMs)
	}
	units := a.sorting.Units
	cg.Counts = make([][][]int64, len(units))
	for i := range units {
		cg.Counts[i] = make([][]int64, len(units))
		for j := range units {
			cg.Counts[i][j] = crossCorrelogram(units[i].SpikeFrames, units[j].SpikeFrames, i == j, halfFrames, binFrames, nBins)
		}
	}
	a.Results.Correlograms = cg
	return cg, nil
}

// crossCorrelogram bins lags b-a in [-half, half) for a in x, b in y. For an
// autocorrelogram the zero lag of a spike with itself is skipped.
func crossCorrelogram(x, y []int, auto bool, half, bin float64, nBins int) []int64 {
	counts := make([]int64, nBins)
	start := 0
	for i, fa := range x {
		for start < len(y) && float64(y[start]-fa) < -half {
			start++
		}
		for j := start; j < len(y); j++ {
			lag := float64(y[j] - fa)
			if lag >= half {
				break
			}
			if auto && j == i {
				continue
			}
			b := int(math.Floor((lag + half) / bin))
			if b >= 0 && b < nBins {
				counts[b]++
			}
		}
	}
	return counts
}

// sparseChannels returns the channels within radius of center, or all
// channels without a probe.
func (a *Analyzer) sparseChannels(center int, radius float64) []int {
	if a.locations == nil || radius <= 0 {
		return a.allChannels()
	}
	var out []int
	for c, loc := range a.locations {
		if math.Hypot(loc[0]-a.locations[center][0], loc[1]-a.locations[center][1]) <= radius {
			out = append(out, c)
		}
	}
	return out
}

func flatten(rows [][]float64, channels []int) []float64 {
	var out []float64
	for _, c := range channels {
		out = append(out, rows[c]...)
	}
	return out
}

func flatten32(rows [][]float32) []float64 {
	var out []float64
	for _, r := range rows {
		for _, v := range r {
			out = append(out, float64(v))
		}
	}
	return out
}

func computeAmplitudeScalings(a *Analyzer, p protocol.Params) (any, error) {
	radius, err := p.Float("radius_um", 50)
	if err != nil {
		return nil, err
	}
	t := a.Results.Templates
	best := t.ExtremumChannel()
	nAfter := t.NumSamples() - t.NBefore
	out := make([][]float64, len(a.sorting.Units))
	for ui, u := range a.sorting.Units {
		chans := a.sparseChannels(best[ui], radius)
		tmpl := flatten(t.Average[ui], chans)
		norm := floats.Dot(tmpl, tmpl)
		scalings := make([]float64, len(u.SpikeFrames))
		for k, f := range u.SpikeFrames {
			if norm == 0 {
				continue
			}
			wf := flatten32(a.snippet(f, t.NBefore, nAfter, chans))
			scalings[k] = floats.Dot(wf, tmpl) / norm
		}
		out[ui] = scalings
	}
	a.Results.AmplitudeScalings = out
	return out, nil
}

func peakSign(p protocol.Params) (string, error) {
	sign, err := p.String("peak_sign", "neg")
	if err != nil {
		return "", err
	}
	if sign != "neg" && sign != "pos" && sign != "both" {
		return "", fmt.Errorf("peak_sign must be neg, pos or both, got %q", sign)
	}
	return sign, nil
}

// extremumChannels picks, per unit, the channel with the strongest template
// value at the spike sample for the given polarity.
func extremumChannels(t *Templates, sign string) []int {
	out := make([]int, len(t.Average))
	for u, chans := range t.Average {
		best, bestVal := 0, math.Inf(-1)
		for c, w := range chans {
			v := w[t.NBefore]
			switch sign {
			case "neg":
				v = -v
			case "both":
				v = math.Abs(v)
			}
			if v > bestVal {
				best, bestVal = c, v
			}
		}
		out[u] = best
	}
	return out
}

func computeSpikeAmplitudes(a *Analyzer, p protocol.Params) (any, error) {
	sign, err := peakSign(p)
	if err != nil {
		return nil, err
	}
	best := extremumChannels(a.Results.Templates, sign)
	out := make([][]float64, len(a.sorting.Units))
	for ui, u := range a.sorting.Units {
		amps := make([]float64, len(u.SpikeFrames))
		for k, f := range u.SpikeFrames {
			amps[k] = float64(a.traces[best[ui]][f])
		}
		out[ui] = amps
	}
	a.Results.SpikeAmplitudes = out
	return out, nil
}

func (a *Analyzer) requireLocations(ext string) error {
	if a.locations == nil {
		return fmt.Errorf("%s needs contact positions but no probe is attached", ext)
	}
	return nil
}

func centerOfMass(locs [][2]float64, chans []int, weights []float64) [2]float64 {
	var sx, sy, sw float64
	for i, c := range chans {
		w := weights[i]
		sx += w * locs[c][0]
		sy += w * locs[c][1]
		sw += w
	}
	if sw == 0 {
		return locs[chans[0]]
	}
	return [2]float64{sx / sw, sy / sw}
}

func computeUnitLocations(a *Analyzer, p protocol.Params) (any, error) {
	if err := a.requireLocations(protocol.UnitLocations); err != nil {
		return nil, err
	}
	method, err := p.String("method", "center_of_mass")
	if err != nil {
		return nil, err
	}
	if method != "center_of_mass" {
		return nil, fmt.Errorf("unsupported method %q", method)
	}
	radius, err := p.Float("radius_um", 75)
	if err != nil {
		return nil, err
	}
	t := a.Results.Templates
	best := t.ExtremumChannel()
	out := make([][2]float64, len(t.Average))
	for u := range t.Average {
		chans := a.sparseChannels(best[u], radius)
		w := make([]float64, len(chans))
		for i, c := range chans {
			w[i] = ptp(t.Average[u][c])
		}
		out[u] = centerOfMass(a.locations, chans, w)
	}
	a.Results.UnitLocations = out
	return out, nil
}

func computeSpikeLocations(a *Analyzer, p protocol.Params) (any, error) {
	if err := a.requireLocations(protocol.SpikeLocations); err != nil {
		return nil, err
	}
	radius, err := p.Float("radius_um", 75)
	if err != nil {
		return nil, err
	}
	msBefore, msAfter, err := windowParams(p, 0.5, 0.5)
	if err != nil {
		return nil, err
	}
	nBefore, nAfter := msToFrames(msBefore, a.fs), msToFrames(msAfter, a.fs)
	best := a.Results.Templates.ExtremumChannel()
	out := make([][][2]float64, len(a.sorting.Units))
	for ui, u := range a.sorting.Units {
		chans := a.sparseChannels(best[ui], radius)
		locs := make([][2]float64, len(u.SpikeFrames))
		for k, f := range u.SpikeFrames {
			snip := a.snippet(f, nBefore, nAfter, chans)
			w := make([]float64, len(chans))
			for i, row := range snip {
				lo, hi := row[0], row[0]
				for _, v := range row {
					lo, hi = min(lo, v), max(hi, v)
				}
				w[i] = float64(hi - lo)
			}
			locs[k] = centerOfMass(a.locations, chans, w)
		}
		out[ui] = locs
	}
	a.Results.SpikeLocations = out
	return out, nil
}

func computeTemplateSimilarity(a *Analyzer, p protocol.Params) (any, error) {
	method, err := p.String("method", "cosine_similarity")
	if err != nil {
		return nil, err
	}
	if method != "cosine_similarity" && method != "cosine" {
		return nil, fmt.Errorf("unsupported method %q", method)
	}
	t := a.Results.Templates
	chans := a.allChannels()
	flat := make([][]float64, len(t.Average))
	norms := make([]float64, len(t.Average))
	for u := range t.Average {
		flat[u] = flatten(t.Average[u], chans)
		norms[u] = floats.Norm(flat[u], 2)
	}
	out := make([][]float64, len(flat))
	for i := range flat {
		out[i] = make([]float64, len(flat))
		for j := range flat {
			if norms[i] == 0 || norms[j] == 0 {
				continue
			}
			out[i][j] = floats.Dot(flat[i], flat[j]) / (norms[i] * norms[j])
		}
	}
	a.Results.TemplateSimilarity = out
	return out, nil
}

// medianOf returns the median of xs without modifying it.
func medianOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
