package analyzer

// Results holds the computed extensions. A nil field means the extension has
// not been computed. Per-unit slices follow the sorting's unit order.
type Results struct {
	RandomSpikes       *RandomSpikes
	NoiseLevels        []float64
	Correlograms       *Correlograms
	Waveforms          *Waveforms
	Templates          *Templates
	AmplitudeScalings  [][]float64
	SpikeAmplitudes    [][]float64
	UnitLocations      [][2]float64
	SpikeLocations     [][][2]float64
	TemplateSimilarity [][]float64
	TemplateMetrics    []map[string]float64
	QualityMetrics     []map[string]float64
}

// RandomSpikes is the per-unit spike subset used for waveforms and
// templates. Indices point into each unit's spike train.
type RandomSpikes struct {
	Method           string  `json:"method"`
	MaxSpikesPerUnit int     `json:"max_spikes_per_unit"`
	Seed             uint64  `json:"seed"`
	Indices          [][]int `json:"indices"`
}

// Correlograms are cross-correlograms between every pair of units.
// Counts[i][j][b] counts spikes of unit j at lag BinsMs[b]..BinsMs[b+1]
// from a spike of unit i.
type Correlograms struct {
	WindowMs float64     `json:"window_ms"`
	BinMs    float64     `json:"bin_ms"`
	BinsMs   []float64   `json:"bins_ms"`
	Counts   [][][]int64 `json:"counts"`
}

// Waveforms holds the snippets of the sampled spikes:
// Data[unit][spike][channel][sample].
type Waveforms struct {
	MsBefore float64
	MsAfter  float64
	NBefore  int
	NAfter   int
	Data     [][][][]float32
}

// Templates are the per-unit mean and standard deviation waveforms:
// Average[unit][channel][sample].
type Templates struct {
	MsBefore float64       `json:"ms_before"`
	MsAfter  float64       `json:"ms_after"`
	NBefore  int           `json:"nbefore"`
	Average  [][][]float64 `json:"average"`
	Std      [][][]float64 `json:"std"`
}

// ExtremumChannel returns, per unit, the channel with the largest
// peak-to-peak template.
func (t *Templates) ExtremumChannel() []int {
	out := make([]int, len(t.Average))
	for u, chans := range t.Average {
		best, bestPtp := 0, -1.0
		for c, w := range chans {
			if p := ptp(w); p > bestPtp {
				best, bestPtp = c, p
			}
		}
		out[u] = best
	}
	return out
}

// NumSamples is the template length.
func (t *Templates) NumSamples() int {
	if len(t.Average) == 0 || len(t.Average[0]) == 0 {
		return 0
	}
	return len(t.Average[0][0])
}

func ptp(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	lo, hi := w[0], w[0]
	for _, v := range w[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return hi - lo
}
