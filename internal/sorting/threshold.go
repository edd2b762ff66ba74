package sorting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/preprocess"
	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
)

// ThresholdName is the sorter name served by ThresholdBackend.
const ThresholdName = "threshold"

// ThresholdBackend is an in-process sorter: every channel whose signal
// crosses detect_threshold noise levels becomes one unit. Peaks are locally
// exclusive, so a spike seen on neighbouring contacts is kept only on the
// channel where it is largest.
// When FS is set the result is also saved as sorting.json in the output
// folder, like external sorters leave theirs.
type ThresholdBackend struct {
	FS fsutil.FileSystem
}

var thresholdDefaults = map[string]any{
	"detect_threshold": 5.0,
	"peak_sign":        "neg",
	"exclude_sweep_ms": 0.5,
	"radius_um":        50.0,
	"min_spikes":       1,
}

var thresholdDescriptions = map[string]string{
	"detect_threshold": "Detection threshold in multiples of the channel noise level (MAD)",
	"peak_sign":        "Polarity of detected peaks: 'neg', 'pos' or 'both'",
	"exclude_sweep_ms": "Window (ms) in which only the largest peak among neighbouring channels is kept",
	"radius_um":        "Neighbourhood radius (um) for exclusivity; adjacent channel indices when no probe is attached",
	"min_spikes":       "Channels with fewer detected spikes do not produce a unit",
}

// DefaultParams implements Backend.
func (ThresholdBackend) DefaultParams(_ context.Context, sorter string) (map[string]any, error) {
	if sorter != ThresholdName {
		return nil, fmt.Errorf("unknown sorter %q", sorter)
	}
	return protocol.Params(thresholdDefaults).Clone(), nil
}

// ParamDescriptions implements Backend.
func (ThresholdBackend) ParamDescriptions(_ context.Context, sorter string) (map[string]string, error) {
	if sorter != ThresholdName {
		return nil, fmt.Errorf("unknown sorter %q", sorter)
	}
	out := make(map[string]string, len(thresholdDescriptions))
	for k, v := range thresholdDescriptions {
		out[k] = v
	}
	return out, nil
}

type peak struct {
	frame   int
	channel int
	amp     float64
}

// Run implements Backend.
func (b ThresholdBackend) Run(ctx context.Context, req Request) (*Sorting, error) {
	p := protocol.Params(req.Params)
	thr, err := p.Float("detect_threshold", 5)
	if err != nil {
		return nil, err
	}
	sign, err := p.String("peak_sign", "neg")
	if err != nil {
		return nil, err
	}
	if sign != "neg" && sign != "pos" && sign != "both" {
		return nil, fmt.Errorf("peak_sign must be neg, pos or both, got %q", sign)
	}
	sweepMs, err := p.Float("exclude_sweep_ms", 0.5)
	if err != nil {
		return nil, err
	}
	radius, err := p.Float("radius_um", 50)
	if err != nil {
		return nil, err
	}
	minSpikes, err := p.Int("min_spikes", 1)
	if err != nil {
		return nil, err
	}

	rec := req.Recording
	fs := rec.SamplingFrequency()
	sweep := int(math.Round(sweepMs * fs / 1000))
	neighbours := neighbourhoods(rec, radius)

	var peaks []peak
	for c := 0; c < rec.NumChannels(); c++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, err := recording.Channel(rec, c)
		if err != nil {
			return nil, err
		}
		level := thr * preprocess.NoiseLevel(x)
		if level == 0 {
			continue
		}
		peaks = append(peaks, findPeaks(x, c, level, sign)...)
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].amp > peaks[j].amp })

	bucket := sweep + 1
	taken := make([]map[int][]int, rec.NumChannels())
	for i := range taken {
		taken[i] = map[int][]int{}
	}
	blocked := func(c, f int) bool {
		b := f / bucket
		for _, bb := range []int{b - 1, b, b + 1} {
			for _, g := range taken[c][bb] {
				if abs(g-f) <= sweep {
					return true
				}
			}
		}
		return false
	}
	trains := make([][]int, rec.NumChannels())
	for _, pk := range peaks {
		if blocked(pk.channel, pk.frame) {
			continue
		}
		trains[pk.channel] = append(trains[pk.channel], pk.frame)
		for _, n := range neighbours[pk.channel] {
			taken[n][pk.frame/bucket] = append(taken[n][pk.frame/bucket], pk.frame)
		}
	}

	out := &Sorting{SamplingFrequency: fs, Units: []Unit{}}
	for _, frames := range trains {
		if len(frames) == 0 || len(frames) < minSpikes {
			continue
		}
		sort.Ints(frames)
		out.Units = append(out.Units, Unit{ID: strconv.Itoa(len(out.Units)), SpikeFrames: frames})
	}
	if req.OutputFolder != "" && b.FS != nil {
		if err := out.Save(b.FS, req.OutputFolder); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func findPeaks(x []float32, channel int, level float64, sign string) []peak {
	var out []peak
	for i := 1; i+1 < len(x); i++ {
		v := float64(x[i])
		prev, next := float64(x[i-1]), float64(x[i+1])
		if (sign == "neg" || sign == "both") && v <= -level && v < prev && v <= next {
			out = append(out, peak{frame: i, channel: channel, amp: -v})
		}
		if (sign == "pos" || sign == "both") && v >= level && v > prev && v >= next {
			out = append(out, peak{frame: i, channel: channel, amp: v})
		}
	}
	return out
}

// neighbourhoods lists, per channel, the channels within radius (itself
// included). Without contact positions adjacent indices are neighbours.
func neighbourhoods(rec recording.Stream, radius float64) [][]int {
	n := rec.NumChannels()
	out := make([][]int, n)
	locs, ok := recording.Locations(rec)
	for c := 0; c < n; c++ {
		for d := 0; d < n; d++ {
			if ok {
				dx, dy := locs[c][0]-locs[d][0], locs[c][1]-locs[d][1]
				if math.Hypot(dx, dy) <= radius {
					out[c] = append(out[c], d)
				}
			} else if abs(c-d) <= 1 {
				out[c] = append(out[c], d)
			}
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
