package preprocess

import (
	"fmt"
	"math"

	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
)

// Artifact removal modes.
const (
	ModeZeros  = "zeros"
	ModeLinear = "linear"
)

// removeArtifacts blanks [t-ms_before, t+ms_after] around every trigger time
// t, given in seconds from the start of the first segment.
func removeArtifacts(buf *recording.Buffer, p protocol.Params) error {
	triggers, err := p.Floats("list_triggers")
	if err != nil {
		return err
	}
	mode, err := p.String("mode", ModeZeros)
	if err != nil {
		return err
	}
	if mode != ModeZeros && mode != ModeLinear {
		return fmt.Errorf("unsupported mode %q", mode)
	}
	msBefore, err := p.Float("ms_before", 0.5)
	if err != nil {
		return err
	}
	msAfter, err := p.Float("ms_after", 3.0)
	if err != nil {
		return err
	}
	if msBefore < 0 || msAfter < 0 {
		return fmt.Errorf("ms_before and ms_after must be >= 0")
	}

	fs := buf.SamplingFrequency()
	before := int(math.Round(msBefore * fs / 1000))
	after := int(math.Round(msAfter * fs / 1000))

	segStart := 0
	for seg := 0; seg < buf.NumSegments(); seg++ {
		n := buf.NumFrames(seg)
		for _, t := range triggers {
			frame := int(math.Round(t*fs)) - segStart
			if frame < 0 || frame >= n {
				continue
			}
			lo := max(frame-before, 0)
			hi := min(frame+after, n-1)
			for c := 0; c < buf.NumChannels(); c++ {
				blank(buf.Samples(seg, c), lo, hi, mode)
			}
		}
		segStart += n
	}
	return nil
}

func blank(x []float32, lo, hi int, mode string) {
	if mode == ModeLinear && lo > 0 && hi < len(x)-1 {
		a, b := x[lo-1], x[hi+1]
		span := float32(hi - lo + 2)
		for i := lo; i <= hi; i++ {
			w := float32(i-lo+1) / span
			x[i] = a + (b-a)*w
		}
		return
	}
	for i := lo; i <= hi; i++ {
		x[i] = 0
	}
}
