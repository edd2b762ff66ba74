// Package preprocess applies the protocol's preprocessing steps to an
// amplifier stream before it is handed to a sorter.
package preprocess

import (
	"fmt"

	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
)

// Engine applies preprocessing steps. The zero value is ready to use.
type Engine struct {
	// ChunkFrames bounds the FFT length used by the band-pass filter.
	// Zero selects DefaultChunkFrames.
	ChunkFrames int
}

// DefaultChunkFrames is the band-pass processing block, margins excluded.
const DefaultChunkFrames = 1 << 16

// Apply runs steps in order over a float32 copy of s. The source stream is
// never modified.
func (e Engine) Apply(s recording.Stream, steps protocol.Steps) (recording.Stream, error) {
	buf, err := recording.Materialize(s)
	if err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}
	out, err := recording.NewBuffer(buf.SamplingFrequency(), buf.ChannelIDs(), recording.Float32, segmentsOf(buf)...)
	if err != nil {
		return nil, err
	}
	for _, st := range steps {
		switch st.Name {
		case protocol.StepBandpass:
			err = e.bandpass(out, st.Params)
		case protocol.StepRemoveArtifacts:
			err = removeArtifacts(out, st.Params)
		default:
			err = fmt.Errorf("unknown preprocessing step")
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.Name, err)
		}
	}
	return out, nil
}

func segmentsOf(b *recording.Buffer) [][][]float32 {
	segs := make([][][]float32, b.NumSegments())
	for seg := range segs {
		segs[seg] = make([][]float32, b.NumChannels())
		for c := range segs[seg] {
			segs[seg][c] = b.Samples(seg, c)
		}
	}
	return segs
}
