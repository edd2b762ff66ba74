package recording

import "fmt"

// Buffer is an in-memory Stream. Preprocessing materialises its output into
// a Buffer and tests build fixtures with it.
type Buffer struct {
	fs       float64
	ids      []string
	dtype    Dtype
	segments [][][]float32 // [segment][channel][frame]
}

// NewBuffer builds a Buffer from channel-major segment data. Every channel of
// a segment must have the same length.
func NewBuffer(fs float64, channelIDs []string, dtype Dtype, segments ...[][]float32) (*Buffer, error) {
	if fs <= 0 {
		return nil, fmt.Errorf("sampling frequency must be positive, got %v", fs)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("at least one segment is required")
	}
	for s, seg := range segments {
		if len(seg) != len(channelIDs) {
			return nil, fmt.Errorf("segment %d has %d channels, want %d", s, len(seg), len(channelIDs))
		}
		for c := range seg {
			if len(seg[c]) != len(seg[0]) {
				return nil, fmt.Errorf("segment %d channel %d has %d frames, want %d", s, c, len(seg[c]), len(seg[0]))
			}
		}
	}
	ids := make([]string, len(channelIDs))
	copy(ids, channelIDs)
	return &Buffer{fs: fs, ids: ids, dtype: dtype, segments: segments}, nil
}

// Materialize copies every sample of s into a Buffer.
func Materialize(s Stream) (*Buffer, error) {
	segs := make([][][]float32, s.NumSegments())
	for seg := range segs {
		tr, err := s.Traces(seg, 0, s.NumFrames(seg), nil)
		if err != nil {
			return nil, fmt.Errorf("read segment %d: %w", seg, err)
		}
		segs[seg] = tr
	}
	return NewBuffer(s.SamplingFrequency(), s.ChannelIDs(), s.Dtype(), segs...)
}

func (b *Buffer) SamplingFrequency() float64 { return b.fs }
func (b *Buffer) NumChannels() int           { return len(b.ids) }
func (b *Buffer) NumSegments() int           { return len(b.segments) }
func (b *Buffer) Dtype() Dtype               { return b.dtype }

func (b *Buffer) ChannelIDs() []string {
	out := make([]string, len(b.ids))
	copy(out, b.ids)
	return out
}

func (b *Buffer) NumFrames(segment int) int {
	if segment < 0 || segment >= len(b.segments) || len(b.segments[segment]) == 0 {
		return 0
	}
	return len(b.segments[segment][0])
}

func (b *Buffer) Traces(segment, start, end int, channels []int) ([][]float32, error) {
	if err := checkRange(b, segment, start, end, channels); err != nil {
		return nil, err
	}
	if channels == nil {
		channels = allChannels(len(b.ids))
	}
	out := make([][]float32, len(channels))
	for i, c := range channels {
		row := make([]float32, end-start)
		copy(row, b.segments[segment][c][start:end])
		out[i] = row
	}
	return out, nil
}

// Samples exposes the backing slice of one channel for in-place edits by
// preprocessing stages that own the buffer.
func (b *Buffer) Samples(segment, channel int) []float32 {
	return b.segments[segment][channel]
}
