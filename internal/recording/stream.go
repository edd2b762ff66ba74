// Package recording models the multi-channel sample streams of an Intan
// acquisition: the stim, ADC and amplifier streams, the binary folders they
// are exchanged through, and the derived views (signed, probe-located) used
// by preprocessing and sorting.
package recording

import (
	"context"
	"errors"
	"fmt"
)

// Stream names as reported by the acquisition system.
const (
	StreamStim      = "Stim channel"
	StreamADC       = "USB board ADC input channel"
	StreamAmplifier = "RHS2000 amplifier channel"
)

// Dtype is the on-disk sample representation of a stream.
type Dtype string

const (
	Int16   Dtype = "int16"
	Uint16  Dtype = "uint16"
	Float32 Dtype = "float32"
)

// Size returns the number of bytes per sample, or 0 for unknown dtypes.
func (d Dtype) Size() int {
	switch d {
	case Int16, Uint16:
		return 2
	case Float32:
		return 4
	}
	return 0
}

// Stream is a read-only multi-channel sample source.
type Stream interface {
	SamplingFrequency() float64
	ChannelIDs() []string
	NumChannels() int
	NumSegments() int
	NumFrames(segment int) int
	Dtype() Dtype

	// Traces returns samples of segment in [start, end) for the requested
	// channel indices (nil means all), channel-major: out[c][frame].
	Traces(segment, start, end int, channels []int) ([][]float32, error)
}

// Loader opens one named stream of a recording folder.
type Loader interface {
	Load(ctx context.Context, folder, stream string) (Stream, error)
}

// ErrStreamNotFound is returned by loaders when a folder does not contain the
// requested stream.
var ErrStreamNotFound = errors.New("stream not found")

// LoadError reports a recording that could not be opened or whose streams are
// inconsistent with each other.
type LoadError struct {
	Folder string
	Stream string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("load recording %s", e.Folder)
	if e.Stream != "" {
		msg += fmt.Sprintf(" stream %q", e.Stream)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error { return e.Err }

// TotalFrames sums the frame counts of every segment.
func TotalFrames(s Stream) int {
	n := 0
	for seg := 0; seg < s.NumSegments(); seg++ {
		n += s.NumFrames(seg)
	}
	return n
}

// Channel returns the full-length samples of one channel, segments
// concatenated in order.
func Channel(s Stream, index int) ([]float32, error) {
	out := make([]float32, 0, TotalFrames(s))
	for seg := 0; seg < s.NumSegments(); seg++ {
		tr, err := s.Traces(seg, 0, s.NumFrames(seg), []int{index})
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", seg, err)
		}
		out = append(out, tr[0]...)
	}
	return out, nil
}

// DurationSeconds returns the total duration of s.
func DurationSeconds(s Stream) float64 {
	if s.SamplingFrequency() <= 0 {
		return 0
	}
	return float64(TotalFrames(s)) / s.SamplingFrequency()
}

func checkRange(s Stream, segment, start, end int, channels []int) error {
	if segment < 0 || segment >= s.NumSegments() {
		return fmt.Errorf("segment %d out of range for %d segments", segment, s.NumSegments())
	}
	n := s.NumFrames(segment)
	if start < 0 || end > n || start > end {
		return fmt.Errorf("frames [%d, %d) out of range for %d frames", start, end, n)
	}
	for _, c := range channels {
		if c < 0 || c >= s.NumChannels() {
			return fmt.Errorf("channel index %d out of range for %d channels", c, s.NumChannels())
		}
	}
	return nil
}

func allChannels(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
