package recording

import "fmt"

// uint16Offset is the zero level of unsigned 16-bit amplifier samples.
const uint16Offset = 32768

type signedStream struct {
	Stream
}

// ToSigned returns a view of s in signed representation. Unsigned 16-bit
// streams are shifted down by 32768 and reported as int16; every other dtype
// passes through unchanged.
func ToSigned(s Stream) Stream {
	if s.Dtype() != Uint16 {
		return s
	}
	return signedStream{s}
}

func (s signedStream) Dtype() Dtype { return Int16 }

func (s signedStream) Traces(segment, start, end int, channels []int) ([][]float32, error) {
	tr, err := s.Stream.Traces(segment, start, end, channels)
	if err != nil {
		return nil, err
	}
	for _, row := range tr {
		for i := range row {
			row[i] -= uint16Offset
		}
	}
	return tr, nil
}

// Located is implemented by streams carrying per-channel contact positions.
type Located interface {
	Locations() [][2]float64
}

type locatedStream struct {
	Stream
	locs [][2]float64
}

func (s locatedStream) Locations() [][2]float64 {
	out := make([][2]float64, len(s.locs))
	copy(out, s.locs)
	return out
}

// WithLocations attaches one contact position per channel to s.
func WithLocations(s Stream, locs [][2]float64) (Stream, error) {
	if len(locs) != s.NumChannels() {
		return nil, fmt.Errorf("got %d locations for %d channels", len(locs), s.NumChannels())
	}
	if ls, ok := s.(locatedStream); ok {
		s = ls.Stream
	}
	cp := make([][2]float64, len(locs))
	copy(cp, locs)
	return locatedStream{Stream: s, locs: cp}, nil
}

// Locations returns the contact positions attached to s, if any.
func Locations(s Stream) ([][2]float64, bool) {
	ls, ok := s.(Located)
	if !ok {
		return nil, false
	}
	return ls.Locations(), true
}
