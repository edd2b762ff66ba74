// Package session holds one opened recording folder: its three acquisition
// streams, the derived amplifier metadata, the detected triggers and the
// aligned probe.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/monitoring"
	"github.com/banshee-data/spikesort/internal/probe"
	"github.com/banshee-data/spikesort/internal/recording"
	"github.com/banshee-data/spikesort/internal/trigger"
)

// Session is built by Open; the zero value is not usable.
type Session struct {
	folder    string
	stim      recording.Stream
	adc       recording.Stream
	amplifier recording.Stream
	signed    recording.Stream

	fs          float64
	channelIDs  []string
	numChannels int
	numSegments int

	triggers   []float64
	extraction *trigger.ExtractionConfig
	probe      *probe.Aligned
}

// Open loads the stim, ADC and amplifier streams of folder.
func Open(ctx context.Context, folder string, loader recording.Loader) (*Session, error) {
	s := &Session{folder: folder, triggers: []float64{}}
	for _, st := range []struct {
		name string
		dst  *recording.Stream
	}{
		{recording.StreamStim, &s.stim},
		{recording.StreamADC, &s.adc},
		{recording.StreamAmplifier, &s.amplifier},
	} {
		stream, err := loader.Load(ctx, folder, st.name)
		if err != nil {
			var lerr *recording.LoadError
			if errors.As(err, &lerr) {
				return nil, err
			}
			return nil, &recording.LoadError{Folder: folder, Stream: st.name, Err: err}
		}
		*st.dst = stream
	}

	amp := s.amplifier
	for _, other := range []recording.Stream{s.stim, s.adc} {
		if other.SamplingFrequency() != amp.SamplingFrequency() {
			return nil, &recording.LoadError{Folder: folder, Reason: fmt.Sprintf(
				"sampling frequency mismatch: %v Hz vs %v Hz", other.SamplingFrequency(), amp.SamplingFrequency())}
		}
		if other.NumSegments() != amp.NumSegments() {
			return nil, &recording.LoadError{Folder: folder, Reason: fmt.Sprintf(
				"segment count mismatch: %d vs %d", other.NumSegments(), amp.NumSegments())}
		}
	}

	s.fs = amp.SamplingFrequency()
	s.channelIDs = amp.ChannelIDs()
	s.numChannels = amp.NumChannels()
	s.numSegments = amp.NumSegments()
	s.signed = recording.ToSigned(amp)

	monitoring.Logf("Channel ids: %v", s.channelIDs)
	monitoring.Logf("Sampling frequency: %v", s.fs)
	monitoring.Logf("Number of channels: %d", s.numChannels)
	monitoring.Logf("Number of segments: %d", s.numSegments)
	return s, nil
}

func (s *Session) Folder() string              { return s.folder }
func (s *Session) SamplingFrequency() float64  { return s.fs }
func (s *Session) NumChannels() int            { return s.numChannels }
func (s *Session) NumSegments() int            { return s.numSegments }
func (s *Session) Stim() recording.Stream      { return s.stim }
func (s *Session) ADC() recording.Stream       { return s.adc }
func (s *Session) Amplifier() recording.Stream { return s.amplifier }
func (s *Session) Probe() *probe.Aligned       { return s.probe }
func (s *Session) Signed() recording.Stream    { return s.signed }

func (s *Session) ChannelIDs() []string {
	out := make([]string, len(s.channelIDs))
	copy(out, s.channelIDs)
	return out
}

// Triggers returns the last detected trigger times in seconds. It is empty
// until DetectTriggers succeeds.
func (s *Session) Triggers() []float64 {
	out := make([]float64, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// Extraction returns the config of the last detection, if any.
func (s *Session) Extraction() (trigger.ExtractionConfig, bool) {
	if s.extraction == nil {
		return trigger.ExtractionConfig{}, false
	}
	return *s.extraction, true
}

// DetectTriggers runs trigger detection on the ADC stream and replaces any
// previous result.
func (s *Session) DetectTriggers(ec trigger.ExtractionConfig) ([]float64, error) {
	ts, err := trigger.DetectStream(s.adc, ec)
	if err != nil {
		return nil, err
	}
	s.triggers = ts
	s.extraction = &ec
	monitoring.Logf("%d threshold crossings detected", len(ts))
	return s.Triggers(), nil
}

// AttachProbe aligns geom to the amplifier channels, dumps the aligned table
// into the recording folder and attaches the contact positions to the signed
// stream.
func (s *Session) AttachProbe(geom *probe.Geometry, fsys fsutil.FileSystem) (*probe.Aligned, error) {
	aligned, err := probe.Align(geom, s.channelIDs)
	if err != nil {
		return nil, err
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if err := aligned.DumpTSV(fsys, filepath.Join(s.folder, probe.DumpFileName)); err != nil {
		return nil, err
	}
	located, err := recording.WithLocations(s.signed, aligned.ChannelLocations())
	if err != nil {
		return nil, err
	}
	s.signed = located
	s.probe = aligned
	return aligned, nil
}
