// Package testutil provides shared test utilities and fixtures.
//
// The synthetic recordings built here stand in for Intan acquisitions in
// session, pipeline and report tests.
package testutil

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/spikesort/internal/recording"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Unit is a synthetic neuron firing on one amplifier channel. Half of the
// amplitude also appears on the next channel.
type Unit struct {
	Channel   int
	Frames    []int
	Amplitude float64
}

// Recording describes a synthetic three-stream acquisition. Zero fields
// take the defaults documented on each.
type Recording struct {
	FS            float64  // 30000 Hz
	Frames        int      // one second
	ChannelIDs    []string // A-000..A-003
	Units         []Unit
	Noise         float64 // raw counts, standard deviation
	Seed          uint64
	TriggerFrames []int // ADC channel 0 drops below 35000 at these frames
	PulseWidth    int   // 30 frames
}

const (
	baseline = 32768
	adcHigh  = 40000
	adcLow   = 30000
)

func (r Recording) withDefaults() Recording {
	if r.FS == 0 {
		r.FS = 30000
	}
	if r.Frames == 0 {
		r.Frames = int(r.FS)
	}
	if len(r.ChannelIDs) == 0 {
		r.ChannelIDs = []string{"A-000", "A-001", "A-002", "A-003"}
	}
	if r.PulseWidth == 0 {
		r.PulseWidth = 30
	}
	return r
}

// SpikeShape returns the waveform value at dt seconds from the trough.
func SpikeShape(dt, amplitude float64) float64 {
	trough := math.Exp(-math.Pow(dt/0.0002, 2))
	rebound := math.Exp(-math.Pow((dt-0.0005)/0.0003, 2))
	return -amplitude*trough + 0.4*amplitude*rebound
}

// Amplifier builds the unsigned amplifier stream.
func (r Recording) Amplifier() *recording.Buffer {
	r = r.withDefaults()
	rng := rand.New(rand.NewPCG(r.Seed, r.Seed^0x9e3779b97f4a7c15))
	data := make([][]float32, len(r.ChannelIDs))
	for c := range data {
		row := make([]float64, r.Frames)
		for i := range row {
			row[i] = baseline + rng.NormFloat64()*r.Noise
		}
		for _, u := range r.Units {
			gain := 0.0
			switch c {
			case u.Channel:
				gain = 1
			case u.Channel + 1:
				gain = 0.5
			}
			if gain == 0 {
				continue
			}
			half := int(0.002 * r.FS)
			for _, f := range u.Frames {
				for k := -half; k <= half; k++ {
					if f+k < 0 || f+k >= r.Frames {
						continue
					}
					row[f+k] += gain * SpikeShape(float64(k)/r.FS, u.Amplitude)
				}
			}
		}
		data[c] = make([]float32, r.Frames)
		for i, v := range row {
			data[c][i] = float32(math.Round(v))
		}
	}
	buf, err := recording.NewBuffer(r.FS, r.ChannelIDs, recording.Uint16, data)
	if err != nil {
		panic(err)
	}
	return buf
}

// ADC builds the two-channel auxiliary stream carrying the trigger pulses on
// channel 0.
func (r Recording) ADC() *recording.Buffer {
	r = r.withDefaults()
	pulses := make([]float32, r.Frames)
	flat := make([]float32, r.Frames)
	for i := range pulses {
		pulses[i] = adcHigh
		flat[i] = adcHigh
	}
	for _, f := range r.TriggerFrames {
		for k := f; k < f+r.PulseWidth && k < r.Frames; k++ {
			if k >= 0 {
				pulses[k] = adcLow
			}
		}
	}
	buf, err := recording.NewBuffer(r.FS, []string{"ANALOG-IN-1", "ANALOG-IN-2"}, recording.Uint16, [][]float32{pulses, flat})
	if err != nil {
		panic(err)
	}
	return buf
}

// Stim builds an idle one-channel stim stream.
func (r Recording) Stim() *recording.Buffer {
	r = r.withDefaults()
	buf, err := recording.NewBuffer(r.FS, []string{"A-000_STIM"}, recording.Uint16, [][]float32{make([]float32, r.Frames)})
	if err != nil {
		panic(err)
	}
	return buf
}

// Loader returns a Loader serving the three synthetic streams.
func (r Recording) Loader() Loader {
	return Loader{
		recording.StreamStim:      r.Stim(),
		recording.StreamADC:       r.ADC(),
		recording.StreamAmplifier: r.Amplifier(),
	}
}

// Loader serves fixed streams by name.
type Loader map[string]recording.Stream

// Load implements recording.Loader.
func (l Loader) Load(_ context.Context, folder, stream string) (recording.Stream, error) {
	s, ok := l[stream]
	if !ok {
		return nil, &recording.LoadError{Folder: folder, Stream: stream, Err: recording.ErrStreamNotFound}
	}
	return s, nil
}

// FailingLoader returns Err for every stream.
type FailingLoader struct{ Err error }

// Load implements recording.Loader.
func (l FailingLoader) Load(_ context.Context, folder, stream string) (recording.Stream, error) {
	return nil, fmt.Errorf("open %s in %s: %w", stream, folder, l.Err)
}

// ProbeJSON returns a probeinterface document for a linear probe with one
// contact per id, 25 um pitch, listed in reverse device order.
func ProbeJSON(ids []string) []byte {
	n := len(ids)
	pos, cid, dci, shapes, params := "", "", "", "", ""
	for i := 0; i < n; i++ {
		if i > 0 {
			pos += ", "
			cid += ", "
			dci += ", "
			shapes += ", "
			params += ", "
		}
		j := n - 1 - i
		pos += fmt.Sprintf("[0.0, %d.0]", 25*j)
		cid += fmt.Sprintf("%q", ids[j])
		dci += fmt.Sprintf("%d", 100+j)
		shapes += `"circle"`
		params += `{"radius": 7.5}`
	}
	return []byte(fmt.Sprintf(`{"specification": "probeinterface", "version": "0.2.21", "probes": [{"ndim": 2, "si_units": "um", `+
		`"contact_positions": [%s], "contact_ids": [%s], "device_channel_indices": [%s], "contact_shapes": [%s], "contact_shape_params": [%s]}]}`,
		pos, cid, dci, shapes, params))
}
