package testutil

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikesort/internal/probe"
	"github.com/banshee-data/spikesort/internal/recording"
)

func TestAssertNoError_NilErr(t *testing.T) {
	AssertNoError(t, nil)
}

func TestAssertError_WithErr(t *testing.T) {
	AssertError(t, errors.New("something wrong"))
}

func TestRecording_Defaults(t *testing.T) {
	r := Recording{}
	amp := r.Amplifier()
	assert.Equal(t, 30000.0, amp.SamplingFrequency())
	assert.Equal(t, 4, amp.NumChannels())
	assert.Equal(t, 30000, amp.NumFrames(0))
	assert.Equal(t, recording.Uint16, amp.Dtype())

	tr, err := amp.Traces(0, 0, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(32768), tr[0][0])
}

func TestRecording_SpikeOnChannel(t *testing.T) {
	r := Recording{Units: []Unit{{Channel: 1, Frames: []int{1000}, Amplitude: 200}}}
	amp := r.Amplifier()

	ch1, err := recording.Channel(amp, 1)
	require.NoError(t, err)
	ch2, err := recording.Channel(amp, 2)
	require.NoError(t, err)
	ch0, err := recording.Channel(amp, 0)
	require.NoError(t, err)

	assert.Equal(t, float32(math.Round(32768+SpikeShape(0, 200))), ch1[1000])
	assert.Equal(t, float32(math.Round(32768+0.5*SpikeShape(0, 200))), ch2[1000])
	assert.Less(t, ch1[1000], float32(32768-150))
	assert.Equal(t, float32(32768), ch0[1000])
}

func TestRecording_TriggerPulses(t *testing.T) {
	r := Recording{TriggerFrames: []int{300}, PulseWidth: 10}
	adc, err := recording.Channel(r.ADC(), 0)
	require.NoError(t, err)
	assert.Equal(t, float32(40000), adc[299])
	assert.Equal(t, float32(30000), adc[300])
	assert.Equal(t, float32(30000), adc[309])
	assert.Equal(t, float32(40000), adc[310])
}

func TestLoader(t *testing.T) {
	l := Recording{}.Loader()
	s, err := l.Load(context.Background(), "/rec", recording.StreamADC)
	require.NoError(t, err)
	assert.Equal(t, 2, s.NumChannels())

	delete(l, recording.StreamStim)
	_, err = l.Load(context.Background(), "/rec", recording.StreamStim)
	assert.True(t, errors.Is(err, recording.ErrStreamNotFound))
}

func TestProbeJSON_Parses(t *testing.T) {
	ids := []string{"A-000", "A-001", "A-002"}
	g, err := probe.Parse("synthetic.json", ProbeJSON(ids))
	require.NoError(t, err)
	require.Len(t, g.Contacts, 3)
	assert.Equal(t, "A-002", g.Contacts[0].ContactID)

	a, err := probe.Align(g, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, a.ContactIDs())
	assert.Equal(t, [2]float64{0, 50}, a.ChannelLocations()[2])
}
