package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/probe"
	"github.com/banshee-data/spikesort/internal/recording"
	"github.com/banshee-data/spikesort/internal/testutil"
	"github.com/banshee-data/spikesort/internal/trigger"
)

func openSynthetic(t *testing.T, r testutil.Recording) *Session {
	t.Helper()
	s, err := Open(context.Background(), "/rec", r.Loader())
	require.NoError(t, err)
	return s
}

func TestOpen_Metadata(t *testing.T) {
	s := openSynthetic(t, testutil.Recording{FS: 20000, Frames: 4000})

	assert.Equal(t, "/rec", s.Folder())
	assert.Equal(t, 20000.0, s.SamplingFrequency())
	assert.Equal(t, []string{"A-000", "A-001", "A-002", "A-003"}, s.ChannelIDs())
	assert.Equal(t, 4, s.NumChannels())
	assert.Equal(t, 1, s.NumSegments())
	assert.Empty(t, s.Triggers())
	assert.Nil(t, s.Probe())
	_, ok := s.Extraction()
	assert.False(t, ok)

	assert.Equal(t, recording.Int16, s.Signed().Dtype())
	tr, err := s.Signed().Traces(0, 0, 1, []int{0})
	require.NoError(t, err)
	assert.Equal(t, float32(0), tr[0][0])
}

func TestOpen_MissingStream(t *testing.T) {
	l := testutil.Recording{}.Loader()
	delete(l, recording.StreamStim)

	_, err := Open(context.Background(), "/rec", l)
	var lerr *recording.LoadError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, recording.StreamStim, lerr.Stream)
}

func TestOpen_LoaderErrorIsWrapped(t *testing.T) {
	boom := errors.New("permission denied")
	_, err := Open(context.Background(), "/rec", testutil.FailingLoader{Err: boom})

	var lerr *recording.LoadError
	require.True(t, errors.As(err, &lerr))
	assert.True(t, errors.Is(err, boom))
}

func TestOpen_InconsistentStreams(t *testing.T) {
	l := testutil.Recording{}.Loader()
	l[recording.StreamADC] = testutil.Recording{FS: 20000}.ADC()

	_, err := Open(context.Background(), "/rec", l)
	var lerr *recording.LoadError
	require.True(t, errors.As(err, &lerr))
	assert.Contains(t, err.Error(), "sampling frequency")
}

func TestDetectTriggers(t *testing.T) {
	s := openSynthetic(t, testutil.Recording{FS: 1000, Frames: 20000, TriggerFrames: []int{2000, 2100, 9000}, PulseWidth: 5})

	cfg, err := trigger.NewConfig(35000, trigger.Falling, 5.1)
	require.NoError(t, err)
	ec, err := trigger.NewExtractionConfig(cfg, 0)
	require.NoError(t, err)

	got, err := s.DetectTriggers(ec)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.0, 9.0}, got, 1e-9)
	assert.Equal(t, got, s.Triggers())
	stored, ok := s.Extraction()
	require.True(t, ok)
	assert.Equal(t, ec, stored)

	// Recomputing replaces the previous result.
	cfg0, err := trigger.NewConfig(35000, trigger.Falling, 0)
	require.NoError(t, err)
	got, err = s.DetectTriggers(trigger.ExtractionConfig{Trigger: cfg0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2.0, 2.1, 9.0}, got, 1e-9)
}

func TestDetectTriggers_BadChannel(t *testing.T) {
	s := openSynthetic(t, testutil.Recording{Frames: 100})
	cfg, err := trigger.NewConfig(35000, trigger.Falling, 0)
	require.NoError(t, err)

	_, err = s.DetectTriggers(trigger.ExtractionConfig{Trigger: cfg, ChannelIndex: 5})
	var rerr *trigger.ChannelRangeError
	require.True(t, errors.As(err, &rerr))
	assert.Empty(t, s.Triggers())
}

func TestAttachProbe(t *testing.T) {
	s := openSynthetic(t, testutil.Recording{Frames: 100})
	geom, err := probe.Parse("probe.json", testutil.ProbeJSON(s.ChannelIDs()))
	require.NoError(t, err)

	mfs := fsutil.NewMemoryFileSystem()
	aligned, err := s.AttachProbe(geom, mfs)
	require.NoError(t, err)
	assert.Same(t, aligned, s.Probe())

	dump, err := mfs.ReadFile("/rec/probe_dataframe_dump.txt")
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(string(dump), "\n"))

	locs, ok := recording.Locations(s.Signed())
	require.True(t, ok)
	assert.Equal(t, [2]float64{0, 75}, locs[3])
}

func TestAttachProbe_Mismatch(t *testing.T) {
	s := openSynthetic(t, testutil.Recording{Frames: 100})
	geom, err := probe.Parse("probe.json", testutil.ProbeJSON([]string{"A-000", "A-001"}))
	require.NoError(t, err)

	mfs := fsutil.NewMemoryFileSystem()
	_, err = s.AttachProbe(geom, mfs)
	var aerr *probe.AlignmentError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 2, aerr.ProbeContacts)
	assert.Equal(t, 4, aerr.RecordingChannels)
	assert.False(t, mfs.Exists("/rec/probe_dataframe_dump.txt"))
	assert.Nil(t, s.Probe())
}
