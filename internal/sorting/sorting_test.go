package sorting

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/recording"
	"github.com/banshee-data/spikesort/internal/testutil"
)

func TestSorting_SaveLoad(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	s := &Sorting{SamplingFrequency: 30000, Units: []Unit{
		{ID: "0", SpikeFrames: []int{10, 20}},
		{ID: "1", SpikeFrames: []int{}},
	}}
	require.NoError(t, s.Save(mfs, "/out"))

	back, err := Load(mfs, "/out")
	require.NoError(t, err)
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, back.NumSpikes())
	assert.Equal(t, []string{"0", "1"}, back.UnitIDs())
}

func TestLoad_SortsFramesAndValidates(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsutil.WriteFileIn(mfs, "/a/sorting.json", []byte(`{"sampling_frequency": 1000, "units": [{"id": "7", "spike_frames": [30, 10, 20]}]}`)))
	s, err := Load(mfs, "/a")
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, s.Units[0].SpikeFrames)

	require.NoError(t, fsutil.WriteFileIn(mfs, "/b/sorting.json", []byte(`{"sampling_frequency": 1000, "units": [{"id": "1"}, {"id": "1"}]}`)))
	_, err = Load(mfs, "/b")
	assert.Error(t, err)

	require.NoError(t, fsutil.WriteFileIn(mfs, "/c/sorting.json", []byte(`{"units": []}`)))
	_, err = Load(mfs, "/c")
	assert.Error(t, err)

	require.NoError(t, fsutil.WriteFileIn(mfs, "/d/sorting.json", []byte(`{"sampling_frequency": 1000, "units": [{"id": "1", "spike_frames": [-1]}]}`)))
	_, err = Load(mfs, "/d")
	assert.Error(t, err)

	_, err = Load(mfs, "/missing")
	assert.Error(t, err)
}

func TestSorting_CloneIsDeep(t *testing.T) {
	s := &Sorting{SamplingFrequency: 1, Units: []Unit{{ID: "0", SpikeFrames: []int{1}}}}
	c := s.Clone()
	c.Units[0].SpikeFrames[0] = 9
	assert.Equal(t, 1, s.Units[0].SpikeFrames[0])
}

type stubBackend struct {
	params map[string]any
	desc   map[string]string
	err    error
	runs   []Request
}

func (b *stubBackend) DefaultParams(context.Context, string) (map[string]any, error) {
	return b.params, b.err
}

func (b *stubBackend) ParamDescriptions(context.Context, string) (map[string]string, error) {
	return b.desc, nil
}

func (b *stubBackend) Run(_ context.Context, req Request) (*Sorting, error) {
	b.runs = append(b.runs, req)
	return &Sorting{SamplingFrequency: 1}, nil
}

func TestNewBackendConfig(t *testing.T) {
	backend := &stubBackend{
		params: map[string]any{"detect_threshold": 5.0, "nested": map[string]any{"a": 1}},
		desc:   map[string]string{"detect_threshold": "Threshold"},
	}
	cfg, err := NewBackendConfig(context.Background(), backend, "tridesclous2")
	require.NoError(t, err)
	assert.Equal(t, "tridesclous2", cfg.Name)
	assert.Equal(t, 5.0, cfg.Params["detect_threshold"])
	assert.Equal(t, "Threshold", cfg.ParamDescriptions["detect_threshold"])
	assert.Equal(t, []string{"detect_threshold", "nested"}, cfg.ParamNames())
	assert.Equal(t, `Sorter(name='tridesclous2', detect_threshold=5, nested={"a":1})`, cfg.String())

	over := cfg.WithOverrides(map[string]any{"detect_threshold": 6.0})
	assert.Equal(t, 6.0, over.Params["detect_threshold"])
	assert.Equal(t, 5.0, cfg.Params["detect_threshold"])
}

func TestNewBackendConfig_Errors(t *testing.T) {
	_, err := NewBackendConfig(context.Background(), &stubBackend{}, "")
	assert.Error(t, err)

	boom := errors.New("sorter not installed")
	_, err = NewBackendConfig(context.Background(), &stubBackend{err: boom}, "kilosort4")
	assert.True(t, errors.Is(err, boom))

	cfg, err := NewBackendConfig(context.Background(), &stubBackend{}, "x")
	require.NoError(t, err)
	assert.NotNil(t, cfg.Params)
	assert.NotNil(t, cfg.ParamDescriptions)
}

func TestRegistry(t *testing.T) {
	fallback := &stubBackend{params: map[string]any{"from": "fallback"}}
	native := &stubBackend{params: map[string]any{"from": "native"}}
	r := NewRegistry(fallback)
	r.Register("threshold", native)
	assert.Equal(t, []string{"threshold"}, r.Names())

	p, err := r.DefaultParams(context.Background(), "threshold")
	require.NoError(t, err)
	assert.Equal(t, "native", p["from"])
	p, err = r.DefaultParams(context.Background(), "mountainsort5")
	require.NoError(t, err)
	assert.Equal(t, "fallback", p["from"])

	_, err = r.Run(context.Background(), Request{Sorter: "mountainsort5"})
	require.NoError(t, err)
	assert.Len(t, fallback.runs, 1)

	_, err = NewRegistry(nil).Run(context.Background(), Request{Sorter: "x"})
	assert.Error(t, err)
}

type fakeBridge struct {
	fsys  fsutil.FileSystem
	calls [][]string
	reply map[string]string
}

func (f *fakeBridge) Run(_ context.Context, verb string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{verb}, args...))
	if verb == "run-sorter" {
		out := args[len(args)-1]
		doc := `{"sampling_frequency": 30000, "units": [{"id": "a", "spike_frames": [5, 1]}]}`
		return nil, fsutil.WriteFileIn(f.fsys, filepath.Join(out, FileName), []byte(doc))
	}
	return []byte(f.reply[verb]), nil
}

func TestExecBackend(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	fb := &fakeBridge{fsys: mfs, reply: map[string]string{
		"default-params":     `{"detect_threshold": 5, "n_jobs": -1}`,
		"param-descriptions": `{"detect_threshold": "Threshold for spike detection"}`,
	}}
	b := ExecBackend{Bridge: fb, FS: mfs}

	params, err := b.DefaultParams(context.Background(), "tridesclous2")
	require.NoError(t, err)
	assert.Equal(t, 5.0, params["detect_threshold"])
	desc, err := b.ParamDescriptions(context.Background(), "tridesclous2")
	require.NoError(t, err)
	assert.Contains(t, desc["detect_threshold"], "Threshold")

	rec := testutil.Recording{Frames: 100}.Amplifier()
	s, err := b.Run(context.Background(), Request{
		Sorter:       "tridesclous2",
		Params:       map[string]any{"detect_threshold": 6},
		Recording:    recording.ToSigned(rec),
		OutputFolder: "/rec/Sorting_pipeline_tridesclous2",
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5}, s.Units[0].SpikeFrames)

	assert.True(t, mfs.Exists("/rec/Sorting_pipeline_tridesclous2/recording/binary.json"))
	raw, err := mfs.ReadFile("/rec/Sorting_pipeline_tridesclous2/spikesort_params.json")
	require.NoError(t, err)
	var written map[string]any
	require.NoError(t, json.Unmarshal(raw, &written))
	assert.Equal(t, 6.0, written["detect_threshold"])

	last := fb.calls[len(fb.calls)-1]
	assert.Equal(t, []string{"run-sorter", "--sorter", "tridesclous2",
		"--recording", "/rec/Sorting_pipeline_tridesclous2/recording",
		"--params", "/rec/Sorting_pipeline_tridesclous2/spikesort_params.json",
		"--out", "/rec/Sorting_pipeline_tridesclous2/sorter_output"}, last)
}

func TestExecBackend_BadReply(t *testing.T) {
	fb := &fakeBridge{reply: map[string]string{"default-params": "not json"}}
	_, err := ExecBackend{Bridge: fb}.DefaultParams(context.Background(), "x")
	assert.Error(t, err)
}

func TestExecBackend_FrequencyMismatch(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	b := ExecBackend{Bridge: &fakeBridge{fsys: mfs}, FS: mfs}
	rec := testutil.Recording{FS: 20000, Frames: 100}.Amplifier()
	_, err := b.Run(context.Background(), Request{Sorter: "x", Recording: rec, OutputFolder: "/o"})
	assert.Error(t, err)
}

func TestThresholdBackend(t *testing.T) {
	r := testutil.Recording{
		Noise: 1,
		Seed:  42,
		Units: []testutil.Unit{
			{Channel: 1, Frames: []int{1000, 5000, 9000}, Amplitude: 200},
			{Channel: 3, Frames: []int{3000, 7000}, Amplitude: 200},
		},
	}
	rec := recording.ToSigned(r.Amplifier())
	mfs := fsutil.NewMemoryFileSystem()
	b := ThresholdBackend{FS: mfs}

	params, err := b.DefaultParams(context.Background(), ThresholdName)
	require.NoError(t, err)
	params["detect_threshold"] = 8.0

	s, err := b.Run(context.Background(), Request{Sorter: ThresholdName, Params: params, Recording: rec, OutputFolder: "/out"})
	require.NoError(t, err)
	require.Len(t, s.Units, 2)
	assert.Equal(t, []string{"0", "1"}, s.UnitIDs())

	assertFramesNear := func(want, got []int) {
		t.Helper()
		require.Len(t, got, len(want))
		for i := range want {
			assert.InDelta(t, want[i], got[i], 1)
		}
	}
	assertFramesNear([]int{1000, 5000, 9000}, s.Units[0].SpikeFrames)
	assertFramesNear([]int{3000, 7000}, s.Units[1].SpikeFrames)
	assert.True(t, mfs.Exists("/out/sorting.json"))
}

func TestThresholdBackend_Params(t *testing.T) {
	b := ThresholdBackend{}
	_, err := b.DefaultParams(context.Background(), "kilosort4")
	assert.Error(t, err)
	_, err = b.ParamDescriptions(context.Background(), "kilosort4")
	assert.Error(t, err)

	desc, err := b.ParamDescriptions(context.Background(), ThresholdName)
	require.NoError(t, err)
	params, err := b.DefaultParams(context.Background(), ThresholdName)
	require.NoError(t, err)
	for k := range params {
		assert.Contains(t, desc, k)
	}

	rec := testutil.Recording{Frames: 100}.Amplifier()
	_, err = b.Run(context.Background(), Request{Recording: rec, Params: map[string]any{"peak_sign": "up"}})
	assert.Error(t, err)
}

func TestThresholdBackend_FlatSignalHasNoUnits(t *testing.T) {
	rec := recording.ToSigned(testutil.Recording{Frames: 1000}.Amplifier())
	s, err := ThresholdBackend{}.Run(context.Background(), Request{Recording: rec})
	require.NoError(t, err)
	assert.Empty(t, s.Units)
	assert.Equal(t, 0, s.NumSpikes())
}
