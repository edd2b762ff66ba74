package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikesort/internal/analyzer"
	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/pipeline"
	"github.com/banshee-data/spikesort/internal/probe"
	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
	"github.com/banshee-data/spikesort/internal/session"
	"github.com/banshee-data/spikesort/internal/sorting"
	"github.com/banshee-data/spikesort/internal/testutil"
	"github.com/banshee-data/spikesort/internal/trigger"
)

func sorterConfig() *sorting.BackendConfig {
	return &sorting.BackendConfig{Name: "threshold", Params: map[string]any{"detect_threshold": 5.0}}
}

// fixtureInput builds a fully analyzed two-unit recording with a probe.
func fixtureInput(t *testing.T, mfs fsutil.FileSystem) Input {
	t.Helper()
	r := testutil.Recording{
		Noise: 2,
		Seed:  3,
		Units: []testutil.Unit{
			{Channel: 0, Frames: []int{3000, 9000, 15000, 21000}, Amplitude: 200},
			{Channel: 2, Frames: []int{6000, 12000, 18000, 24000}, Amplitude: 160},
		},
	}
	ids := []string{"A-000", "A-001", "A-002", "A-003"}
	geom, err := probe.Parse("probe.json", testutil.ProbeJSON(ids))
	require.NoError(t, err)
	aligned, err := probe.Align(geom, ids)
	require.NoError(t, err)
	rec, err := recording.WithLocations(recording.ToSigned(r.Amplifier()), aligned.ChannelLocations())
	require.NoError(t, err)

	s := &sorting.Sorting{SamplingFrequency: 30000, Units: []sorting.Unit{
		{ID: "0", SpikeFrames: r.Units[0].Frames},
		{ID: "1", SpikeFrames: r.Units[1].Frames},
	}}
	a, err := analyzer.Create(rec, s, "/rec/Analyzer_binary_pipeline_threshold", mfs)
	require.NoError(t, err)
	proto, err := protocol.New(300, 6000, "protocol.yaml")
	require.NoError(t, err)
	require.NoError(t, a.Compute(protocol.OrderPostprocessing(proto.Postprocessing)))

	cfg, err := trigger.NewConfig(35000, trigger.Falling, 0.01)
	require.NoError(t, err)
	return Input{
		Folder:     "/rec",
		RunID:      "run-1",
		Sorter:     sorterConfig(),
		Protocol:   proto.WithArtifactRemoval([]float64{0.1, 0.5}),
		Extraction: &trigger.ExtractionConfig{Trigger: cfg},
		Triggers:   []float64{0.1, 0.5},
		Probe:      aligned,
		Analysis:   a,
	}
}

func TestRender_WritesValidPDF(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	in := fixtureInput(t, mfs)
	r := NewRenderer(DefaultRenderConfig(), mfs).(*PDFRenderer)

	path, err := r.Render(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "/rec/Summary_figures_sorting_threshold.pdf", path)

	data, err := mfs.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	pages, err := r.plan(in)
	require.NoError(t, err)
	n, err := validatePDF(data)
	require.NoError(t, err)
	assert.Equal(t, len(pages), n)

	var titles []string
	for _, p := range pages {
		titles = append(titles, p.title)
	}
	assert.True(t, strings.HasPrefix(titles[0], "Summary"), titles[0])
	assert.Contains(t, titles, "Traces with spikes (0-1 s)")
	assert.Contains(t, titles, "Rasters (0-1 s)")
	assert.Contains(t, titles, "Unit waveforms (1-2 of 2)")
	assert.Contains(t, titles, "Extracted spikes")
	assert.Contains(t, titles, "Unit locations")
	assert.Contains(t, titles, "Unit 0")
	assert.Contains(t, titles, "Unit 1")
	assert.Contains(t, titles, "Waveform density")

	html, err := mfs.ReadFile("/rec/Summary_figures_sorting_threshold.html")
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")
	assert.Contains(t, string(html), "Spikes per unit")
}

func TestRender_SummaryOnly(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	cfg := DefaultRenderConfig()
	cfg.HTML = false
	r := NewRenderer(cfg, mfs)

	path, err := r.Render(context.Background(), Input{Folder: "/rec", Sorter: sorterConfig()})
	require.NoError(t, err)
	data, err := mfs.ReadFile(path)
	require.NoError(t, err)
	n, err := validatePDF(data)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mfs.Exists("/rec/Summary_figures_sorting_threshold.html"))
}

func TestRender_RequiresSorter(t *testing.T) {
	r := NewRenderer(DefaultRenderConfig(), fsutil.NewMemoryFileSystem())
	_, err := r.Render(context.Background(), Input{Folder: "/rec"})
	assert.Error(t, err)
}

func TestNewRenderer(t *testing.T) {
	cfg := DefaultRenderConfig()
	cfg.Disabled = true
	nop := NewRenderer(cfg, nil)
	assert.IsType(t, NopRenderer{}, nop)
	path, err := nop.Render(context.Background(), Input{})
	assert.NoError(t, err)
	assert.Empty(t, path)

	pdf := NewRenderer(RenderConfig{}, nil).(*PDFRenderer)
	assert.Equal(t, 84, pdf.cfg.WrapWidth)
	assert.Equal(t, 8, pdf.cfg.UnitsPerPage)
	assert.Equal(t, [2]float64{0, 60}, pdf.cfg.TraceWindow)
	assert.Equal(t, [2]float64{0, 300}, pdf.cfg.RasterWindow)
	assert.Equal(t, 1, pdf.cfg.MaxSpikesPerUnit)
}

func TestSummaryLines(t *testing.T) {
	in := fixtureInput(t, fsutil.NewMemoryFileSystem())
	text := strings.Join(summaryLines(in), "\n")

	for _, want := range []string{
		"Protocol", "Recording", "Trigger", "Probe", "Sorter", "Timestamp parameters", "Run",
		"remove_artifacts", "sampling frequency: 30000 Hz",
		"Trigger(threshold=35000", "contacts: 4", "Sorter(name='threshold'",
		"2 trigger timestamps (s)", "[0.10000, 0.50000]", "run id: run-1",
	} {
		assert.Contains(t, text, want)
	}

	for _, line := range wrapLines(summaryLines(in), 84) {
		assert.LessOrEqual(t, len(line), 84, line)
	}
}

func TestSummaryLines_Minimal(t *testing.T) {
	text := strings.Join(summaryLines(Input{Folder: "/rec"}), "\n")
	assert.Contains(t, text, "no trigger detection configured")
	assert.Contains(t, text, "no probe attached")
	assert.Contains(t, text, "0 trigger timestamps (s)")
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		width int
		want  []string
	}{
		{"short", "abc", 10, []string{"abc"}},
		{"words", "aaa bbb ccc", 7, []string{"aaa bbb", "ccc"}},
		{"long word", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"indent kept", "  aaaa bbbb cccc", 10, []string{"  aaaa", "  bbbb", "  cccc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wrap(tt.line, tt.width))
		})
	}
}

func TestPaginate(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, paginate(lines, 2))
	assert.Equal(t, [][]string{{"a", "b", "c", "d", "e"}}, paginate(lines, 10))
	assert.Nil(t, paginate(nil, 3))
}

func TestDecimate_KeepsExtremes(t *testing.T) {
	x := make([]float32, 1000)
	x[123] = -50
	x[700] = 80
	xys := decimate(x, 100, 1000, 100, 10)

	assert.LessOrEqual(t, len(xys), 102)
	var lo, hi float64 = 1e9, -1e9
	for _, p := range xys {
		lo, hi = min(lo, p.Y), max(hi, p.Y)
	}
	assert.Equal(t, -40.0, lo)
	assert.Equal(t, 90.0, hi)
	assert.InDelta(t, 0.1, xys[0].X, 1e-12)
	assert.Nil(t, decimate(nil, 0, 1000, 100, 0))
}

func TestFromRun(t *testing.T) {
	r := testutil.Recording{Frames: 3000, TriggerFrames: []int{300}}
	sess, err := session.Open(context.Background(), "/rec", r.Loader())
	require.NoError(t, err)
	cfg, err := trigger.NewConfig(35000, trigger.Falling, 0)
	require.NoError(t, err)
	_, err = sess.DetectTriggers(trigger.ExtractionConfig{Trigger: cfg})
	require.NoError(t, err)

	run := &pipeline.Run{ID: "abc", Sorter: sorterConfig(), Triggers: sess.Triggers()}
	in := FromRun(sess, run)
	assert.Equal(t, "/rec", in.Folder)
	assert.Equal(t, "abc", in.RunID)
	assert.Equal(t, []float64{0.01}, in.Triggers)
	require.NotNil(t, in.Extraction)
	assert.Equal(t, cfg, in.Extraction.Trigger)
	assert.Nil(t, in.Probe)
}
