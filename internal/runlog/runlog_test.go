package runlog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikesort/internal/pipeline"
	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/sorting"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "spikesort.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleRun(t *testing.T, id string, started time.Time) *pipeline.Run {
	t.Helper()
	p, err := protocol.New(400, 5000, "")
	require.NoError(t, err)
	return &pipeline.Run{
		ID:        id,
		Folder:    "/data/mouse1/session3",
		Sorter:    &sorting.BackendConfig{Name: "tridesclous2"},
		State:     pipeline.Configured,
		StartedAt: started,
		Triggers:  []float64{0.05, 0.9},
		Protocol:  p,
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	l := openTestLedger(t)

	version, dirty, err := l.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening an up-to-date ledger is a no-op.
	require.NoError(t, l.MigrateUp())
}

func TestMigrateDown_DropsStages(t *testing.T) {
	l := openTestLedger(t)

	require.NoError(t, l.MigrateDown())
	version, _, err := l.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = l.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='run_stages'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, l.MigrateUp())
	version, _, err = l.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRecord_UpsertsTransitions(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 14, 9, 26, 53, 500_000_000, time.UTC)
	run := sampleRun(t, "run-1", start)

	require.NoError(t, l.Record(ctx, run))
	got, err := l.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "configured", got.State)
	assert.Equal(t, "tridesclous2", got.Sorter)
	assert.Equal(t, 2, got.TriggerCount)
	assert.True(t, got.FinishedAt.IsZero())
	assert.True(t, got.StartedAt.Equal(start))
	assert.Contains(t, got.Protocol, "bandpass_filter")
	assert.Empty(t, got.Stages)

	run.State = pipeline.Complete
	run.FinishedAt = start.Add(90 * time.Second)
	run.Curated = &sorting.Sorting{
		SamplingFrequency: 30000,
		Units: []sorting.Unit{
			{ID: "0", SpikeFrames: []int{10, 20, 30}},
			{ID: "1", SpikeFrames: []int{40}},
		},
	}
	run.Stages = []pipeline.StageTiming{
		{State: pipeline.ArtifactsInjected, Duration: 2 * time.Millisecond},
		{State: pipeline.Sorted, Duration: 1500 * time.Millisecond},
	}
	require.NoError(t, l.Record(ctx, run))

	got, err = l.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "complete", got.State)
	assert.Equal(t, 2, got.NumUnits)
	assert.Equal(t, 4, got.NumSpikes)
	assert.True(t, got.FinishedAt.Equal(run.FinishedAt))
	want := []Stage{
		{State: "artifacts_injected", Duration: 2 * time.Millisecond},
		{State: "sorted", Duration: 1500 * time.Millisecond},
	}
	if diff := cmp.Diff(want, got.Stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	all, err := l.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecord_StoresError(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	run := sampleRun(t, "run-err", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	run.Protocol = nil
	run.Sorter = nil
	run.State = pipeline.Deduplicated
	run.Err = &pipeline.StageError{Stage: pipeline.Analyzed, Err: errors.New("boom")}

	require.NoError(t, l.Record(ctx, run))
	got, err := l.Get(ctx, "run-err")
	require.NoError(t, err)
	assert.Equal(t, "deduplicated", got.State)
	assert.Equal(t, "", got.Sorter)
	assert.Equal(t, "", got.Protocol)
	assert.Contains(t, got.Error, "boom")
}

func TestRecord_RequiresID(t *testing.T) {
	l := openTestLedger(t)
	assert.Error(t, l.Record(context.Background(), &pipeline.Run{}))
	assert.Error(t, l.Record(context.Background(), nil))
}

func TestList_MostRecentFirst(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// The half-second offset checks that fractional times still order.
	require.NoError(t, l.Record(ctx, sampleRun(t, "a", base)))
	require.NoError(t, l.Record(ctx, sampleRun(t, "b", base.Add(500*time.Millisecond))))
	require.NoError(t, l.Record(ctx, sampleRun(t, "c", base.Add(time.Hour))))

	all, err := l.List(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, e := range all {
		ids[i] = e.RunID
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	two, err := l.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "c", two[0].RunID)
}

func TestGet_NotFound(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_ImplementsRunRecorder(t *testing.T) {
	var _ pipeline.RunRecorder = openTestLedger(t)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "", formatTime(time.Time{}))
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2025-12-31T23:00:00.000000000Z", formatTime(ts))
	back, err := parseTime(formatTime(ts))
	require.NoError(t, err)
	assert.True(t, back.Equal(ts))
}
