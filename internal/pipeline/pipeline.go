package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/banshee-data/spikesort/internal/analyzer"
	"github.com/banshee-data/spikesort/internal/curation"
	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/preprocess"
	"github.com/banshee-data/spikesort/internal/probe"
	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
	"github.com/banshee-data/spikesort/internal/sorting"
	"github.com/banshee-data/spikesort/internal/timeutil"
)

// Folder name prefixes, completed with the sorter name.
const (
	SorterFolderPrefix   = "Sorting_pipeline_"
	AnalyzerFolderPrefix = "Analyzer_binary_pipeline_"
)

// Session is the part of a recording session a run reads.
type Session interface {
	Folder() string
	Signed() recording.Stream
	Probe() *probe.Aligned
	Triggers() []float64
}

// Preprocessor applies ordered preprocessing steps to a stream.
type Preprocessor interface {
	Apply(s recording.Stream, steps protocol.Steps) (recording.Stream, error)
}

// Deduplicator removes duplicated spikes from a sorting.
type Deduplicator interface {
	Deduplicate(s *sorting.Sorting) (*sorting.Sorting, error)
}

// AnalysisEngine pairs a processed stream with a curated sorting.
type AnalysisEngine interface {
	Build(rec recording.Stream, s *sorting.Sorting, folder string) (*analyzer.Analyzer, error)
}

// RunRecorder is told about every state a run reaches, and once more when
// it finishes.
type RunRecorder interface {
	Record(ctx context.Context, run *Run) error
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, *Run) error { return nil }

// Config wires the collaborators of an Orchestrator. Protocol, Sorter and
// Backend are required; the rest default to the in-process implementations.
type Config struct {
	Protocol *protocol.Protocol
	Sorter   *sorting.BackendConfig
	Backend  sorting.Backend

	Preprocessor Preprocessor
	Deduplicator Deduplicator
	Analysis     AnalysisEngine
	Recorder     RunRecorder
	FS           fsutil.FileSystem
	Clock        timeutil.Clock

	// OutputRoot holds the sorter and analyzer folders. Empty means the
	// session folder.
	OutputRoot string
}

// Orchestrator runs the stages in order. It keeps no state between runs.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Protocol == nil {
		return nil, fmt.Errorf("pipeline: protocol is required")
	}
	if cfg.Sorter == nil || cfg.Sorter.Name == "" {
		return nil, fmt.Errorf("pipeline: sorter config is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("pipeline: sorting backend is required")
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Preprocessor == nil {
		cfg.Preprocessor = preprocess.Engine{}
	}
	if cfg.Deduplicator == nil {
		cfg.Deduplicator = curation.NewDeduplicator()
	}
	if cfg.Analysis == nil {
		cfg.Analysis = analyzer.Engine{FS: cfg.FS}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Orchestrator{cfg: cfg}, nil
}

// SorterFolder is where the sorter for this config writes under root. The
// sorter name is sanitized so the folder always sits directly below root.
func (o *Orchestrator) SorterFolder(root string) string {
	return filepath.Join(root, SorterFolderPrefix+fsutil.SanitizeName(o.cfg.Sorter.Name))
}

// AnalyzerFolder is where the analyzer for this config writes under root.
func (o *Orchestrator) AnalyzerFolder(root string) string {
	return filepath.Join(root, AnalyzerFolderPrefix+fsutil.SanitizeName(o.cfg.Sorter.Name))
}

// Run executes one pass over sess. The returned Run is non-nil even on
// failure and shows the last state reached.
func (o *Orchestrator) Run(ctx context.Context, sess Session) (*Run, error) {
	root := o.cfg.OutputRoot
	if root == "" {
		root = sess.Folder()
	}
	run := &Run{
		ID:             uuid.NewString(),
		Folder:         sess.Folder(),
		Sorter:         o.cfg.Sorter,
		State:          Configured,
		StartedAt:      o.cfg.Clock.Now(),
		Triggers:       sess.Triggers(),
		SorterFolder:   o.SorterFolder(root),
		AnalyzerFolder: o.AnalyzerFolder(root),
	}
	diagf("run %s: sorter %s on %s", run.ID, run.Sorter.Name, run.Folder)
	o.record(ctx, run)

	err := o.execute(ctx, sess, run)
	run.FinishedAt = o.cfg.Clock.Now()
	if err != nil {
		run.Err = err
		opsf("run %s failed after %s: %v", run.ID, run.State, err)
	} else {
		run.State = Complete
		diagf("run %s complete in %v: %d units, %d spikes", run.ID, run.Duration(), run.NumUnits(), run.NumSpikes())
	}
	o.record(ctx, run)
	return run, err
}

func (o *Orchestrator) execute(ctx context.Context, sess Session, run *Run) error {
	stages := []struct {
		to State
		fn func() error
	}{
		{ArtifactsInjected, func() error { return o.injectArtifacts(run) }},
		{Preprocessed, func() error { return o.preprocess(sess, run) }},
		{Sorted, func() error { return o.sort(ctx, run) }},
		{Deduplicated, func() error { return o.deduplicate(run) }},
		{Analyzed, func() error { return o.analyze(run) }},
	}
	for _, st := range stages {
		start := o.cfg.Clock.Now()
		if err := st.fn(); err != nil {
			return &StageError{Stage: st.to, Err: err}
		}
		d := o.cfg.Clock.Since(start)
		run.State = st.to
		run.Stages = append(run.Stages, StageTiming{State: st.to, Duration: d})
		diagf("run %s: %s (%v)", run.ID, st.to, d)
		o.record(ctx, run)
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, run *Run) {
	if err := o.cfg.Recorder.Record(ctx, run); err != nil {
		opsf("run %s: recording state %s: %v", run.ID, run.State, err)
	}
}

func (o *Orchestrator) injectArtifacts(run *Run) error {
	run.Protocol = o.cfg.Protocol.WithArtifactRemoval(run.Triggers)
	if len(run.Triggers) > 0 {
		diagf("removing artifacts around %d triggers", len(run.Triggers))
	} else {
		diagf("no triggers; artifact removal skipped")
	}
	tracef("protocol:\n%s", run.Protocol)
	return nil
}

func (o *Orchestrator) preprocess(sess Session, run *Run) error {
	signed := sess.Signed()
	if signed == nil {
		return fmt.Errorf("session has no amplifier stream")
	}
	processed, err := o.cfg.Preprocessor.Apply(signed, run.Protocol.Preprocessing)
	if err != nil {
		return err
	}
	if aligned := sess.Probe(); aligned != nil {
		processed, err = recording.WithLocations(processed, aligned.ChannelLocations())
		if err != nil {
			return fmt.Errorf("attach probe to processed stream: %w", err)
		}
	}
	run.Processed = processed
	return nil
}

func (o *Orchestrator) sort(ctx context.Context, run *Run) error {
	opsf("replacing sorter folder %s", run.SorterFolder)
	if err := fsutil.ResetDir(o.cfg.FS, run.SorterFolder); err != nil {
		return err
	}
	tracef("%s", run.Sorter)
	raw, err := o.cfg.Backend.Run(ctx, sorting.Request{
		Sorter:       run.Sorter.Name,
		Params:       run.Sorter.Params,
		Recording:    run.Processed,
		OutputFolder: run.SorterFolder,
	})
	if err != nil {
		return err
	}
	run.RawSorting = raw
	diagf("sorter %s found %d units, %d spikes", run.Sorter.Name, len(raw.Units), raw.NumSpikes())
	return nil
}

func (o *Orchestrator) deduplicate(run *Run) error {
	curated, err := o.cfg.Deduplicator.Deduplicate(run.RawSorting)
	if err != nil {
		return err
	}
	run.Curated = curated
	diagf("%d duplicated spikes removed", run.RawSorting.NumSpikes()-curated.NumSpikes())
	for _, u := range curated.Units {
		tracef("unit %s: %d spikes", u.ID, len(u.SpikeFrames))
	}
	return nil
}

func (o *Orchestrator) analyze(run *Run) error {
	opsf("replacing analyzer folder %s", run.AnalyzerFolder)
	if err := fsutil.ResetDir(o.cfg.FS, run.AnalyzerFolder); err != nil {
		return err
	}
	a, err := o.cfg.Analysis.Build(run.Processed, run.Curated, run.AnalyzerFolder)
	if err != nil {
		if errors.Is(err, analyzer.ErrNothingToSample) {
			return &EmptySortingError{Sorter: run.Sorter.Name, Units: len(run.Curated.Units), Err: err}
		}
		return err
	}
	steps := protocol.OrderPostprocessing(run.Protocol.Postprocessing)
	tracef("postprocessing order: %v", steps.Names())
	if err := a.Compute(steps); err != nil {
		return err
	}
	run.Analysis = a
	return nil
}
