package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/banshee-data/spikesort/internal/bridge"
	"github.com/banshee-data/spikesort/internal/config"
	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/pipeline"
	"github.com/banshee-data/spikesort/internal/probe"
	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/recording"
	"github.com/banshee-data/spikesort/internal/report"
	"github.com/banshee-data/spikesort/internal/runlog"
	"github.com/banshee-data/spikesort/internal/session"
	"github.com/banshee-data/spikesort/internal/sorting"
	"github.com/banshee-data/spikesort/internal/version"
)

// TracebackFileName receives the error chain of a failed run inside the
// recording folder.
const TracebackFileName = "errors_traceback.txt"

func handleRun(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Run configuration file (.json, required)")
	folder := fs.String("folder", "", "Recording folder (overrides recording_folder)")
	noReport := fs.Bool("no-report", false, "Skip the PDF report")
	var v verbosity
	v.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	v.apply(stderr)

	if *configPath == "" {
		fmt.Fprintln(stderr, "Error: -config is required")
		fs.Usage()
		return 2
	}
	cfg, err := config.LoadRunConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *folder != "" {
		cfg.RecordingFolder = folder
	}
	if *noReport {
		if cfg.Report == nil {
			cfg.Report = &config.ReportConfig{}
		}
		disabled := true
		cfg.Report.Disabled = &disabled
	}
	if cfg.GetRecordingFolder() == "" {
		fmt.Fprintln(stderr, "Error: no recording folder: set recording_folder or pass -folder")
		return 2
	}

	var bridgeLog bridge.Logger
	if v.trace {
		bridgeLog = bridgeLogger{log.New(stderr, "[bridge] ", log.LstdFlags|log.Lmicroseconds)}
	}
	fsys := fsutil.OSFileSystem{}
	tracebackPath := filepath.Join(cfg.GetRecordingFolder(), TracebackFileName)
	if err := fsys.RemoveAll(tracebackPath); err != nil {
		fmt.Fprintf(stderr, "Warning: could not remove stale %s: %v\n", tracebackPath, err)
	}

	out, err := execute(ctx, cfg, fsys, bridgeLog)
	if err != nil {
		if fsys.Exists(cfg.GetRecordingFolder()) {
			if werr := writeTraceback(fsys, tracebackPath, out, err); werr != nil {
				fmt.Fprintf(stderr, "Warning: could not write %s: %v\n", tracebackPath, werr)
			}
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "run %s complete: %d triggers, %d units, %d spikes in %s\n",
		out.run.ID, len(out.run.Triggers), out.run.NumUnits(), out.run.NumSpikes(), out.run.Duration())
	if out.report != "" {
		fmt.Fprintf(stdout, "report: %s\n", out.report)
	}
	return 0
}

// outcome is what a run produced, possibly partially.
type outcome struct {
	run    *pipeline.Run
	report string
}

// execute performs the workflow of one session: load the streams, detect
// triggers, attach the probe, run the pipeline and render the report.
func execute(ctx context.Context, cfg *config.RunConfig, fsys fsutil.FileSystem, bridgeLog bridge.Logger) (*outcome, error) {
	out := &outcome{}
	br := bridge.New(cfg.GetBridgeCommand())
	br.SetLogger(bridgeLog)

	sess, err := session.Open(ctx, cfg.GetRecordingFolder(), newLoader(cfg.GetLoader(), br, fsys))
	if err != nil {
		return out, err
	}

	ec, err := cfg.GetExtraction()
	if err != nil {
		return out, err
	}
	if _, err := sess.DetectTriggers(ec); err != nil {
		return out, fmt.Errorf("detect triggers: %w", err)
	}

	if path := cfg.GetProbeFile(); path != "" {
		geom, err := probe.Read(fsys, path)
		if err != nil {
			return out, err
		}
		if _, err := sess.AttachProbe(geom, fsys); err != nil {
			return out, err
		}
	}

	proto, err := loadProtocol(fsys, cfg)
	if err != nil {
		return out, err
	}

	backend := newBackend(br, fsys)
	sorter, err := sorting.NewBackendConfig(ctx, backend, cfg.GetSorter())
	if err != nil {
		return out, err
	}
	sorter = sorter.WithOverrides(cfg.SorterParams)

	pcfg := pipeline.Config{
		Protocol: proto,
		Sorter:   sorter,
		Backend:  backend,
		FS:       fsys,
	}
	if path := cfg.GetLedgerPath(); path != "" {
		ledger, err := runlog.Open(path)
		if err != nil {
			return out, fmt.Errorf("open run ledger: %w", err)
		}
		defer ledger.Close()
		pcfg.Recorder = ledger
	}

	orch, err := pipeline.New(pcfg)
	if err != nil {
		return out, err
	}
	out.run, err = orch.Run(ctx, sess)
	if err != nil {
		return out, err
	}

	renderer := report.NewRenderer(cfg.GetRenderConfig(), fsys)
	out.report, err = renderer.Render(ctx, report.FromRun(sess, out.run))
	if err != nil {
		return out, fmt.Errorf("render report: %w", err)
	}
	return out, nil
}

func newLoader(name string, br *bridge.Bridge, fsys fsutil.FileSystem) recording.Loader {
	if name == config.LoaderBinary {
		return recording.BinaryFolderLoader{FS: fsys}
	}
	return recording.BridgeLoader{Bridge: br, FS: fsys}
}

// newBackend serves the in-process threshold sorter directly and every other
// name through the bridge.
func newBackend(br *bridge.Bridge, fsys fsutil.FileSystem) *sorting.Registry {
	reg := sorting.NewRegistry(sorting.ExecBackend{Bridge: br, FS: fsys})
	reg.Register(sorting.ThresholdName, sorting.ThresholdBackend{FS: fsys})
	return reg
}

// loadProtocol reads protocol_file when it exists. Otherwise the default
// protocol is built from the band-pass settings and keeps the path for
// bookkeeping.
func loadProtocol(fsys fsutil.FileSystem, cfg *config.RunConfig) (*protocol.Protocol, error) {
	path := cfg.GetProtocolFile()
	if path != "" && fsys.Exists(path) {
		return protocol.Load(fsys, path)
	}
	return protocol.New(cfg.GetFreqMin(), cfg.GetFreqMax(), path)
}

// writeTraceback stores the failure and every error it wraps.
func writeTraceback(fsys fsutil.FileSystem, path string, out *outcome, err error) error {
	var b strings.Builder
	fmt.Fprintf(&b, "spikesort %s\n", version.String())
	if out != nil && out.run != nil {
		fmt.Fprintf(&b, "run %s stopped after state %s\n", out.run.ID, out.run.State)
	}
	for i, e := 0, err; e != nil; i, e = i+1, errors.Unwrap(e) {
		if i == 0 {
			fmt.Fprintf(&b, "error: %v\n", e)
			continue
		}
		fmt.Fprintf(&b, "%scaused by: %v\n", strings.Repeat("  ", i), e)
	}
	return fsutil.WriteFileIn(fsys, path, []byte(b.String()))
}
