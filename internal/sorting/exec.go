package sorting

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/recording"
)

// Runner executes one bridge verb and returns its stdout.
type Runner interface {
	Run(ctx context.Context, verb string, args ...string) ([]byte, error)
}

// ExecBackend delegates to external sorters through the bridge process. The
// recording is exported as a binary folder inside the output folder and the
// bridge answers with a sorting.json.
type ExecBackend struct {
	Bridge Runner
	FS     fsutil.FileSystem
}

func (b ExecBackend) fs() fsutil.FileSystem {
	if b.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return b.FS
}

// DefaultParams implements Backend.
func (b ExecBackend) DefaultParams(ctx context.Context, sorter string) (map[string]any, error) {
	out, err := b.Bridge.Run(ctx, "default-params", "--sorter", sorter)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(out, &params); err != nil {
		return nil, fmt.Errorf("decode default params: %w", err)
	}
	return params, nil
}

// ParamDescriptions implements Backend.
func (b ExecBackend) ParamDescriptions(ctx context.Context, sorter string) (map[string]string, error) {
	out, err := b.Bridge.Run(ctx, "param-descriptions", "--sorter", sorter)
	if err != nil {
		return nil, err
	}
	var desc map[string]string
	if err := json.Unmarshal(out, &desc); err != nil {
		return nil, fmt.Errorf("decode param descriptions: %w", err)
	}
	return desc, nil
}

// Run implements Backend.
func (b ExecBackend) Run(ctx context.Context, req Request) (*Sorting, error) {
	fsys := b.fs()
	recDir := filepath.Join(req.OutputFolder, "recording")
	if err := recording.WriteBinaryFolder(fsys, recDir, req.Recording); err != nil {
		return nil, fmt.Errorf("export recording: %w", err)
	}
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	pb, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	paramsPath := filepath.Join(req.OutputFolder, "spikesort_params.json")
	if err := fsutil.WriteFileIn(fsys, paramsPath, pb); err != nil {
		return nil, err
	}
	outDir := filepath.Join(req.OutputFolder, "sorter_output")
	if _, err := b.Bridge.Run(ctx, "run-sorter",
		"--sorter", req.Sorter,
		"--recording", recDir,
		"--params", paramsPath,
		"--out", outDir,
	); err != nil {
		return nil, err
	}
	s, err := Load(fsys, outDir)
	if err != nil {
		return nil, err
	}
	if s.SamplingFrequency != req.Recording.SamplingFrequency() {
		return nil, fmt.Errorf("sorter reported %v Hz for a %v Hz recording", s.SamplingFrequency, req.Recording.SamplingFrequency())
	}
	return s, nil
}
