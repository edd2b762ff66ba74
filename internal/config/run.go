// Package config loads the JSON run configuration consumed by the spikesort
// command.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/spikesort/internal/bridge"
	"github.com/banshee-data/spikesort/internal/report"
	"github.com/banshee-data/spikesort/internal/trigger"
)

// DefaultConfigPath is the path to the documented run defaults.
const DefaultConfigPath = "config/run.defaults.json"

// Loader names accepted in "loader".
const (
	LoaderBridge = "bridge"
	LoaderBinary = "binary"
)

// RunConfig is the root of a run configuration file. Every field is optional
// in the file; the Get* accessors supply defaults.
type RunConfig struct {
	RecordingFolder *string `json:"recording_folder,omitempty"`
	ProbeFile       *string `json:"probe_file,omitempty"`
	ProtocolFile    *string `json:"protocol_file,omitempty"`

	// Loader is "bridge" for acquisition files or "binary" for folders
	// already exported as binary streams.
	Loader *string `json:"loader,omitempty"`

	Sorter       *string        `json:"sorter,omitempty"`
	SorterParams map[string]any `json:"sorter_params,omitempty"`

	Trigger  *TriggerConfig  `json:"trigger,omitempty"`
	Bandpass *BandpassConfig `json:"bandpass,omitempty"`

	BridgeCommand []string `json:"bridge_command,omitempty"`
	LedgerPath    *string  `json:"ledger_path,omitempty"`

	Report *ReportConfig `json:"report,omitempty"`
}

// TriggerConfig selects how trigger times are read from the ADC stream.
type TriggerConfig struct {
	Threshold    *float64 `json:"threshold,omitempty"`
	Edge         *int     `json:"edge,omitempty"` // +1 or -1
	MinInterval  *float64 `json:"min_interval,omitempty"`
	ChannelIndex *int     `json:"channel_index,omitempty"`
}

// BandpassConfig holds the default protocol's filter band in Hz.
type BandpassConfig struct {
	FreqMin *float64 `json:"freq_min,omitempty"`
	FreqMax *float64 `json:"freq_max,omitempty"`
}

// ReportConfig overrides parts of report.DefaultRenderConfig.
type ReportConfig struct {
	Disabled      *bool       `json:"disabled,omitempty"`
	UnitsPerPage  *int        `json:"units_per_page,omitempty"`
	TraceWindowS  *[2]float64 `json:"trace_window_s,omitempty"`
	RasterWindowS *[2]float64 `json:"raster_window_s,omitempty"`
	HTML          *bool       `json:"html,omitempty"`
}

// EmptyRunConfig returns a RunConfig with all fields unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a JSON file. The file must have a
// .json extension and be at most 1MB.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseRunConfig(data)
}

// ParseRunConfig decodes and validates JSON config data. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func ParseRunConfig(data []byte) (*RunConfig, error) {
	cfg := EmptyRunConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up to the repository root. It panics when the file is missing
// and is intended for test setup.
func MustLoadDefaultConfig() *RunConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadRunConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *RunConfig) Validate() error {
	if c.Loader != nil && *c.Loader != LoaderBridge && *c.Loader != LoaderBinary {
		return fmt.Errorf("loader must be %q or %q, got %q", LoaderBridge, LoaderBinary, *c.Loader)
	}
	if c.Sorter != nil && *c.Sorter == "" {
		return fmt.Errorf("sorter must not be empty")
	}
	if _, err := c.GetExtraction(); err != nil {
		return err
	}
	if lo, hi := c.GetFreqMin(), c.GetFreqMax(); lo <= 0 || hi <= lo {
		return fmt.Errorf("bandpass needs 0 < freq_min < freq_max, got %v and %v", lo, hi)
	}
	if c.Report != nil {
		if c.Report.UnitsPerPage != nil && *c.Report.UnitsPerPage <= 0 {
			return fmt.Errorf("report.units_per_page must be positive, got %d", *c.Report.UnitsPerPage)
		}
		for name, w := range map[string]*[2]float64{
			"report.trace_window_s":  c.Report.TraceWindowS,
			"report.raster_window_s": c.Report.RasterWindowS,
		} {
			if w != nil && (w[0] < 0 || w[1] <= w[0]) {
				return fmt.Errorf("%s must satisfy 0 <= start < end, got %v", name, *w)
			}
		}
	}
	return nil
}

// GetRecordingFolder returns recording_folder or "".
func (c *RunConfig) GetRecordingFolder() string {
	if c.RecordingFolder == nil {
		return ""
	}
	return *c.RecordingFolder
}

// GetProbeFile returns probe_file or "" when no probe is attached.
func (c *RunConfig) GetProbeFile() string {
	if c.ProbeFile == nil {
		return ""
	}
	return *c.ProbeFile
}

// GetProtocolFile returns protocol_file or "" to use the default protocol.
func (c *RunConfig) GetProtocolFile() string {
	if c.ProtocolFile == nil {
		return ""
	}
	return *c.ProtocolFile
}

// GetLoader returns the loader name. Defaults to bridge.
func (c *RunConfig) GetLoader() string {
	if c.Loader == nil {
		return LoaderBridge
	}
	return *c.Loader
}

// GetSorter returns the sorter name or the default.
func (c *RunConfig) GetSorter() string {
	if c.Sorter == nil {
		return "tridesclous2"
	}
	return *c.Sorter
}

// GetExtraction builds the trigger extraction parameters. Missing fields
// use threshold 37000, edge -1, min_interval 5.1 s and channel 0.
func (c *RunConfig) GetExtraction() (trigger.ExtractionConfig, error) {
	threshold, edge, minInterval, channel := 37000.0, int(trigger.Falling), 5.1, 0
	if t := c.Trigger; t != nil {
		if t.Threshold != nil {
			threshold = *t.Threshold
		}
		if t.Edge != nil {
			edge = *t.Edge
		}
		if t.MinInterval != nil {
			minInterval = *t.MinInterval
		}
		if t.ChannelIndex != nil {
			channel = *t.ChannelIndex
		}
	}
	tc, err := trigger.NewConfig(threshold, trigger.Edge(edge), minInterval)
	if err != nil {
		return trigger.ExtractionConfig{}, fmt.Errorf("trigger: %w", err)
	}
	ec, err := trigger.NewExtractionConfig(tc, channel)
	if err != nil {
		return trigger.ExtractionConfig{}, fmt.Errorf("trigger: %w", err)
	}
	return ec, nil
}

// GetFreqMin returns bandpass.freq_min or the default 400 Hz.
func (c *RunConfig) GetFreqMin() float64 {
	if c.Bandpass == nil || c.Bandpass.FreqMin == nil {
		return 400
	}
	return *c.Bandpass.FreqMin
}

// GetFreqMax returns bandpass.freq_max or the default 5000 Hz.
func (c *RunConfig) GetFreqMax() float64 {
	if c.Bandpass == nil || c.Bandpass.FreqMax == nil {
		return 5000
	}
	return *c.Bandpass.FreqMax
}

// GetBridgeCommand returns bridge_command or bridge.DefaultCommand.
func (c *RunConfig) GetBridgeCommand() []string {
	if len(c.BridgeCommand) == 0 {
		return append([]string(nil), bridge.DefaultCommand...)
	}
	return append([]string(nil), c.BridgeCommand...)
}

// GetLedgerPath returns ledger_path or the default. An explicit empty
// string disables the ledger.
func (c *RunConfig) GetLedgerPath() string {
	if c.LedgerPath == nil {
		return "spikesort.db"
	}
	return *c.LedgerPath
}

// GetRenderConfig applies the report section to report.DefaultRenderConfig.
func (c *RunConfig) GetRenderConfig() report.RenderConfig {
	rc := report.DefaultRenderConfig()
	r := c.Report
	if r == nil {
		return rc
	}
	if r.Disabled != nil {
		rc.Disabled = *r.Disabled
	}
	if r.UnitsPerPage != nil {
		rc.UnitsPerPage = *r.UnitsPerPage
	}
	if r.TraceWindowS != nil {
		rc.TraceWindow = *r.TraceWindowS
	}
	if r.RasterWindowS != nil {
		rc.RasterWindow = *r.RasterWindowS
	}
	if r.HTML != nil {
		rc.HTML = *r.HTML
	}
	return rc
}
