// Package report renders the summary figures of a sorting run: a paginated
// PDF with the run parameters, traces, rasters, waveforms and per-unit
// pages, and optionally an interactive HTML companion.
package report

import (
	"context"
	"path/filepath"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/spikesort/internal/analyzer"
	"github.com/banshee-data/spikesort/internal/fsutil"
	"github.com/banshee-data/spikesort/internal/pipeline"
	"github.com/banshee-data/spikesort/internal/probe"
	"github.com/banshee-data/spikesort/internal/protocol"
	"github.com/banshee-data/spikesort/internal/session"
	"github.com/banshee-data/spikesort/internal/sorting"
	"github.com/banshee-data/spikesort/internal/trigger"
)

// Input is everything a report shows.
type Input struct {
	Folder     string
	RunID      string
	Sorter     *sorting.BackendConfig
	Protocol   *protocol.Protocol
	Extraction *trigger.ExtractionConfig
	Triggers   []float64
	Probe      *probe.Aligned
	Analysis   *analyzer.Analyzer
}

// FromRun collects the report input of a completed run.
func FromRun(sess *session.Session, run *pipeline.Run) Input {
	in := Input{
		Folder:   sess.Folder(),
		RunID:    run.ID,
		Sorter:   run.Sorter,
		Protocol: run.Protocol,
		Triggers: run.Triggers,
		Probe:    sess.Probe(),
		Analysis: run.Analysis,
	}
	if ec, ok := sess.Extraction(); ok {
		in.Extraction = &ec
	}
	return in
}

// FileName is the report name for a sorter.
func FileName(sorter string) string {
	return "Summary_figures_sorting_" + fsutil.SanitizeName(sorter) + ".pdf"
}

// HTMLFileName is the companion page name for a sorter.
func HTMLFileName(sorter string) string {
	return "Summary_figures_sorting_" + fsutil.SanitizeName(sorter) + ".html"
}

// Renderer produces the report for a run and returns the written path.
type Renderer interface {
	Render(ctx context.Context, in Input) (string, error)
}

// NopRenderer renders nothing.
type NopRenderer struct{}

// Render implements Renderer.
func (NopRenderer) Render(context.Context, Input) (string, error) { return "", nil }

// RenderConfig holds the page layout and the plot windows.
type RenderConfig struct {
	Disabled bool

	PageWidth  vg.Length
	PageHeight vg.Length
	Margin     vg.Length
	FontSize   vg.Length

	// WrapWidth is the summary text width in characters.
	WrapWidth int

	UnitsPerPage int

	// Windows in seconds.
	TraceWindow  [2]float64
	RasterWindow [2]float64

	// MaxSpikesPerUnit caps the extracted spike curves drawn per unit.
	MaxSpikesPerUnit int

	MaxTraceChannels int

	// HTML also writes the go-echarts companion page.
	HTML bool
}

// DefaultRenderConfig returns A4 landscape pages with the standard windows.
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		PageWidth:        297 * vg.Millimeter,
		PageHeight:       210 * vg.Millimeter,
		Margin:           12 * vg.Millimeter,
		FontSize:         9,
		WrapWidth:        84,
		UnitsPerPage:     8,
		TraceWindow:      [2]float64{0, 60},
		RasterWindow:     [2]float64{0, 300},
		MaxSpikesPerUnit: 1,
		MaxTraceChannels: 16,
		HTML:             true,
	}
}

// NewRenderer resolves the renderer once at start-up.
func NewRenderer(cfg RenderConfig, fsys fsutil.FileSystem) Renderer {
	if cfg.Disabled {
		return NopRenderer{}
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &PDFRenderer{cfg: cfg.withDefaults(), fs: fsys}
}

func (c RenderConfig) withDefaults() RenderConfig {
	d := DefaultRenderConfig()
	if c.PageWidth <= 0 || c.PageHeight <= 0 {
		c.PageWidth, c.PageHeight = d.PageWidth, d.PageHeight
	}
	if c.Margin <= 0 {
		c.Margin = d.Margin
	}
	if c.FontSize <= 0 {
		c.FontSize = d.FontSize
	}
	if c.WrapWidth <= 0 {
		c.WrapWidth = d.WrapWidth
	}
	if c.UnitsPerPage <= 0 {
		c.UnitsPerPage = d.UnitsPerPage
	}
	if c.TraceWindow[1] <= c.TraceWindow[0] {
		c.TraceWindow = d.TraceWindow
	}
	if c.RasterWindow[1] <= c.RasterWindow[0] {
		c.RasterWindow = d.RasterWindow
	}
	if c.MaxSpikesPerUnit <= 0 {
		c.MaxSpikesPerUnit = d.MaxSpikesPerUnit
	}
	if c.MaxTraceChannels <= 0 {
		c.MaxTraceChannels = d.MaxTraceChannels
	}
	return c
}

func outputPath(in Input) string {
	return filepath.Join(in.Folder, FileName(in.Sorter.Name))
}
