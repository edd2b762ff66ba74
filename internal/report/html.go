package report

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/spikesort/internal/fsutil"
)

// maxRasterPoints caps the scatter points per unit on the HTML page.
const maxRasterPoints = 5000

// writeHTML renders the interactive companion page: spike counts, firing
// rates and a raster of every unit.
func writeHTML(fsys fsutil.FileSystem, in Input) (string, error) {
	a := in.Analysis
	ids := a.UnitIDs()
	fs := a.SamplingFrequency()

	counts := make([]opts.BarData, len(ids))
	for u, unit := range a.Sorting().Units {
		counts[u] = opts.BarData{Value: len(unit.SpikeFrames)}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Spike sorting summary", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Spikes per unit", Subtitle: fmt.Sprintf("sorter=%s units=%d", in.Sorter.Name, len(ids))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(ids).AddSeries("spikes", counts,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	raster := charts.NewScatter()
	raster.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Raster", Subtitle: in.Folder}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "unit", NameLocation: "middle", NameGap: 30}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside", XAxisIndex: []int{0}}),
	)
	for u, unit := range a.Sorting().Units {
		stride := max(1, len(unit.SpikeFrames)/maxRasterPoints)
		pts := make([]opts.ScatterData, 0, len(unit.SpikeFrames)/stride+1)
		for k := 0; k < len(unit.SpikeFrames); k += stride {
			pts = append(pts, opts.ScatterData{Value: []interface{}{float64(unit.SpikeFrames[k]) / fs, u}})
		}
		raster.AddSeries("unit "+unit.ID, pts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}

	page := components.NewPage()
	page.AddCharts(bar, raster)

	if qm := a.Results.QualityMetrics; qm != nil {
		rates := make([]opts.BarData, len(qm))
		for u, m := range qm {
			rates[u] = opts.BarData{Value: m["firing_rate"]}
		}
		fr := charts.NewBar()
		fr.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
			charts.WithTitleOpts(opts.Title{Title: "Firing rate (Hz)"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		fr.SetXAxis(ids).AddSeries("firing_rate", rates)
		page.AddCharts(fr)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return "", fmt.Errorf("report: render HTML: %w", err)
	}
	path := filepath.Join(in.Folder, HTMLFileName(in.Sorter.Name))
	if err := fsutil.WriteFileIn(fsys, path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}
