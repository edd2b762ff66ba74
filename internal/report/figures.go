package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/spikesort/internal/analyzer"
	"github.com/banshee-data/spikesort/internal/preprocess"
)

const maxPointsPerTrace = 2000

var (
	traceColor   = color.Gray{Y: 90}
	contactColor = color.Gray{Y: 170}
	stdDashes    = []vg.Length{vg.Points(2), vg.Points(2)}
)

func (r *PDFRenderer) figurePages(in Input) ([]page, error) {
	a := in.Analysis
	best := bestChannels(a)
	var pages []page

	add := func(title string, p *plot.Plot, err error) error {
		if err != nil {
			return fmt.Errorf("report: %s: %w", title, err)
		}
		if p != nil {
			pages = append(pages, page{title: title, draw: tiled([]*plot.Plot{p}, 1, 1)})
		}
		return nil
	}

	lo, hi := clampWindow(r.cfg.TraceWindow, a.DurationSeconds())
	p, err := r.tracesPlot(a, best, lo, hi)
	if err := add(fmt.Sprintf("Traces with spikes (%g-%g s)", lo, hi), p, err); err != nil {
		return nil, err
	}
	lo, hi = clampWindow(r.cfg.RasterWindow, a.DurationSeconds())
	p, err = rasterPlot(a, lo, hi)
	if err := add(fmt.Sprintf("Rasters (%g-%g s)", lo, hi), p, err); err != nil {
		return nil, err
	}

	if t := a.Results.Templates; t != nil {
		plots := make([]*plot.Plot, 0, len(t.Average))
		for u := range t.Average {
			p, err := templatePlot(a, u, best[u])
			if err != nil {
				return nil, fmt.Errorf("report: waveforms of unit %s: %w", a.UnitIDs()[u], err)
			}
			plots = append(plots, p)
		}
		per := r.cfg.UnitsPerPage
		cols := min(per, 4)
		rows := (per + cols - 1) / cols
		for start := 0; start < len(plots); start += per {
			end := min(start+per, len(plots))
			pages = append(pages, page{
				title: fmt.Sprintf("Unit waveforms (%d-%d of %d)", start+1, end, len(plots)),
				draw:  tiled(plots[start:end], rows, cols),
			})
		}
	}

	p, err = r.spikeCurvesPlot(a, best)
	if err := add("Extracted spikes", p, err); err != nil {
		return nil, err
	}
	p, err = unitLocationsPlot(a, -1)
	if err := add("Unit locations", p, err); err != nil {
		return nil, err
	}

	for u, id := range a.UnitIDs() {
		plots, err := unitSummaryPlots(a, u, best[u])
		if err != nil {
			return nil, fmt.Errorf("report: summary of unit %s: %w", id, err)
		}
		if len(plots) == 0 {
			continue
		}
		pages = append(pages, page{title: "Unit " + id, draw: tiled(plots, 2, 2)})
	}

	p, err = densityPlot(a, best)
	if err := add("Waveform density", p, err); err != nil {
		return nil, err
	}
	return pages, nil
}

// bestChannels picks each unit's largest template channel, or channel 0
// when templates are missing.
func bestChannels(a *analyzer.Analyzer) []int {
	if t := a.Results.Templates; t != nil {
		return t.ExtremumChannel()
	}
	return make([]int, len(a.UnitIDs()))
}

func clampWindow(w [2]float64, duration float64) (float64, float64) {
	return math.Max(w[0], 0), math.Min(w[1], duration)
}

// decimate keeps the minimum and maximum of each bucket so that spikes stay
// visible at any zoom.
func decimate(x []float32, first int, fs float64, maxPoints int, offset float64) plotter.XYs {
	n := len(x)
	if n == 0 {
		return nil
	}
	bucket := max(1, (2*n+maxPoints-1)/maxPoints)
	out := make(plotter.XYs, 0, 2*(n/bucket+1))
	for start := 0; start < n; start += bucket {
		end := min(start+bucket, n)
		lo, hi := start, start
		for i := start + 1; i < end; i++ {
			if x[i] < x[lo] {
				lo = i
			}
			if x[i] > x[hi] {
				hi = i
			}
		}
		a, b := min(lo, hi), max(lo, hi)
		out = append(out, plotter.XY{X: float64(first+a) / fs, Y: float64(x[a]) + offset})
		if b != a {
			out = append(out, plotter.XY{X: float64(first+b) / fs, Y: float64(x[b]) + offset})
		}
	}
	return out
}

func (r *PDFRenderer) tracesPlot(a *analyzer.Analyzer, best []int, lo, hi float64) (*plot.Plot, error) {
	fs := a.SamplingFrequency()
	f0, f1 := int(lo*fs), min(int(hi*fs), a.NumFrames())
	if f1-f0 < 2 {
		return nil, nil
	}
	nch := min(a.NumChannels(), r.cfg.MaxTraceChannels)
	spacing := 1.0
	for c := 0; c < nch; c++ {
		x := a.Trace(c)[f0:f1]
		s := 8 * preprocess.NoiseLevel(x)
		if s == 0 {
			mn, mx := minMax(x)
			s = mx - mn
		}
		spacing = math.Max(spacing, s)
	}

	p := plot.New()
	p.X.Label.Text = "time (s)"
	p.X.Min, p.X.Max = lo, hi
	ids := a.Recording().ChannelIDs()
	ticks := make([]plot.Tick, nch)
	for c := 0; c < nch; c++ {
		offset := float64(c) * spacing
		ticks[c] = plot.Tick{Value: offset, Label: ids[c]}
		l, err := plotter.NewLine(decimate(a.Trace(c)[f0:f1], f0, fs, maxPointsPerTrace, offset))
		if err != nil {
			return nil, err
		}
		l.Color = traceColor
		l.Width = vg.Points(0.3)
		p.Add(l)
	}
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)

	for u, unit := range a.Sorting().Units {
		ch := best[u]
		if ch >= nch {
			continue
		}
		var pts plotter.XYs
		for _, f := range unit.SpikeFrames {
			if f >= f0 && f < f1 {
				pts = append(pts, plotter.XY{X: float64(f) / fs, Y: float64(a.Trace(ch)[f]) + float64(ch)*spacing})
			}
		}
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = plotutil.Color(u)
		s.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(s)
		p.Legend.Add("unit "+unit.ID, s)
	}
	p.Legend.Top = true
	return p, nil
}

func rasterPlot(a *analyzer.Analyzer, lo, hi float64) (*plot.Plot, error) {
	fs := a.SamplingFrequency()
	p := plot.New()
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "unit"
	p.X.Min, p.X.Max = lo, hi
	var ticks []plot.Tick
	for u, unit := range a.Sorting().Units {
		ticks = append(ticks, plot.Tick{Value: float64(u), Label: unit.ID})
		var pts plotter.XYs
		for _, f := range unit.SpikeFrames {
			if t := float64(f) / fs; t >= lo && t < hi {
				pts = append(pts, plotter.XY{X: t, Y: float64(u)})
			}
		}
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = plotutil.Color(u)
		s.GlyphStyle.Shape = draw.BoxGlyph{}
		s.GlyphStyle.Radius = vg.Points(0.8)
		p.Add(s)
	}
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)
	p.Y.Min, p.Y.Max = -1, float64(len(ticks))
	return p, nil
}

// templatePlot draws the mean waveform of unit u on channel ch with the
// mean plus and minus one standard deviation.
func templatePlot(a *analyzer.Analyzer, u, ch int) (*plot.Plot, error) {
	t := a.Results.Templates
	fs := a.SamplingFrequency()
	mean := t.Average[u][ch]
	std := t.Std[u][ch]
	xs := func(f func(s int) float64) plotter.XYs {
		out := make(plotter.XYs, len(mean))
		for s := range mean {
			out[s] = plotter.XY{X: float64(s-t.NBefore) / fs * 1000, Y: f(s)}
		}
		return out
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("unit %s, %s", a.UnitIDs()[u], a.Recording().ChannelIDs()[ch])
	p.X.Label.Text = "time (ms)"
	for _, sign := range []float64{-1, 1} {
		l, err := plotter.NewLine(xs(func(s int) float64 { return mean[s] + sign*std[s] }))
		if err != nil {
			return nil, err
		}
		l.Color = contactColor
		l.Dashes = stdDashes
		p.Add(l)
	}
	l, err := plotter.NewLine(xs(func(s int) float64 { return mean[s] }))
	if err != nil {
		return nil, err
	}
	l.Color = plotutil.Color(u)
	l.Width = vg.Points(1)
	p.Add(l)
	return p, nil
}

// spikeCurvesPlot overlays the first extracted spikes of every unit on its
// best channel, converted from microvolts to volts.
func (r *PDFRenderer) spikeCurvesPlot(a *analyzer.Analyzer, best []int) (*plot.Plot, error) {
	w := a.Results.Waveforms
	if w == nil {
		return nil, nil
	}
	fs := a.SamplingFrequency()
	p := plot.New()
	p.X.Label.Text = "time (ms)"
	p.Y.Label.Text = "V"
	drawn := 0
	for u, spikes := range w.Data {
		for k := 0; k < len(spikes) && k < r.cfg.MaxSpikesPerUnit; k++ {
			row := spikes[k][best[u]]
			xys := make(plotter.XYs, len(row))
			for s, v := range row {
				xys[s] = plotter.XY{X: float64(s-w.NBefore) / fs * 1000, Y: float64(v) * 1e-6}
			}
			l, err := plotter.NewLine(xys)
			if err != nil {
				return nil, err
			}
			l.Color = plotutil.Color(u)
			p.Add(l)
			if k == 0 {
				p.Legend.Add("unit "+a.UnitIDs()[u], l)
			}
			drawn++
		}
	}
	if drawn == 0 {
		return nil, nil
	}
	p.Legend.Top = true
	return p, nil
}

// unitLocationsPlot draws the probe contacts and the unit positions. When
// only is a unit index, just that unit is drawn, with its spike positions.
func unitLocationsPlot(a *analyzer.Analyzer, only int) (*plot.Plot, error) {
	contacts, ok := a.Locations()
	units := a.Results.UnitLocations
	if !ok || units == nil {
		return nil, nil
	}
	p := plot.New()
	p.X.Label.Text = "x (um)"
	p.Y.Label.Text = "y (um)"

	cs, err := plotter.NewScatter(pointsOf(contacts))
	if err != nil {
		return nil, err
	}
	cs.GlyphStyle.Color = contactColor
	cs.GlyphStyle.Shape = draw.BoxGlyph{}
	cs.GlyphStyle.Radius = vg.Points(3)
	p.Add(cs)

	if only >= 0 {
		if sl := a.Results.SpikeLocations; sl != nil && len(sl[only]) > 0 {
			s, err := plotter.NewScatter(pointsOf(sl[only]))
			if err != nil {
				return nil, err
			}
			s.GlyphStyle.Color = color.Gray{Y: 120}
			s.GlyphStyle.Radius = vg.Points(0.6)
			p.Add(s)
		}
	}

	var pts plotter.XYs
	var labels []string
	for u, loc := range units {
		if only >= 0 && u != only {
			continue
		}
		pts = append(pts, plotter.XY{X: loc[0], Y: loc[1]})
		labels = append(labels, a.UnitIDs()[u])
	}
	us, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	us.GlyphStyle.Color = plotutil.Color(max(only, 0))
	us.GlyphStyle.Shape = draw.CircleGlyph{}
	us.GlyphStyle.Radius = vg.Points(3)
	p.Add(us)
	if only < 0 {
		lbl, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
		if err != nil {
			return nil, err
		}
		lbl.Offset = vg.Point{X: vg.Points(4)}
		p.Add(lbl)
	}
	return p, nil
}

func pointsOf(locs [][2]float64) plotter.XYs {
	out := make(plotter.XYs, len(locs))
	for i, l := range locs {
		out[i] = plotter.XY{X: l[0], Y: l[1]}
	}
	return out
}

// unitSummaryPlots returns, for one unit, whichever of location, waveform,
// autocorrelogram and amplitudes have been computed.
func unitSummaryPlots(a *analyzer.Analyzer, u, ch int) ([]*plot.Plot, error) {
	var plots []*plot.Plot
	loc, err := unitLocationsPlot(a, u)
	if err != nil {
		return nil, err
	}
	if loc != nil {
		loc.Title.Text = "location"
		plots = append(plots, loc)
	}
	if a.Results.Templates != nil {
		p, err := templatePlot(a, u, ch)
		if err != nil {
			return nil, err
		}
		plots = append(plots, p)
	}
	if cg := a.Results.Correlograms; cg != nil {
		counts := cg.Counts[u][u]
		bins := make([]plotter.HistogramBin, len(counts))
		for b, c := range counts {
			bins[b] = plotter.HistogramBin{Min: cg.BinsMs[b], Max: cg.BinsMs[b+1], Weight: float64(c)}
		}
		h := &plotter.Histogram{
			Bins:      bins,
			Width:     cg.BinMs,
			FillColor: plotutil.Color(u),
			LineStyle: plotter.DefaultLineStyle,
		}
		p := plot.New()
		p.Title.Text = "autocorrelogram"
		p.X.Label.Text = "lag (ms)"
		p.Add(h)
		plots = append(plots, p)
	}
	if amps := a.Results.SpikeAmplitudes; amps != nil && len(amps[u]) > 0 {
		fs := a.SamplingFrequency()
		frames := a.Sorting().Units[u].SpikeFrames
		pts := make(plotter.XYs, len(amps[u]))
		for k, v := range amps[u] {
			pts[k] = plotter.XY{X: float64(frames[k]) / fs, Y: v}
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = plotutil.Color(u)
		s.GlyphStyle.Radius = vg.Points(1)
		p := plot.New()
		p.Title.Text = "amplitudes"
		p.X.Label.Text = "time (s)"
		p.Add(s)
		plots = append(plots, p)
	}
	return plots, nil
}

// densityGrid counts waveform samples per (sample, amplitude) cell.
type densityGrid struct {
	xs, ys []float64
	z      [][]float64 // [column][row]
}

func (g *densityGrid) Dims() (c, r int)   { return len(g.xs), len(g.ys) }
func (g *densityGrid) Z(c, r int) float64 { return g.z[c][r] }
func (g *densityGrid) X(c int) float64    { return g.xs[c] }
func (g *densityGrid) Y(r int) float64    { return g.ys[r] }

const densityRows = 64

// densityPlot stacks the sampled waveforms of every unit on its best
// channel into a two-dimensional histogram.
func densityPlot(a *analyzer.Analyzer, best []int) (*plot.Plot, error) {
	w := a.Results.Waveforms
	if w == nil {
		return nil, nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for u, spikes := range w.Data {
		for _, snip := range spikes {
			l, h := minMax(snip[best[u]])
			lo, hi = math.Min(lo, l), math.Max(hi, h)
		}
	}
	n := w.NBefore + w.NAfter
	if math.IsInf(lo, 0) || hi <= lo || n == 0 {
		return nil, nil
	}
	step := (hi - lo) / densityRows
	g := &densityGrid{xs: make([]float64, n), ys: make([]float64, densityRows), z: make([][]float64, n)}
	fs := a.SamplingFrequency()
	for s := range g.xs {
		g.xs[s] = float64(s-w.NBefore) / fs * 1000
		g.z[s] = make([]float64, densityRows)
	}
	for r := range g.ys {
		g.ys[r] = lo + (float64(r)+0.5)*step
	}
	for u, spikes := range w.Data {
		for _, snip := range spikes {
			for s, v := range snip[best[u]] {
				r := min(int((float64(v)-lo)/step), densityRows-1)
				g.z[s][r]++
			}
		}
	}
	p := plot.New()
	p.X.Label.Text = "time (ms)"
	p.Y.Label.Text = "amplitude"
	p.Add(plotter.NewHeatMap(g, palette.Heat(32, 1)))
	return p, nil
}

func minMax(x []float32) (float64, float64) {
	if len(x) == 0 {
		return 0, 0
	}
	lo, hi := x[0], x[0]
	for _, v := range x[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return float64(lo), float64(hi)
}
