package report

import (
	"bytes"
	"context"
	"fmt"
	"image/color"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgpdf"

	"github.com/banshee-data/spikesort/internal/fsutil"
)

// PDFRenderer draws the report with gonum/plot on a multi-page PDF canvas.
type PDFRenderer struct {
	cfg RenderConfig
	fs  fsutil.FileSystem
}

// page draws one PDF page inside the margins.
type page struct {
	title string
	draw  func(dc draw.Canvas)
}

// Render implements Renderer.
func (r *PDFRenderer) Render(ctx context.Context, in Input) (string, error) {
	if in.Sorter == nil {
		return "", fmt.Errorf("report: sorter is required")
	}
	pages, err := r.plan(in)
	if err != nil {
		return "", err
	}
	data, err := r.renderPDF(ctx, pages)
	if err != nil {
		return "", err
	}
	n, err := validatePDF(data)
	if err != nil {
		return "", fmt.Errorf("report: rendered PDF is invalid: %w", err)
	}
	if n != len(pages) {
		opsf("rendered %d pages but the PDF has %d", len(pages), n)
	}

	path := outputPath(in)
	if err := fsutil.WriteFileIn(r.fs, path, data); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	diagf("wrote %s (%d pages, %d bytes)", path, n, len(data))

	if r.cfg.HTML && in.Analysis != nil {
		htmlPath, err := writeHTML(r.fs, in)
		if err != nil {
			return "", err
		}
		diagf("wrote %s", htmlPath)
	}
	return path, nil
}

// plan lists the pages of the report in order.
func (r *PDFRenderer) plan(in Input) ([]page, error) {
	pages := r.summaryPages(in)
	if in.Analysis == nil {
		return pages, nil
	}
	figs, err := r.figurePages(in)
	if err != nil {
		return nil, err
	}
	return append(pages, figs...), nil
}

func (r *PDFRenderer) face() font.Face {
	return font.DefaultCache.Lookup(font.Font{Typeface: "Liberation", Variant: "Mono"}, r.cfg.FontSize)
}

func (r *PDFRenderer) titleFace() font.Face {
	return font.DefaultCache.Lookup(font.Font{Typeface: "Liberation", Variant: "Sans"}, r.cfg.FontSize*1.5)
}

func (r *PDFRenderer) headerHeight() vg.Length {
	tf := r.titleFace()
	return tf.Extents().Height * 2
}

func (r *PDFRenderer) linesPerPage() int {
	face := r.face()
	body := r.cfg.PageHeight - 2*r.cfg.Margin - r.headerHeight()
	return int(body / face.Extents().Height)
}

func (r *PDFRenderer) summaryPages(in Input) []page {
	lines := wrapLines(summaryLines(in), r.cfg.WrapWidth)
	chunks := paginate(lines, r.linesPerPage())
	pages := make([]page, len(chunks))
	for i, chunk := range chunks {
		title := "Summary"
		if len(chunks) > 1 {
			title = fmt.Sprintf("Summary (%d/%d)", i+1, len(chunks))
		}
		pages[i] = page{title: title, draw: func(dc draw.Canvas) {
			face := r.face()
			h := face.Extents().Height
			dc.SetColor(color.Black)
			top := dc.Max.Y
			for k, line := range chunk {
				dc.FillString(face, vg.Point{X: dc.Min.X, Y: top - vg.Length(k+1)*h}, line)
			}
		}}
	}
	return pages
}

func (r *PDFRenderer) renderPDF(ctx context.Context, pages []page) ([]byte, error) {
	c := vgpdf.New(r.cfg.PageWidth, r.cfg.PageHeight)
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			c.NextPage()
		}
		dc := draw.New(c)
		dc = draw.Crop(dc, r.cfg.Margin, -r.cfg.Margin, r.cfg.Margin, -r.cfg.Margin)
		dc.SetColor(color.Black)
		tf := r.titleFace()
		dc.FillString(tf, vg.Point{X: dc.Min.X, Y: dc.Max.Y - tf.Extents().Ascent}, p.title)
		p.draw(draw.Crop(dc, 0, 0, 0, -r.headerHeight()))
		tracef("page %d: %s", i+1, p.title)
	}
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("report: encode PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// tiled lays plots out on a rows x cols grid, filling rows first.
func tiled(plots []*plot.Plot, rows, cols int) func(dc draw.Canvas) {
	return func(dc draw.Canvas) {
		tiles := draw.Tiles{
			Rows: rows, Cols: cols,
			PadX: 4 * vg.Millimeter, PadY: 4 * vg.Millimeter,
		}
		for i, p := range plots {
			if i >= rows*cols {
				break
			}
			p.Draw(tiles.At(dc, i%cols, i/cols))
		}
	}
}

// validatePDF parses data with pdfcpu and returns its page count.
func validatePDF(data []byte) (int, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}
