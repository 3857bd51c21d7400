// Package plot draws an accumulated CVE series as a line chart.
package plot

import (
	"bytes"
	"image/color"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgpdf"

	"github.com/aquasecurity/vuln-trend/accum"
	"github.com/aquasecurity/vuln-trend/utils"
)

type Format int

const (
	PNG Format = iota
	PDF
)

// Chart is a single line plotted against X.
type Chart struct {
	Title  string
	XLabel string
	YLabel string
	X      []float64
	Y      []float64
}

// FromSeries labels the axes the way every accumulated CVE plot is labelled.
func FromSeries(s accum.Series, title string) Chart {
	y := make([]float64, len(s.Counts))
	for i, c := range s.Counts {
		y[i] = float64(c)
	}
	return Chart{
		Title:  title,
		XLabel: "Time",
		YLabel: "Accumulated CVEs",
		X:      s.Timestamps,
		Y:      y,
	}
}

func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return PNG, nil
	case ".pdf":
		return PDF, nil
	}
	return 0, xerrors.Errorf("unsupported plot format: %s", path)
}

const (
	width  = 9 * vg.Inch
	height = 5 * vg.Inch
	dpi    = 100
)

func Render(w io.Writer, f Format, c Chart) error {
	if len(c.X) == 0 || len(c.X) != len(c.Y) {
		return xerrors.Errorf("nothing to plot: %d x values, %d y values", len(c.X), len(c.Y))
	}
	p, err := c.plot()
	if err != nil {
		return err
	}

	var canvas interface {
		vg.CanvasSizer
		io.WriterTo
	}
	switch f {
	case PNG:
		canvas = vgimg.PngCanvas{Canvas: vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(dpi))}
	case PDF:
		canvas = vgpdf.New(width, height)
	default:
		return xerrors.Errorf("unknown format: %d", f)
	}
	p.Draw(draw.New(canvas))

	if _, err = canvas.WriteTo(w); err != nil {
		return xerrors.Errorf("failed to write the figure: %w", err)
	}
	return nil
}

func (c Chart) plot() (*gplot.Plot, error) {
	p := gplot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = c.XLabel
	p.Y.Label.Text = c.YLabel
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(c.X))
	for i := range c.X {
		xys[i].X, xys[i].Y = c.X[i], c.Y[i]
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return nil, xerrors.Errorf("invalid series: %w", err)
	}
	line.Color = color.RGBA{B: 180, A: 255}
	line.Width = vg.Points(1.5)
	p.Add(line)
	return p, nil
}

// Save renders c in the format implied by the extension of path.
func Save(fs utils.Fs, path string, c Chart) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err = Render(&buf, f, c); err != nil {
		return xerrors.Errorf("failed to render %s: %w", path, err)
	}
	log.Info().Msgf("Writing figure: %s", path)
	return fs.WriteFile(path, buf.Bytes())
}
