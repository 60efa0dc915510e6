// Package chart records emitter series in memory and renders them as PNG
// line plots and an interactive HTML page on shutdown.
package chart

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/vitalis-app/selector/internal/errors"
)

// Point is one sample on a series.
type Point struct {
	X, Y float64
}

// Recorder implements emitter.ChartSink. Each series only accepts strictly
// increasing X; points that would go back in time are dropped.
type Recorder struct {
	logger *zap.Logger

	mu       sync.Mutex
	series   map[string][]Point
	order    []string
	rejected int
}

// NewRecorder creates an empty recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		logger: logger.Named("chart"),
		series: make(map[string][]Point),
	}
}

// Push appends a point to series.
func (r *Recorder) Push(series string, x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pts, ok := r.series[series]
	if !ok {
		r.order = append(r.order, series)
	}
	if n := len(pts); n > 0 && x <= pts[n-1].X {
		r.rejected++
		return
	}
	r.series[series] = append(pts, Point{X: x, Y: y})
}

// Points returns a copy of the series.
func (r *Recorder) Points(series string) []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Point(nil), r.series[series]...)
}

// Series returns the series names in first-push order.
func (r *Recorder) Series() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Rejected returns how many out-of-order points were dropped.
func (r *Recorder) Rejected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejected
}

func (r *Recorder) snapshot() ([]string, map[string][]Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]Point, len(r.series))
	for name, pts := range r.series {
		out[name] = append([]Point(nil), pts...)
	}
	return append([]string(nil), r.order...), out
}

// RenderPNG writes one <series>.png per non-empty series into dir and
// returns the written paths.
func (r *Recorder) RenderPNG(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create chart directory")
	}

	names, data := r.snapshot()
	palette := generateColors(len(names))
	var written []string
	for i, name := range names {
		pts := data[name]
		if len(pts) == 0 {
			continue
		}

		p := plot.New()
		p.Title.Text = name
		p.X.Label.Text = "Tick"
		p.Y.Label.Text = name

		xys := make(plotter.XYs, len(pts))
		for j, pt := range pts {
			xys[j] = plotter.XY{X: pt.X, Y: pt.Y}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return written, errors.Wrapf(err, "build %s line", name)
		}
		line.Color = palette[i]
		line.Width = vg.Points(1)
		p.Add(line)

		path := filepath.Join(dir, fmt.Sprintf("%s.png", name))
		if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return written, errors.Wrapf(err, "save %s", path)
		}
		written = append(written, path)
	}

	r.logger.Info("Rendered PNG charts", zap.Int("count", len(written)), zap.String("dir", dir))
	return written, nil
}

// RenderHTML writes a single page holding one line chart per series.
func (r *Recorder) RenderHTML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create chart directory")
	}

	names, data := r.snapshot()

	page := components.NewPage()
	for _, name := range names {
		pts := data[name]
		if len(pts) == 0 {
			continue
		}
		xs := make([]string, len(pts))
		ys := make([]opts.LineData, len(pts))
		for i, pt := range pts {
			xs[i] = fmt.Sprintf("%g", pt.X)
			ys[i] = opts.LineData{Value: pt.Y}
		}

		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
			charts.WithTitleOpts(opts.Title{Title: name}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		)
		line.SetXAxis(xs).AddSeries(name, ys)
		page.AddCharts(line)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return errors.Wrap(err, "render chart page")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}

	r.logger.Info("Rendered HTML charts", zap.String("path", path))
	return nil
}

// generateColors creates a palette of distinct colors for series lines.
func generateColors(n int) []color.Color {
	base := []color.RGBA{
		{R: 0x1f, G: 0x77, B: 0xb4, A: 255},
		{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
		{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
		{R: 0xd6, G: 0x27, B: 0x28, A: 255},
		{R: 0x94, G: 0x67, B: 0xbd, A: 255},
		{R: 0x8c, G: 0x56, B: 0x4b, A: 255},
	}
	colors := make([]color.Color, n)
	for i := range colors {
		colors[i] = base[i%len(base)]
	}
	return colors
}
