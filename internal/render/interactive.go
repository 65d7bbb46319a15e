package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/browser"

	"github.com/alxndrch/accimap/internal/fsutil"
	"github.com/alxndrch/accimap/internal/monitoring"
)

// Opener displays a rendered page.
type Opener interface {
	Open(path string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) error

// Open calls f(path).
func (f OpenerFunc) Open(path string) error { return f(path) }

// BrowserOpener opens pages with the desktop's default browser.
type BrowserOpener struct {
	// Stdout and Stderr receive the launcher's output. Nil discards it.
	Stdout, Stderr io.Writer
}

// Open starts the browser without waiting for it.
func (o BrowserOpener) Open(path string) error {
	browser.Stdout, browser.Stderr = orDiscard(o.Stdout), orDiscard(o.Stderr)
	if err := browser.OpenFile(path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// HTMLPath derives the interactive page path from a figure path.
func HTMLPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".html"
}

// Show writes the figure as an HTML page and opens it. The page goes next
// to path, or to a temporary file when path is empty. It returns the page
// path. See WriteHTML for what the page holds.
func Show(fs fsutil.FileSystem, fig *Figure, path string, opener Opener) (page string, err error) {
	var w io.WriteCloser
	if path == "" {
		w, page, err = fs.CreateTemp("", "accimap-*.html")
	} else {
		page = HTMLPath(path)
		if dir := filepath.Dir(page); dir != "." && dir != "" {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("create output directory: %w", err)
			}
		}
		w, err = fs.Create(page)
	}
	if err != nil {
		return "", fmt.Errorf("create interactive page: %w", err)
	}

	werr := fig.WriteHTML(w)
	if cerr := w.Close(); werr == nil && cerr != nil {
		werr = fmt.Errorf("close %s: %w", page, cerr)
	}
	if werr != nil {
		return "", werr
	}

	monitoring.Logf("opening %s", page)
	if err := opener.Open(page); err != nil {
		return page, err
	}
	return page, nil
}

// WriteHTML renders every view as an echarts scatter on one page. The
// scatters carry no basemap, so the page ends with the composed figure as
// an embedded PNG when the figure has panels to draw.
func (f *Figure) WriteHTML(w io.Writer) error {
	page := components.NewPage()
	for _, v := range f.Views {
		page.AddCharts(f.viewChart(v))
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render interactive page: %w", err)
	}

	out := buf.Bytes()
	if len(f.Panels) > 0 && f.Width > 0 && f.Height > 0 {
		img, err := f.embeddedPNG()
		if err != nil {
			return err
		}
		var spliced bytes.Buffer
		if i := bytes.LastIndex(out, []byte("</body>")); i >= 0 {
			spliced.Write(out[:i])
			spliced.Write(img)
			spliced.Write(out[i:])
		} else {
			spliced.Write(out)
			spliced.Write(img)
		}
		out = spliced.Bytes()
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write interactive page: %w", err)
	}
	return nil
}

// embeddedPNG returns an <img> element holding the figure as a data URI.
func (f *Figure) embeddedPNG() ([]byte, error) {
	var png bytes.Buffer
	if err := f.WritePNG(&png, DefaultDPI); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString(`<div class="container"><img style="max-width:100%" alt="`)
	b.WriteString(html.EscapeString(f.Title))
	b.WriteString(`" src="data:image/png;base64,`)
	b.WriteString(base64.StdEncoding.EncodeToString(png.Bytes()))
	b.WriteString("\"></div>\n")
	return b.Bytes(), nil
}

func (f *Figure) viewChart(v View) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: f.Title, Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: v.Title, Subtitle: f.Title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Min: v.Extent.Min[0], Max: v.Extent.Max[0], Show: opts.Bool(false)}),
		charts.WithYAxisOpts(opts.YAxis{Min: v.Extent.Min[1], Max: v.Extent.Max[1], Show: opts.Bool(false)}),
	)

	cm := countColorMap(int(v.ValueMin), int(v.ValueMax))
	fallback := generateColors(len(v.Layers))
	for i, l := range v.Layers {
		if len(l.Values) > 0 {
			// One series per valued point so each gets its own size and
			// palette color.
			for j, pt := range l.Points {
				name := l.Name
				if j < len(l.Labels) {
					name = l.Labels[j]
				}
				val := l.Values[j]
				size := l.Size
				if v.ValueMax > v.ValueMin {
					size = l.Size * (0.35 + 0.65*(val-v.ValueMin)/(v.ValueMax-v.ValueMin))
				}
				data := []opts.ScatterData{{Name: name, Value: []interface{}{pt[0], pt[1], val}}}
				scatter.AddSeries(name, data,
					charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: int(size)}),
					charts.WithItemStyleOpts(opts.ItemStyle{Color: hexString(colorAt(cm, val))}))
			}
			continue
		}

		c := l.Color
		if c == nil {
			c = fallback[i]
		}
		data := make([]opts.ScatterData, len(l.Points))
		for j, pt := range l.Points {
			data[j] = opts.ScatterData{Value: []interface{}{pt[0], pt[1]}}
		}
		scatter.AddSeries(l.Name, data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: int(l.Size)}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexString(c)}))
	}
	return scatter
}
