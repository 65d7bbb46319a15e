package render

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// backgroundGrey is the color of the raw accident scatter behind clusters.
var backgroundGrey = func() color.Color {
	r, g, b := hslToRGB(0, 0, 0.62)
	return color.NRGBA{R: r, G: g, B: b, A: 160}
}()

// ParseHexColor parses #rrggbb or #rrggbbaa.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// hexString formats c as #rrggbb for the HTML view.
func hexString(c color.Color) string {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return fmt.Sprintf("#%02x%02x%02x", n.R, n.G, n.B)
}

// countColorMap returns the continuous palette used for cluster sizes.
// A single distinct count still yields a usable range.
func countColorMap(lo, hi int) palette.ColorMap {
	cm := moreland.SmoothBlueRed()
	max := float64(hi)
	if hi <= lo {
		max = float64(lo) + 1
	}
	cm.SetMax(max)
	cm.SetMin(float64(lo))
	return cm
}

// colorAt looks v up in cm, clamping values outside its range.
func colorAt(cm palette.ColorMap, v float64) color.Color {
	if v < cm.Min() {
		v = cm.Min()
	}
	if v > cm.Max() {
		v = cm.Max()
	}
	c, err := cm.At(v)
	if err != nil {
		return color.Black
	}
	return c
}

// generateColors creates a palette of distinct colors for layers that were
// not given one.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
