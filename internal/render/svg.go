package render

import (
	"bytes"
	"fmt"
)

const (
	chartMargin = 40
	barColor    = "#5470c6"
	axisColor   = "#333333"
)

// renderSVG draws a bar chart as an SVG document. SVG output is text, so it
// needs no raster encoder.
func renderSVG(width, height int, values []float64) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, width, height, width, height)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#ffffff"/>`, width, height)

	plotW := width - 2*chartMargin
	plotH := height - 2*chartMargin

	// axes
	fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s"/>`,
		chartMargin, height-chartMargin, width-chartMargin, height-chartMargin, axisColor)
	fmt.Fprintf(&b, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s"/>`,
		chartMargin, chartMargin, chartMargin, height-chartMargin, axisColor)

	if len(values) > 0 && plotW > 0 && plotH > 0 {
		maxV := maxValue(values)
		slot := float64(plotW) / float64(len(values))
		barW := slot * 0.6

		for i, v := range values {
			barH := 0.0
			if maxV > 0 && v > 0 {
				barH = v / maxV * float64(plotH)
			}
			x := float64(chartMargin) + float64(i)*slot + slot*0.2
			y := float64(height-chartMargin) - barH
			fmt.Fprintf(&b, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s"/>`,
				x, y, barW, barH, barColor)
		}
	}

	b.WriteString(`</svg>`)
	return b.Bytes()
}

func maxValue(values []float64) float64 {
	max := 0.0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}
