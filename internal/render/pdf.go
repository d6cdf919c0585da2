package render

import (
	"bytes"

	"github.com/jung-kurt/gofpdf"
)

// renderPDF draws the bar chart onto a single PDF page sized to the
// requested pixel dimensions at 72 dpi.
func renderPDF(width, height int, values []float64) ([]byte, error) {
	w := float64(width)
	h := float64(height)

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: w, Ht: h},
	})
	pdf.AddPage()

	// axes
	pdf.SetDrawColor(0x33, 0x33, 0x33)
	pdf.Line(chartMargin, h-chartMargin, w-chartMargin, h-chartMargin)
	pdf.Line(chartMargin, chartMargin, chartMargin, h-chartMargin)

	plotW := w - 2*chartMargin
	plotH := h - 2*chartMargin

	if len(values) > 0 && plotW > 0 && plotH > 0 {
		maxV := maxValue(values)
		slot := plotW / float64(len(values))

		pdf.SetFillColor(0x54, 0x70, 0xc6)
		for i, v := range values {
			barH := 0.0
			if maxV > 0 && v > 0 {
				barH = v / maxV * plotH
			}
			x := chartMargin + float64(i)*slot + slot*0.2
			y := h - chartMargin - barH
			pdf.Rect(x, y, slot*0.6, barH, "F")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
