package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

var (
	rasterBarColor  = color.RGBA{R: 0x54, G: 0x70, B: 0xc6, A: 0xff}
	rasterAxisColor = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
)

// renderRaster draws the bar chart into an RGBA canvas and encodes it with
// the stdlib png or jpeg encoder.
func renderRaster(width, height int, values []float64, format string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(img, 0, 0, width, height, color.White)

	// axes
	fill(img, chartMargin, height-chartMargin, width-chartMargin, height-chartMargin+1, rasterAxisColor)
	fill(img, chartMargin, chartMargin, chartMargin+1, height-chartMargin, rasterAxisColor)

	plotW := width - 2*chartMargin
	plotH := height - 2*chartMargin

	if len(values) > 0 && plotW > 0 && plotH > 0 {
		maxV := maxValue(values)
		slot := float64(plotW) / float64(len(values))

		for i, v := range values {
			barH := 0
			if maxV > 0 && v > 0 {
				barH = int(v / maxV * float64(plotH))
			}
			x0 := chartMargin + int(float64(i)*slot+slot*0.2)
			x1 := chartMargin + int(float64(i)*slot+slot*0.8)
			y1 := height - chartMargin
			y0 := y1 - barH
			fill(img, x0, y0, x1, y1, rasterBarColor)
		}
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown raster format %q", format)
	}
	return buf.Bytes(), nil
}

func fill(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	b := img.Bounds()
	for y := max(y0, b.Min.Y); y < min(y1, b.Max.Y); y++ {
		for x := max(x0, b.Min.X); x < min(x1, b.Max.X); x++ {
			img.Set(x, y, c)
		}
	}
}
