package render

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidChartOption   = errors.New("invalid chart option")
	ErrUnsupportedImageType = errors.New("unsupported image type")
)

const (
	defaultWidth  = 800
	defaultHeight = 600
)

// Request describes one rendering job: a declarative chart option plus the
// desired output format and dimensions.
type Request struct {
	Type   string
	Width  int
	Height int
	Option map[string]any
}

// Output is the rasterized chart.
type Output struct {
	Buffer      []byte
	ContentType string
	Extension   string
}

type Renderer interface {
	Render(ctx context.Context, req Request) (*Output, error)
}

// ChartRenderer rasterizes chart options into SVG, PNG, JPEG or PDF.
type ChartRenderer struct{}

func NewChartRenderer() *ChartRenderer {
	return &ChartRenderer{}
}

func (r *ChartRenderer) Render(ctx context.Context, req Request) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !hasChartData(req.Option) {
		return nil, ErrInvalidChartOption
	}

	width := req.Width
	if width <= 0 {
		width = defaultWidth
	}
	height := req.Height
	if height <= 0 {
		height = defaultHeight
	}

	values := seriesValues(req.Option)

	switch normalizeType(req.Type) {
	case "svg":
		buf := renderSVG(width, height, values)
		return &Output{Buffer: buf, ContentType: "image/svg+xml", Extension: "svg"}, nil
	case "png":
		buf, err := renderRaster(width, height, values, "png")
		if err != nil {
			return nil, fmt.Errorf("render png: %w", err)
		}
		return &Output{Buffer: buf, ContentType: "image/png", Extension: "png"}, nil
	case "jpeg":
		buf, err := renderRaster(width, height, values, "jpeg")
		if err != nil {
			return nil, fmt.Errorf("render jpeg: %w", err)
		}
		return &Output{Buffer: buf, ContentType: "image/jpeg", Extension: "jpg"}, nil
	case "pdf":
		buf, err := renderPDF(width, height, values)
		if err != nil {
			return nil, fmt.Errorf("render pdf: %w", err)
		}
		return &Output{Buffer: buf, ContentType: "application/pdf", Extension: "pdf"}, nil
	default:
		return nil, ErrUnsupportedImageType
	}
}

// normalizeType maps the empty type to png and jpg to jpeg.
func normalizeType(t string) string {
	switch t {
	case "":
		return "png"
	case "jpg":
		return "jpeg"
	default:
		return t
	}
}

// hasChartData requires either a series or a dataset in the option.
func hasChartData(option map[string]any) bool {
	if option == nil {
		return false
	}
	if _, ok := option["series"]; ok {
		return true
	}
	if _, ok := option["dataset"]; ok {
		return true
	}
	return false
}

// seriesValues extracts the numeric data of the first series. Charts whose
// data lives in a dataset render as axes only; fidelity is not this
// service's contract.
func seriesValues(option map[string]any) []float64 {
	series, ok := option["series"].([]any)
	if !ok || len(series) == 0 {
		return nil
	}
	first, ok := series[0].(map[string]any)
	if !ok {
		return nil
	}
	data, ok := first["data"].([]any)
	if !ok {
		return nil
	}

	out := make([]float64, 0, len(data))
	for _, d := range data {
		switch v := d.(type) {
		case float64:
			out = append(out, v)
		case int:
			out = append(out, float64(v))
		case map[string]any:
			if n, ok := v["value"].(float64); ok {
				out = append(out, n)
			}
		}
	}
	return out
}
