package fetch

import "github.com/jonathan/web2pdf/internal/types"

const mmPerInch = 25.4

// Chrome rejects print scales outside this range.
const (
	minScale = 0.1
	maxScale = 2.0
)

// PrintOptions are the page-level print parameters passed to the browser. Lengths are in inches.
type PrintOptions struct {
	PaperWidth      float64
	PaperHeight     float64
	Landscape       bool
	MarginTop       float64
	MarginBottom    float64
	MarginLeft      float64
	MarginRight     float64
	Scale           float64
	PrintBackground bool
}

// NewPrintOptions converts request settings into print parameters. Backgrounds are always printed.
func NewPrintOptions(s types.RenderSettings) PrintOptions {
	s = s.WithDefaults()
	width, height := paperDimensions(s.PaperSize)
	margin := s.Margins.Millimeters() / mmPerInch

	return PrintOptions{
		PaperWidth:      width,
		PaperHeight:     height,
		Landscape:       s.Orientation == types.Landscape,
		MarginTop:       margin,
		MarginBottom:    margin,
		MarginLeft:      margin,
		MarginRight:     margin,
		Scale:           clampScale(s.Scale()),
		PrintBackground: true,
	}
}

// paperDimensions returns portrait width and height in inches. Unknown sizes fall back to A4.
func paperDimensions(size types.PaperSize) (float64, float64) {
	switch size {
	case types.PaperA5:
		return 148 / mmPerInch, 210 / mmPerInch
	case types.PaperLetter:
		return 8.5, 11
	case types.PaperLegal:
		return 8.5, 14
	default:
		return 210 / mmPerInch, 297 / mmPerInch
	}
}

func clampScale(scale float64) float64 {
	switch {
	case scale < minScale:
		return minScale
	case scale > maxScale:
		return maxScale
	default:
		return scale
	}
}
