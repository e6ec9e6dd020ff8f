package annotate

import (
	"fmt"
	"image/color"

	"github.com/teslashibe/go-gaze/pkg/detection"
)

// classColors are the per-class box colours of the review overlay.
var classColors = map[string]color.RGBA{
	"car":           {R: 255, A: 255},
	"truck":         {R: 255, G: 192, B: 203, A: 255},
	"bus":           {R: 255, B: 255, A: 255},
	"person":        {R: 238, G: 130, B: 238, A: 255},
	"bicycle":       {G: 255, B: 255, A: 255},
	"motorcycle":    {B: 255, A: 255},
	"traffic light": {G: 255, A: 255},
	"stop sign":     {G: 128, B: 255, A: 255},
}

// defaultColor is used for classes without an entry.
var defaultColor = color.RGBA{R: 255, A: 255}

// ClassColor returns the box colour for a class.
func ClassColor(class string) color.RGBA {
	if c, ok := classColors[class]; ok {
		return c
	}
	return defaultColor
}

// Label returns the text drawn above a box, e.g. "car 0.87".
func Label(d detection.Detection) string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}
