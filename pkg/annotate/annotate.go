// Package annotate draws detections and the gaze point onto frames for
// visual review.
package annotate

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/video"
)

// Overlay style.
const (
	BoxThickness   = 2
	LabelFont      = gocv.FontHersheySimplex
	LabelScale     = 0.6
	LabelThickness = 2
	LabelPadding   = 5
	GazeRadius     = 10
)

var (
	gazeFill = color.RGBA{R: 255, A: 255}
	gazeRing = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	textFg   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// ErrUnsupportedFrame is returned for frames without pixel data.
var ErrUnsupportedFrame = errors.New("annotate: frame has no pixel data")

// Renderer draws boxes, labels and the gaze marker in place.
type Renderer struct{}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Annotate draws every detection, then the gaze marker when g is not nil.
func (r *Renderer) Annotate(frame fusion.Frame, dets []detection.Detection, g *gaze.Match) error {
	mf, ok := frame.(video.MatFrame)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedFrame, frame)
	}
	img := mf.Mat()
	if img.Empty() {
		return ErrUnsupportedFrame
	}

	for _, d := range dets {
		drawDetection(&img, d)
	}
	if g != nil {
		DrawGaze(&img, g.Point())
	}
	return nil
}

func drawDetection(img *gocv.Mat, d detection.Detection) {
	c := ClassColor(d.ClassName)
	gocv.Rectangle(img, d.Box.Rect(), c, BoxThickness)

	text := Label(d)
	size, baseline := gocv.GetTextSizeWithBaseline(text, LabelFont, LabelScale, LabelThickness)
	bg := image.Rect(d.Box.X1, d.Box.Y1-size.Y-baseline-LabelPadding, d.Box.X1+size.X, d.Box.Y1)
	gocv.Rectangle(img, bg, c, -1)
	gocv.PutText(img, text, image.Pt(d.Box.X1, d.Box.Y1-LabelPadding), LabelFont, LabelScale, textFg, LabelThickness)
}

// DrawGaze draws the gaze marker: a filled red disc with a thin white ring.
func DrawGaze(img *gocv.Mat, p image.Point) {
	gocv.Circle(img, p, GazeRadius, gazeFill, -1)
	gocv.Circle(img, p, GazeRadius+1, gazeRing, 1)
}

// EncodeJPEG encodes the frame's pixels for preview streaming.
func EncodeJPEG(frame fusion.Frame, quality int) ([]byte, error) {
	mf, ok := frame.(video.MatFrame)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedFrame, frame)
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mf.Mat(), []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("annotate: encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
