// Package video decodes world-camera recordings and encodes annotated output
// with OpenCV.
package video

import "gocv.io/x/gocv"

// Frame is one decoded BGR frame. The frame owns its Mat; Close releases it.
type Frame struct {
	index int
	mat   gocv.Mat
}

// NewFrame wraps a Mat as the frame at the given index. The frame takes
// ownership of m.
func NewFrame(index int, m gocv.Mat) *Frame {
	return &Frame{index: index, mat: m}
}

// Index returns the global frame index.
func (f *Frame) Index() int { return f.index }

// Mat returns the pixel data. Drawing on it modifies the frame.
func (f *Frame) Mat() gocv.Mat { return f.mat }

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.mat.Cols() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.mat.Rows() }

// Close releases the Mat.
func (f *Frame) Close() error {
	return f.mat.Close()
}

// MatFrame is implemented by frames backed by an OpenCV Mat.
type MatFrame interface {
	Index() int
	Mat() gocv.Mat
}
