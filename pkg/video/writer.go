package video

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-gaze/pkg/fusion"
)

// Codec is the FourCC used for annotated output.
const Codec = "mp4v"

// Writer encodes frames to a video file.
type Writer struct {
	path string
	vw   *gocv.VideoWriter
}

// NewWriter creates a video file of the given size and frame rate.
func NewWriter(path string, fps float64, width, height int) (*Writer, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("video writer %s: invalid fps %v", path, fps)
	}
	vw, err := gocv.VideoWriterFile(path, Codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("video writer %s: %w", path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("video writer %s: codec %s unavailable", path, Codec)
	}
	return &Writer{path: path, vw: vw}, nil
}

// WriteFrame appends a frame.
func (w *Writer) WriteFrame(f fusion.Frame) error {
	mf, ok := f.(MatFrame)
	if !ok {
		return fmt.Errorf("video writer: unsupported frame type %T", f)
	}
	if w.vw == nil {
		return errors.New("video writer: closed")
	}
	return w.vw.Write(mf.Mat())
}

// Path returns the output file path.
func (w *Writer) Path() string { return w.path }

// Close finalizes the file.
func (w *Writer) Close() error {
	if w.vw == nil {
		return nil
	}
	err := w.vw.Close()
	w.vw = nil
	return err
}
