package video

import (
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/fusion"
)

// Options configures a Source.
type Options struct {
	// Camera enables lens undistortion of every decoded frame. Nil disables it.
	Camera *camera.Params

	Logger *slog.Logger
}

// Source decodes frames from a video file by global index.
type Source struct {
	mu   sync.Mutex
	path string
	vc   *gocv.VideoCapture

	width, height int
	fps           float64
	frameCount    int

	// next is the index the decoder will return without seeking.
	next int

	undistort bool
	k, d      gocv.Mat

	logger *slog.Logger
}

// Open opens a video file for random-access decoding.
func Open(path string, opts Options) (*Source, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video %s: not readable", path)
	}

	s := &Source{
		path:       path,
		vc:         vc,
		width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
		height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
		fps:        vc.Get(gocv.VideoCaptureFPS),
		frameCount: int(vc.Get(gocv.VideoCaptureFrameCount)),
		logger:     opts.Logger,
	}
	if s.logger == nil {
		s.logger = log.L()
	}

	if opts.Camera != nil && opts.Camera.HasDistortion() {
		s.k, s.d = cameraMats(opts.Camera)
		s.undistort = true
	}

	s.logger.Info("video opened",
		"path", path,
		"width", s.width,
		"height", s.height,
		"fps", s.fps,
		"frames", s.frameCount,
		"undistort", s.undistort)

	return s, nil
}

// cameraMats converts calibration to the Mat layout cv::undistort expects.
func cameraMats(p *camera.Params) (k, d gocv.Mat) {
	k = gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			k.SetDoubleAt(r, c, p.CameraMatrix[r][c])
		}
	}
	d = gocv.NewMatWithSize(1, len(p.DistCoeffs), gocv.MatTypeCV64F)
	for i, v := range p.DistCoeffs {
		d.SetDoubleAt(0, i, v)
	}
	return k, d
}

// Width returns the frame width in pixels.
func (s *Source) Width() int { return s.width }

// Height returns the frame height in pixels.
func (s *Source) Height() int { return s.height }

// FPS returns the container frame rate.
func (s *Source) FPS() float64 { return s.fps }

// FrameCount returns the number of frames the container reports.
func (s *Source) FrameCount() int { return s.frameCount }

// ReadFrame decodes the frame at index. Sequential reads avoid seeking.
// It returns fusion.ErrEndOfStream when the index is out of range or the
// decoder yields nothing.
func (s *Source) ReadFrame(index int) (fusion.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.frameCount {
		return nil, fmt.Errorf("frame %d of %d: %w", index, s.frameCount, fusion.ErrEndOfStream)
	}

	if index != s.next {
		s.vc.Set(gocv.VideoCapturePosFrames, float64(index))
	}

	m := gocv.NewMat()
	if ok := s.vc.Read(&m); !ok || m.Empty() {
		m.Close()
		s.next = -1
		return nil, fmt.Errorf("decode frame %d: %w", index, fusion.ErrEndOfStream)
	}
	s.next = index + 1

	if s.undistort {
		dst := gocv.NewMat()
		gocv.Undistort(m, &dst, s.k, s.d, s.k)
		m.Close()
		m = dst
	}

	return NewFrame(index, m), nil
}

// Close releases the decoder.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.undistort {
		s.k.Close()
		s.d.Close()
		s.undistort = false
	}
	if s.vc == nil {
		return nil
	}
	err := s.vc.Close()
	s.vc = nil
	return err
}
