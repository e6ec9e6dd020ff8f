// Package fusion drives the per-frame loop that joins video frames, object
// detections and gaze samples into fusion events.
package fusion

import (
	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// NoTrack and NoClass mark a fusion event with no looked-at object.
const (
	NoTrack = -1
	NoClass = "none"
)

// Frame is a decoded frame owned by the pipeline until Close.
type Frame interface {
	detection.Frame
	Close() error
}

// FrameSource yields decoded frames by global index.
type FrameSource interface {
	// FrameCount is the number of frames the source reports.
	FrameCount() int

	// ReadFrame decodes frame index. It returns an error matching
	// ErrEndOfStream when no more frames can be decoded.
	ReadFrame(index int) (Frame, error)
}

// Detector detects and tracks objects in one frame.
type Detector interface {
	DetectAndTrack(frame detection.Frame) ([]detection.Detection, error)
}

// Synchronizer pairs a frame index with a gaze point.
type Synchronizer interface {
	Sync(frameIndex int) (gaze.Match, error)
}

// Annotator draws the frame's detections and gaze point onto the frame.
// g is nil when the frame has no synchronized gaze point.
type Annotator interface {
	Annotate(frame Frame, dets []detection.Detection, g *gaze.Match) error
}

// FrameWriter consumes processed frames, in order.
type FrameWriter interface {
	WriteFrame(frame Frame) error
	Close() error
}

// Sink receives the two output streams.
type Sink interface {
	WriteDetection(d detection.Detection) error
	WriteEvent(e Event) error
	Close() error
}

// Event is the fusion result for one processed frame.
type Event struct {
	FrameIndex int `json:"frame_idx"`

	Timestamp    int64 `json:"timestamp_ns"`
	HasTimestamp bool  `json:"has_timestamp"`

	GazeX   int  `json:"gaze_x_px"`
	GazeY   int  `json:"gaze_y_px"`
	HasGaze bool `json:"has_gaze"`

	TrackID   int    `json:"object_id"`
	ClassName string `json:"object_class"`
}

// Hit reports whether the gaze fell on a detection. An untracked detection
// is a hit with TrackID NoTrack.
func (e Event) Hit() bool {
	return e.ClassName != NoClass
}

// FrameResult is everything the pipeline produced for one frame.
type FrameResult struct {
	Frame      Frame
	Detections []detection.Detection
	Event      *Event // nil when the frame produced no event
}

// Observer is notified after each frame is emitted. The frame is closed once
// ObserveFrame returns, so implementations must copy what they keep.
type Observer interface {
	ObserveFrame(r FrameResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(FrameResult)

// ObserveFrame calls f(r).
func (f ObserverFunc) ObserveFrame(r FrameResult) { f(r) }
