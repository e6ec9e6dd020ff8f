// Package fusiontest provides in-memory collaborators for testing code built
// on the fusion pipeline without decoding video or running a model.
package fusiontest

import (
	"fmt"
	"sync"

	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
)

// Frame is a pixel-less frame.
type Frame struct {
	index  int
	closed bool
}

// NewFrame returns a frame with the given index.
func NewFrame(index int) *Frame { return &Frame{index: index} }

// Index returns the frame index.
func (f *Frame) Index() int { return f.index }

// Close marks the frame closed.
func (f *Frame) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Frame) Closed() bool { return f.closed }

// Source yields Total frames. Reads at or past FailAt (when FailAt >= 0) end
// the stream early. Use NewSource for a source that never fails.
type Source struct {
	Total  int
	FailAt int

	mu     sync.Mutex
	frames []*Frame
}

// NewSource creates a source of total frames that never fails.
func NewSource(total int) *Source {
	return &Source{Total: total, FailAt: -1}
}

// FrameCount returns Total.
func (s *Source) FrameCount() int { return s.Total }

// ReadFrame returns a new frame for index.
func (s *Source) ReadFrame(index int) (fusion.Frame, error) {
	if index >= s.Total || (s.FailAt >= 0 && index >= s.FailAt) {
		return nil, fmt.Errorf("frame %d: %w", index, fusion.ErrEndOfStream)
	}
	f := NewFrame(index)
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return f, nil
}

// Read returns the indices of every frame handed out.
func (s *Source) Read() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.index
	}
	return out
}

// AllClosed reports whether every frame handed out has been closed.
func (s *Source) AllClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		if !f.closed {
			return false
		}
	}
	return true
}

// Detector returns canned detections per frame index.
type Detector struct {
	ByFrame map[int][]detection.Detection
	Errs    map[int]error
	Panics  map[int]bool
}

// DetectAndTrack returns a copy of ByFrame[frame.Index()].
func (d *Detector) DetectAndTrack(frame detection.Frame) ([]detection.Detection, error) {
	idx := frame.Index()
	if d.Panics[idx] {
		panic(fmt.Sprintf("detector exploded on frame %d", idx))
	}
	if err := d.Errs[idx]; err != nil {
		return nil, err
	}
	src := d.ByFrame[idx]
	out := make([]detection.Detection, len(src))
	copy(out, src)
	return out, nil
}

// Sink records everything written to it.
type Sink struct {
	Detections []detection.Detection
	Events     []fusion.Event
	Closed     bool

	// EventErr, when set, is returned from WriteEvent.
	EventErr error
}

// WriteDetection records d.
func (s *Sink) WriteDetection(d detection.Detection) error {
	s.Detections = append(s.Detections, d)
	return nil
}

// WriteEvent records e.
func (s *Sink) WriteEvent(e fusion.Event) error {
	if s.EventErr != nil {
		return s.EventErr
	}
	s.Events = append(s.Events, e)
	return nil
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.Closed = true
	return nil
}
