// Package gaze aligns eye-tracker gaze samples to world-camera frames.
//
// For every frame the synchronizer picks the gaze sample whose timestamp is
// closest to the frame's capture time. It is a nearest-neighbour pick, never an
// interpolation, and equal distances resolve to the earliest sample.
package gaze

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/stream"
)

// Sentinel errors. All of them match ErrNoMatch.
var (
	// ErrNoMatch is returned when a frame cannot be paired with a gaze point.
	ErrNoMatch = errors.New("gaze: no match")

	// ErrNoTimestamp is returned when the frame index is past the timestamp table.
	ErrNoTimestamp = fmt.Errorf("%w: frame has no timestamp", ErrNoMatch)

	// ErrNoGaze is returned when the gaze table is empty.
	ErrNoGaze = fmt.Errorf("%w: no gaze samples", ErrNoMatch)

	// ErrInvalidGaze is returned when the nearest sample has no usable coordinates.
	ErrInvalidGaze = fmt.Errorf("%w: nearest sample has invalid coordinates", ErrNoMatch)
)

// Match is the result of synchronizing one frame.
type Match struct {
	FrameIndex int

	// Timestamp is the frame capture time; valid when HasTimestamp is set.
	Timestamp    int64
	HasTimestamp bool

	// SampleIndex is the position of the chosen sample in the gaze table, -1 if none.
	SampleIndex int
	Sample      stream.GazeSample

	// X, Y are the gaze pixel coordinates truncated toward zero.
	X, Y int
}

// Point returns the gaze position as an image point.
func (m Match) Point() image.Point {
	return image.Pt(m.X, m.Y)
}

// Options tunes a Synchronizer.
type Options struct {
	// Camera, when set, maps gaze points into undistorted pixel space so they
	// line up with undistorted frames.
	Camera *camera.Params

	// LinearScan forces the O(N) scan even on sorted tables.
	LinearScan bool
}

// Synchronizer pairs frames with gaze samples.
type Synchronizer struct {
	gaze   *stream.GazeTable
	frames *stream.TimestampTable
	opts   Options
}

// NewSynchronizer creates a synchronizer over loaded tables.
func NewSynchronizer(g *stream.GazeTable, frames *stream.TimestampTable, opts Options) *Synchronizer {
	return &Synchronizer{gaze: g, frames: frames, opts: opts}
}

// Sync finds the gaze sample nearest in time to the given frame.
// On failure the returned Match still carries whatever was resolved (frame
// index, and the timestamp when known).
func (s *Synchronizer) Sync(frameIndex int) (Match, error) {
	m := Match{FrameIndex: frameIndex, SampleIndex: -1}

	ts, ok := s.frames.Lookup(frameIndex)
	if !ok {
		return m, fmt.Errorf("frame %d (table has %d): %w", frameIndex, s.frames.Len(), ErrNoTimestamp)
	}
	m.Timestamp, m.HasTimestamp = ts, true

	var idx int
	if s.opts.LinearScan || !s.gaze.Sorted() {
		idx, ok = NearestLinear(s.gaze, ts)
	} else {
		idx, ok = Nearest(s.gaze, ts)
	}
	if !ok {
		return m, ErrNoGaze
	}

	sample := s.gaze.At(idx)
	m.SampleIndex, m.Sample = idx, sample
	if !sample.Valid() {
		return m, fmt.Errorf("sample %d at %d ns: %w", idx, sample.Timestamp, ErrInvalidGaze)
	}

	x, y := sample.X, sample.Y
	if s.opts.Camera != nil {
		x, y = s.opts.Camera.UndistortPoint(x, y)
	}
	if !inIntRange(x) || !inIntRange(y) {
		return m, fmt.Errorf("sample %d at %d ns: %w", idx, sample.Timestamp, ErrInvalidGaze)
	}
	m.X, m.Y = int(x), int(y)

	return m, nil
}

// Nearest returns the index of the sample closest in time to t using binary
// search. The table must be sorted by timestamp. Ties resolve to the earliest
// index, exactly as NearestLinear does.
func Nearest(g *stream.GazeTable, t int64) (int, bool) {
	n := g.Len()
	if n == 0 {
		return -1, false
	}

	// First sample at or after t; everything before it is strictly earlier.
	after := sort.Search(n, func(i int) bool { return g.Timestamp(i) >= t })
	if after == 0 {
		return 0, true
	}

	before := after - 1
	bts := g.Timestamp(before)
	// Earliest sample sharing that timestamp.
	before = sort.Search(before, func(i int) bool { return g.Timestamp(i) >= bts })

	if after == n || absDiff(t, bts) <= absDiff(g.Timestamp(after), t) {
		return before, true
	}
	return after, true
}

// NearestLinear scans every sample and returns the first one with the minimum
// absolute time difference to t. It works on unsorted tables.
func NearestLinear(g *stream.GazeTable, t int64) (int, bool) {
	best := -1
	var bestDiff uint64
	for i := 0; i < g.Len(); i++ {
		d := absDiff(g.Timestamp(i), t)
		if best < 0 || d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best, best >= 0
}

// absDiff returns |a-b| without overflowing.
func absDiff(a, b int64) uint64 {
	if a >= b {
		return uint64(a) - uint64(b)
	}
	return uint64(b) - uint64(a)
}

func inIntRange(v float64) bool {
	return !math.IsNaN(v) && v > math.MinInt32 && v < math.MaxInt32
}
