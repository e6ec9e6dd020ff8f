package fusion

import "github.com/teslashibe/go-gaze/pkg/detection"

// Intersection is the detection a gaze point fell on.
type Intersection struct {
	TrackID   int
	ClassName string
	Index     int // position in the detection list, -1 for none
}

// None is the no-intersection sentinel.
var None = Intersection{TrackID: NoTrack, ClassName: NoClass, Index: -1}

// Resolve returns the first detection, in detector order, whose box contains
// (x, y) with inclusive edges. With ok false there is no gaze point and the
// result is None. Overlapping boxes are not ranked: the earliest wins.
func Resolve(x, y int, ok bool, dets []detection.Detection) Intersection {
	if !ok {
		return None
	}
	for i, d := range dets {
		if d.Box.Contains(x, y) {
			return Intersection{TrackID: d.TrackID, ClassName: d.ClassName, Index: i}
		}
	}
	return None
}
