// Package detection provides per-frame object detection with persistent
// track ids.
package detection

import "image"

// Untracked is the track id of a detection the tracker did not associate.
const Untracked = -1

// Frame is a decoded video frame handed to a detector backend.
type Frame interface {
	// Index is the global frame index in the source video.
	Index() int
}

// Box is an axis-aligned bounding box in integer pixel coordinates with
// X1 <= X2 and Y1 <= Y2. Both corners are inside the box.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Contains reports whether the point lies inside the box, edges included.
func (b Box) Contains(x, y int) bool {
	return b.X1 <= x && x <= b.X2 && b.Y1 <= y && y <= b.Y2
}

// Area returns the area of the box.
func (b Box) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Rect converts the box to an image.Rectangle for drawing.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// IoU returns the intersection over union of two boxes.
func (b Box) IoU(o Box) float64 {
	inter := b.Rect().Intersect(o.Rect())
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	union := b.Area() + o.Area() - ia
	if union <= 0 {
		return 0
	}
	return float64(ia) / float64(union)
}

// Normalize orders the corners so that X1 <= X2 and Y1 <= Y2.
func (b Box) Normalize() Box {
	if b.X1 > b.X2 {
		b.X1, b.X2 = b.X2, b.X1
	}
	if b.Y1 > b.Y2 {
		b.Y1, b.Y2 = b.Y2, b.Y1
	}
	return b
}

// Detection is one object found in one frame.
type Detection struct {
	FrameIndex int     `json:"frame"`
	TrackID    int     `json:"track_id"` // Untracked when no track was assigned
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"conf"` // 0-1
	Box        Box     `json:"box"`
}

// Detector is the interface for object detection backends.
type Detector interface {
	// Detect finds objects in the frame. Track ids are left Untracked.
	Detect(frame Frame) ([]Detection, error)

	// Close releases resources
	Close() error
}
