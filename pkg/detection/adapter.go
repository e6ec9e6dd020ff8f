package detection

import "fmt"

// Adapter runs a Detector and a Tracker as one per-frame step.
type Adapter struct {
	detector Detector
	tracker  *Tracker
}

// NewAdapter creates an adapter. A nil tracker leaves every detection Untracked.
func NewAdapter(d Detector, t *Tracker) *Adapter {
	return &Adapter{detector: d, tracker: t}
}

// DetectAndTrack detects objects in the frame and assigns track ids. The
// result keeps detector order and is never nil on success.
func (a *Adapter) DetectAndTrack(frame Frame) ([]Detection, error) {
	dets, err := a.detector.Detect(frame)
	if err != nil {
		return nil, fmt.Errorf("detect frame %d: %w", frame.Index(), err)
	}

	idx := frame.Index()
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		d.FrameIndex = idx
		d.Box = d.Box.Normalize()
		if d.ClassName == "" {
			d.ClassName = ClassName(d.ClassID)
		}
		d.TrackID = Untracked
		out = append(out, d)
	}

	if a.tracker != nil {
		out = a.tracker.Update(out)
	}
	return out, nil
}

// Close releases the detector.
func (a *Adapter) Close() error {
	return a.detector.Close()
}
