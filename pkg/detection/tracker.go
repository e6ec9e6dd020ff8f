package detection

import "sort"

// TrackerConfig holds tracker configuration
type TrackerConfig struct {
	IoUThreshold float64 // Minimum overlap to continue a track
	MaxMissed    int     // Frames a track may go unseen before it is forgotten
}

// DefaultTrackerConfig returns the defaults used by the CLI.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		IoUThreshold: 0.3,
		MaxMissed:    30,
	}
}

type track struct {
	id      int
	classID int
	box     Box
	missed  int
}

// Tracker assigns persistent ids to detections across frames by greedy IoU
// association within each class. It is not safe for concurrent use; the
// pipeline feeds it one frame at a time.
type Tracker struct {
	cfg    TrackerConfig
	tracks []*track
	nextID int
}

// NewTracker creates a tracker. Ids start at 1.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg, nextID: 1}
}

type pair struct {
	det, trk int
	iou      float64
}

// Update associates dets with live tracks and returns a copy of dets with
// TrackID set. Order is preserved.
func (t *Tracker) Update(dets []Detection) []Detection {
	out := make([]Detection, len(dets))
	copy(out, dets)

	var pairs []pair
	for i, d := range out {
		for j, tr := range t.tracks {
			if tr.classID != d.ClassID {
				continue
			}
			if iou := d.Box.IoU(tr.box); iou >= t.cfg.IoUThreshold && iou > 0 {
				pairs = append(pairs, pair{det: i, trk: j, iou: iou})
			}
		}
	}
	// Best overlap first; index order breaks ties so runs are reproducible.
	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].iou != pairs[b].iou {
			return pairs[a].iou > pairs[b].iou
		}
		if pairs[a].det != pairs[b].det {
			return pairs[a].det < pairs[b].det
		}
		return pairs[a].trk < pairs[b].trk
	})

	detUsed := make([]bool, len(out))
	trkUsed := make([]bool, len(t.tracks))
	for _, p := range pairs {
		if detUsed[p.det] || trkUsed[p.trk] {
			continue
		}
		detUsed[p.det], trkUsed[p.trk] = true, true
		tr := t.tracks[p.trk]
		tr.box, tr.missed = out[p.det].Box, 0
		out[p.det].TrackID = tr.id
	}

	// Age unmatched tracks and forget stale ones.
	live := t.tracks[:0]
	for j, tr := range t.tracks {
		if !trkUsed[j] {
			tr.missed++
			if tr.missed > t.cfg.MaxMissed {
				continue
			}
		}
		live = append(live, tr)
	}
	t.tracks = live

	for i := range out {
		if detUsed[i] {
			continue
		}
		tr := &track{id: t.nextID, classID: out[i].ClassID, box: out[i].Box}
		t.nextID++
		t.tracks = append(t.tracks, tr)
		out[i].TrackID = tr.id
	}

	return out
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.tracks)
}

// Reset forgets all tracks and restarts ids at 1.
func (t *Tracker) Reset() {
	t.tracks = nil
	t.nextID = 1
}
