package record

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
)

// ClassStats summarizes one object class over a run.
type ClassStats struct {
	Class          string  `json:"class"`
	Detections     int     `json:"detections"`
	Tracks         int     `json:"tracks"`
	MeanConfidence float64 `json:"mean_confidence"`
	StdConfidence  float64 `json:"std_confidence"`
	GazeHits       int     `json:"gaze_hits"`
}

// Stats is a sink that aggregates per-class statistics for the manifest.
type Stats struct {
	mu      sync.Mutex
	conf    map[string][]float64
	tracks  map[string]map[int]struct{}
	hits    map[string]int
	events  int
	hitsAll int
}

// NewStats creates an empty aggregator.
func NewStats() *Stats {
	return &Stats{
		conf:   make(map[string][]float64),
		tracks: make(map[string]map[int]struct{}),
		hits:   make(map[string]int),
	}
}

// WriteDetection records a detection.
func (s *Stats) WriteDetection(d detection.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conf[d.ClassName] = append(s.conf[d.ClassName], d.Confidence)
	if d.TrackID != detection.Untracked {
		ids := s.tracks[d.ClassName]
		if ids == nil {
			ids = make(map[int]struct{})
			s.tracks[d.ClassName] = ids
		}
		ids[d.TrackID] = struct{}{}
	}
	return nil
}

// WriteEvent records a fusion event.
func (s *Stats) WriteEvent(e fusion.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events++
	if e.Hit() {
		s.hitsAll++
		s.hits[e.ClassName]++
	}
	return nil
}

// Close is a no-op.
func (s *Stats) Close() error { return nil }

// HitRate returns the share of events whose gaze fell on an object.
func (s *Stats) HitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == 0 {
		return 0
	}
	return float64(s.hitsAll) / float64(s.events)
}

// Classes returns per-class statistics sorted by class name.
func (s *Stats) Classes() []ClassStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make(map[string]struct{}, len(s.conf))
	for c := range s.conf {
		names[c] = struct{}{}
	}
	for c := range s.hits {
		names[c] = struct{}{}
	}

	out := make([]ClassStats, 0, len(names))
	for c := range names {
		cs := ClassStats{
			Class:      c,
			Detections: len(s.conf[c]),
			Tracks:     len(s.tracks[c]),
			GazeHits:   s.hits[c],
		}
		switch len(s.conf[c]) {
		case 0:
		case 1:
			cs.MeanConfidence = s.conf[c][0]
		default:
			cs.MeanConfidence, cs.StdConfidence = stat.MeanStdDev(s.conf[c], nil)
		}
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })
	return out
}
