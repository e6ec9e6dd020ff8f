package detection

import "testing"

func ids(dets []Detection) []int {
	out := make([]int, len(dets))
	for i, d := range dets {
		out[i] = d.TrackID
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTracker_PersistentIDs(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	frames := [][]Detection{
		{{ClassID: 2, Box: Box{0, 0, 100, 100}}, {ClassID: 0, Box: Box{200, 200, 240, 300}}},
		{{ClassID: 0, Box: Box{205, 202, 245, 302}}, {ClassID: 2, Box: Box{5, 0, 105, 100}}},
		{{ClassID: 2, Box: Box{10, 2, 110, 102}}},
	}
	want := [][]int{{1, 2}, {2, 1}, {1}}

	for i, dets := range frames {
		got := ids(tr.Update(dets))
		if !equalInts(got, want[i]) {
			t.Errorf("frame %d: ids = %v, want %v", i, got, want[i])
		}
	}
}

func TestTracker_ClassMismatchStartsNewTrack(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	tr.Update([]Detection{{ClassID: 2, Box: Box{0, 0, 100, 100}}})
	got := tr.Update([]Detection{{ClassID: 7, Box: Box{0, 0, 100, 100}}})

	if got[0].TrackID != 2 {
		t.Errorf("TrackID = %d, want 2", got[0].TrackID)
	}
}

func TestTracker_LowOverlapStartsNewTrack(t *testing.T) {
	tr := NewTracker(TrackerConfig{IoUThreshold: 0.5, MaxMissed: 5})

	tr.Update([]Detection{{ClassID: 2, Box: Box{0, 0, 100, 100}}})
	got := tr.Update([]Detection{{ClassID: 2, Box: Box{60, 0, 160, 100}}})

	if got[0].TrackID != 2 {
		t.Errorf("TrackID = %d, want 2 (IoU below threshold)", got[0].TrackID)
	}
}

func TestTracker_ForgetsAfterMaxMissed(t *testing.T) {
	tr := NewTracker(TrackerConfig{IoUThreshold: 0.3, MaxMissed: 2})
	car := []Detection{{ClassID: 2, Box: Box{0, 0, 100, 100}}}

	tr.Update(car)
	tr.Update(nil)
	tr.Update(nil)
	if tr.Len() != 1 {
		t.Fatalf("track dropped too early: Len = %d", tr.Len())
	}
	if got := tr.Update(car); got[0].TrackID != 1 {
		t.Errorf("TrackID = %d, want 1 after two misses", got[0].TrackID)
	}

	tr.Update(nil)
	tr.Update(nil)
	tr.Update(nil)
	if tr.Len() != 0 {
		t.Fatalf("stale track kept: Len = %d", tr.Len())
	}
	if got := tr.Update(car); got[0].TrackID != 2 {
		t.Errorf("TrackID = %d, want 2 after track expired", got[0].TrackID)
	}
}

func TestTracker_GreedyPrefersBestOverlap(t *testing.T) {
	tr := NewTracker(TrackerConfig{IoUThreshold: 0.1, MaxMissed: 5})
	tr.Update([]Detection{
		{ClassID: 2, Box: Box{0, 0, 100, 100}},
		{ClassID: 2, Box: Box{50, 0, 150, 100}},
	})

	// The second detection overlaps track 1 better than the first does.
	got := ids(tr.Update([]Detection{
		{ClassID: 2, Box: Box{40, 0, 140, 100}},
		{ClassID: 2, Box: Box{2, 0, 102, 100}},
	}))
	if !equalInts(got, []int{2, 1}) {
		t.Errorf("ids = %v, want [2 1]", got)
	}
}

func TestTracker_DoesNotMutateInput(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	in := []Detection{{ClassID: 1, TrackID: Untracked, Box: Box{0, 0, 10, 10}}}

	tr.Update(in)
	if in[0].TrackID != Untracked {
		t.Error("Update must not modify the caller's slice")
	}
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]Detection{{ClassID: 1, Box: Box{0, 0, 10, 10}}})
	tr.Reset()

	if tr.Len() != 0 {
		t.Errorf("Len = %d after Reset", tr.Len())
	}
	if got := tr.Update([]Detection{{ClassID: 1, Box: Box{50, 50, 60, 60}}}); got[0].TrackID != 1 {
		t.Errorf("TrackID = %d, want 1 after Reset", got[0].TrackID)
	}
}
