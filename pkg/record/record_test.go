package record

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
	"github.com/teslashibe/go-gaze/pkg/fusion/fusiontest"
)

type failingSink struct {
	fusiontest.Sink
	err error
}

func (f *failingSink) WriteEvent(fusion.Event) error { return f.err }

func TestMulti(t *testing.T) {
	a, b := &fusiontest.Sink{}, &fusiontest.Sink{}
	m := Multi(a, nil, b)

	require.NoError(t, m.WriteDetection(detection.Detection{FrameIndex: 1}))
	require.NoError(t, m.WriteEvent(fusion.Event{FrameIndex: 1}))
	require.NoError(t, m.Close())

	for _, s := range []*fusiontest.Sink{a, b} {
		assert.Len(t, s.Detections, 1)
		assert.Len(t, s.Events, 1)
		assert.True(t, s.Closed)
	}
}

func TestMulti_StopsOnErrorButClosesAll(t *testing.T) {
	boom := errors.New("boom")
	bad := &failingSink{err: boom}
	after := &fusiontest.Sink{}
	m := Multi(bad, after)

	assert.ErrorIs(t, m.WriteEvent(fusion.Event{}), boom)
	assert.Empty(t, after.Events)

	require.NoError(t, m.Close())
	assert.True(t, bad.Closed)
	assert.True(t, after.Closed)
}

func TestStats(t *testing.T) {
	s := NewStats()
	for _, d := range []detection.Detection{
		{TrackID: 1, ClassName: "car", Confidence: 0.4},
		{TrackID: 1, ClassName: "car", Confidence: 0.6},
		{TrackID: 2, ClassName: "car", Confidence: 0.8},
		{TrackID: detection.Untracked, ClassName: "person", Confidence: 0.5},
	} {
		require.NoError(t, s.WriteDetection(d))
	}
	for _, e := range []fusion.Event{
		{TrackID: 1, ClassName: "car"},
		{TrackID: -1, ClassName: "none"},
		{TrackID: -1, ClassName: "none"},
		{TrackID: 2, ClassName: "car"},
	} {
		require.NoError(t, s.WriteEvent(e))
	}

	assert.InDelta(t, 0.5, s.HitRate(), 1e-9)

	classes := s.Classes()
	require.Len(t, classes, 2)
	car := classes[0]
	assert.Equal(t, "car", car.Class)
	assert.Equal(t, 3, car.Detections)
	assert.Equal(t, 2, car.Tracks)
	assert.Equal(t, 2, car.GazeHits)
	assert.InDelta(t, 0.6, car.MeanConfidence, 1e-9)
	assert.InDelta(t, 0.2, car.StdConfidence, 1e-9)

	person := classes[1]
	assert.Equal(t, 0, person.Tracks)
	assert.Equal(t, 0.5, person.MeanConfidence)
}

func TestManifest_WriteRead(t *testing.T) {
	m := NewManifest(map[string]any{"frame_stride": 2})
	_, err := uuid.Parse(m.RunID)
	require.NoError(t, err, "run id must be a uuid")

	m.AddOutput("detections", "/tmp/out/detection_results.csv")
	m.AddOutput("video", "")

	stats := NewStats()
	require.NoError(t, stats.WriteEvent(fusion.Event{TrackID: 3, ClassName: "car"}))
	m.Finish(fusion.Summary{FramesProcessed: 10, Events: 10}, stats, errors.New("aborted"))

	path := filepath.Join(t.TempDir(), "nested", ManifestFile)
	require.NoError(t, m.Write(path))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.RunID, got.RunID)
	assert.Equal(t, 10, got.Summary.FramesProcessed)
	assert.Equal(t, "aborted", got.Error)
	assert.Equal(t, 1.0, got.HitRate)
	assert.NotContains(t, got.Outputs, "video")
	assert.False(t, got.FinishedAt.IsZero())
}
