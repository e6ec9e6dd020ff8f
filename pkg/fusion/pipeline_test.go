package fusion_test

import (
	"context"
	"errors"
	"testing"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
	"github.com/teslashibe/go-gaze/pkg/fusion/fusiontest"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/stream"
)

func newSync(ts []int64, samples []stream.GazeSample) *gaze.Synchronizer {
	return gaze.NewSynchronizer(stream.NewGazeTable(samples), stream.NewTimestampTable(ts), gaze.Options{})
}

func testConfig() fusion.Config {
	cfg := fusion.DefaultConfig()
	cfg.Logger = log.Discard()
	return cfg
}

func run(t *testing.T, cfg fusion.Config, deps fusion.Deps) (fusion.Summary, error) {
	t.Helper()
	p, err := fusion.New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p.Run(context.Background())
}

var car = detection.Detection{TrackID: 3, ClassID: 2, ClassName: "car", Confidence: 0.9,
	Box: detection.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}}

func TestPipeline_Scenario(t *testing.T) {
	sink := &fusiontest.Sink{}
	src := fusiontest.NewSource(4)
	det := &fusiontest.Detector{ByFrame: map[int][]detection.Detection{
		0: {car},
		1: {car},
	}}
	sync := newSync(
		[]int64{100, 200, 400},
		[]stream.GazeSample{{Timestamp: 90, X: 5, Y: 5}, {Timestamp: 210, X: 50, Y: 50}, {Timestamp: 395, X: 60, Y: 60}},
	)

	sum, err := run(t, testConfig(), fusion.Deps{Source: src, Detector: det, Sync: sync, Sink: sink})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []fusion.Event{
		{FrameIndex: 0, Timestamp: 100, HasTimestamp: true, GazeX: 5, GazeY: 5, HasGaze: true, TrackID: fusion.NoTrack, ClassName: fusion.NoClass},
		{FrameIndex: 1, Timestamp: 200, HasTimestamp: true, GazeX: 50, GazeY: 50, HasGaze: true, TrackID: 3, ClassName: "car"},
		{FrameIndex: 2, Timestamp: 400, HasTimestamp: true, GazeX: 60, GazeY: 60, HasGaze: true, TrackID: fusion.NoTrack, ClassName: fusion.NoClass},
		// Past the timestamp table: sentinel event.
		{FrameIndex: 3, GazeX: -1, GazeY: -1, TrackID: fusion.NoTrack, ClassName: fusion.NoClass},
	}
	if len(sink.Events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(sink.Events), len(want), sink.Events)
	}
	for i := range want {
		if sink.Events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, sink.Events[i], want[i])
		}
	}

	if len(sink.Detections) != 2 || sink.Detections[1].FrameIndex != 1 {
		t.Errorf("detections = %+v", sink.Detections)
	}
	if sum.FramesProcessed != 4 || sum.Events != 4 || sum.Hits != 1 || sum.SyncMisses != 1 || sum.Detections != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.TerminatedEarly {
		t.Error("full run should not be marked terminated early")
	}
	if !sink.Closed {
		t.Error("sink not closed")
	}
	if !src.AllClosed() {
		t.Error("frames not closed")
	}
}

func TestPipeline_StrideRowCount(t *testing.T) {
	tests := []struct {
		total, stride int
		wantFrames    []int
	}{
		{10, 1, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{10, 3, []int{0, 3, 6, 9}},
		{9, 3, []int{0, 3, 6}},
		{1, 4, []int{0}},
		{0, 2, nil},
	}

	for _, tc := range tests {
		sink := &fusiontest.Sink{}
		cfg := testConfig()
		cfg.Stride = tc.stride

		sum, err := run(t, cfg, fusion.Deps{
			Source:   fusiontest.NewSource(tc.total),
			Detector: &fusiontest.Detector{},
			Sync:     newSync([]int64{0, 1, 2}, []stream.GazeSample{{Timestamp: 0, X: 1, Y: 1}}),
			Sink:     sink,
		})
		if err != nil {
			t.Fatalf("total=%d stride=%d: %v", tc.total, tc.stride, err)
		}

		if len(sink.Events) != fusion.Planned(tc.total, tc.stride) || len(sink.Events) != len(tc.wantFrames) {
			t.Fatalf("total=%d stride=%d: %d events, want %d", tc.total, tc.stride, len(sink.Events), len(tc.wantFrames))
		}
		for i, e := range sink.Events {
			if e.FrameIndex != tc.wantFrames[i] {
				t.Errorf("total=%d stride=%d: event %d frame %d, want %d", tc.total, tc.stride, i, e.FrameIndex, tc.wantFrames[i])
			}
		}
		if sum.FramesPlanned != len(tc.wantFrames) {
			t.Errorf("FramesPlanned = %d, want %d", sum.FramesPlanned, len(tc.wantFrames))
		}
	}
}

func TestPipeline_EarlyTermination(t *testing.T) {
	sink := &fusiontest.Sink{}
	src := &fusiontest.Source{Total: 10, FailAt: 5}
	cfg := testConfig()
	cfg.Stride = 2

	sum, err := run(t, cfg, fusion.Deps{
		Source:   src,
		Detector: &fusiontest.Detector{},
		Sync:     newSync(nil, nil),
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("early end of stream is not an error: %v", err)
	}

	if got := len(sink.Events); got != 3 {
		t.Errorf("got %d events, want 3 (frames 0, 2, 4)", got)
	}
	if !sum.TerminatedEarly {
		t.Error("TerminatedEarly not set")
	}
	if sum.FramesProcessed >= sum.FramesPlanned {
		t.Errorf("processed %d of %d planned", sum.FramesProcessed, sum.FramesPlanned)
	}
	if !sink.Closed {
		t.Error("sink must be closed after early termination")
	}
}

func TestPipeline_DetectorFailureSkip(t *testing.T) {
	sink := &fusiontest.Sink{}
	det := &fusiontest.Detector{
		ByFrame: map[int][]detection.Detection{0: {car}, 1: {car}, 2: {car}},
		Errs:    map[int]error{1: errors.New("inference failed")},
		Panics:  map[int]bool{2: true},
	}
	gz := []stream.GazeSample{{Timestamp: 0, X: 30, Y: 30}}

	sum, err := run(t, testConfig(), fusion.Deps{
		Source:   fusiontest.NewSource(3),
		Detector: det,
		Sync:     newSync([]int64{0, 0, 0}, gz),
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.DetectorFailures != 2 {
		t.Errorf("DetectorFailures = %d, want 2", sum.DetectorFailures)
	}
	if len(sink.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(sink.Events))
	}
	if !sink.Events[0].Hit() {
		t.Error("frame 0 should hit the car")
	}
	for _, e := range sink.Events[1:] {
		if e.Hit() || !e.HasGaze {
			t.Errorf("failed frame event = %+v, want gaze with no object", e)
		}
	}
	if len(sink.Detections) != 1 {
		t.Errorf("got %d detections, want 1", len(sink.Detections))
	}
}

func TestPipeline_DetectorFailureAbort(t *testing.T) {
	sink := &fusiontest.Sink{}
	src := fusiontest.NewSource(5)
	boom := errors.New("inference failed")
	cfg := testConfig()
	cfg.FailurePolicy = fusion.PolicyAbort

	sum, err := run(t, cfg, fusion.Deps{
		Source:   src,
		Detector: &fusiontest.Detector{Errs: map[int]error{2: boom}},
		Sync:     newSync([]int64{0, 1, 2, 3, 4}, []stream.GazeSample{{Timestamp: 0, X: 1, Y: 1}}),
		Sink:     sink,
	})

	var de *fusion.DetectorError
	if !errors.As(err, &de) || de.FrameIndex != 2 {
		t.Fatalf("err = %v, want DetectorError for frame 2", err)
	}
	if !errors.Is(err, fusion.ErrDetector) || !errors.Is(err, boom) {
		t.Errorf("err = %v should match ErrDetector and the cause", err)
	}
	if len(sink.Events) != 2 {
		t.Errorf("got %d events, want 2", len(sink.Events))
	}
	if !sink.Closed {
		t.Error("sink must be closed after abort")
	}
	if !src.AllClosed() {
		t.Error("frames not closed after abort")
	}
	if !sum.Done || sum.DetectorFailures != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestPipeline_OmitUnsynced(t *testing.T) {
	sink := &fusiontest.Sink{}
	cfg := testConfig()
	cfg.EmitUnsynced = false

	sum, err := run(t, cfg, fusion.Deps{
		Source:   fusiontest.NewSource(5),
		Detector: &fusiontest.Detector{},
		Sync:     newSync([]int64{10, 20}, []stream.GazeSample{{Timestamp: 10, X: 1, Y: 1}}),
		Sink:     sink,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(sink.Events) != 2 {
		t.Errorf("got %d events, want 2", len(sink.Events))
	}
	if sum.SyncMisses != 3 || sum.FramesProcessed != 5 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestPipeline_NoGazeSamples(t *testing.T) {
	sink := &fusiontest.Sink{}

	_, err := run(t, testConfig(), fusion.Deps{
		Source:   fusiontest.NewSource(2),
		Detector: &fusiontest.Detector{ByFrame: map[int][]detection.Detection{0: {car}}},
		Sync:     newSync([]int64{10, 20}, nil),
		Sink:     sink,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, e := range sink.Events {
		if !e.HasTimestamp || e.HasGaze || e.TrackID != fusion.NoTrack || e.ClassName != fusion.NoClass {
			t.Errorf("event = %+v, want timestamp with sentinels", e)
		}
	}
}

func TestPipeline_Properties(t *testing.T) {
	boxes := []detection.Box{
		{X1: 0, Y1: 0, X2: 40, Y2: 40},
		{X1: 30, Y1: 30, X2: 80, Y2: 80},
		{X1: 60, Y1: 0, X2: 100, Y2: 20},
	}
	byFrame := make(map[int][]detection.Detection)
	var ts []int64
	var gz []stream.GazeSample
	for i := 0; i < 40; i++ {
		for j, b := range boxes {
			if (i+j)%3 != 0 {
				byFrame[i] = append(byFrame[i], detection.Detection{TrackID: j + 1, ClassName: "obj", Box: b})
			}
		}
		ts = append(ts, int64(i*33))
		gz = append(gz, stream.GazeSample{Timestamp: int64(i*33 + 7), X: float64((i * 7) % 100), Y: float64((i * 11) % 100)})
	}

	sink := &fusiontest.Sink{}
	cfg := testConfig()
	cfg.Stride = 2
	if _, err := run(t, cfg, fusion.Deps{
		Source:   fusiontest.NewSource(45),
		Detector: &fusiontest.Detector{ByFrame: byFrame},
		Sync:     newSync(ts, gz),
		Sink:     sink,
	}); err != nil {
		t.Fatal(err)
	}

	last := -1
	for _, e := range sink.Events {
		if e.FrameIndex <= last {
			t.Fatalf("events out of order: %d after %d", e.FrameIndex, last)
		}
		last = e.FrameIndex

		if !e.Hit() {
			if e.TrackID != fusion.NoTrack || e.ClassName != fusion.NoClass {
				t.Errorf("partial sentinel: %+v", e)
			}
			continue
		}
		var found bool
		for _, d := range byFrame[e.FrameIndex] {
			if d.TrackID == e.TrackID && d.Box.Contains(e.GazeX, e.GazeY) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("event %+v references a box that does not contain the gaze", e)
		}
	}

	for _, d := range sink.Detections {
		if d.FrameIndex%2 != 0 {
			t.Errorf("detection for unprocessed frame %d", d.FrameIndex)
		}
	}
}

type recordingAnnotator struct {
	frames []int
	gazed  []bool
}

func (a *recordingAnnotator) Annotate(f fusion.Frame, _ []detection.Detection, g *gaze.Match) error {
	a.frames = append(a.frames, f.Index())
	a.gazed = append(a.gazed, g != nil)
	return errors.New("draw failed")
}

type recordingWriter struct {
	frames []int
	closed bool
}

func (w *recordingWriter) WriteFrame(f fusion.Frame) error {
	w.frames = append(w.frames, f.Index())
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPipeline_AnnotateWriteObserve(t *testing.T) {
	ann := &recordingAnnotator{}
	wr := &recordingWriter{}
	var observed []int
	obs := fusion.ObserverFunc(func(r fusion.FrameResult) {
		observed = append(observed, r.Frame.Index())
		if r.Event == nil || r.Event.FrameIndex != r.Frame.Index() {
			t.Errorf("observer got mismatched event %+v", r.Event)
		}
	})

	_, err := run(t, testConfig(), fusion.Deps{
		Source:    fusiontest.NewSource(3),
		Detector:  &fusiontest.Detector{},
		Sync:      newSync([]int64{0, 1}, []stream.GazeSample{{Timestamp: 0, X: 1, Y: 1}}),
		Sink:      &fusiontest.Sink{},
		Annotator: ann,
		Writer:    wr,
		Observers: []fusion.Observer{obs},
	})
	if err != nil {
		t.Fatalf("annotation errors must not fail the run: %v", err)
	}

	if len(ann.frames) != 3 || len(wr.frames) != 3 || len(observed) != 3 {
		t.Errorf("annotated %v, written %v, observed %v", ann.frames, wr.frames, observed)
	}
	if !ann.gazed[0] || !ann.gazed[1] || ann.gazed[2] {
		t.Errorf("gaze passed to annotator = %v, want [true true false]", ann.gazed)
	}
	if !wr.closed {
		t.Error("writer not closed")
	}
}

func TestPipeline_SinkError(t *testing.T) {
	boom := errors.New("disk full")
	sink := &fusiontest.Sink{EventErr: boom}

	_, err := run(t, testConfig(), fusion.Deps{
		Source:   fusiontest.NewSource(3),
		Detector: &fusiontest.Detector{},
		Sync:     newSync([]int64{0}, []stream.GazeSample{{Timestamp: 0, X: 1, Y: 1}}),
		Sink:     sink,
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if !sink.Closed {
		t.Error("sink not closed")
	}
}

func TestPipeline_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &fusiontest.Sink{}
	p, err := fusion.New(testConfig(), fusion.Deps{
		Source:   fusiontest.NewSource(100),
		Detector: &fusiontest.Detector{},
		Sync:     newSync(nil, nil),
		Sink:     sink,
		Observers: []fusion.Observer{fusion.ObserverFunc(func(r fusion.FrameResult) {
			if r.Frame.Index() == 4 {
				cancel()
			}
		})},
	})
	if err != nil {
		t.Fatal(err)
	}

	sum, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.FramesProcessed != 5 || !sum.TerminatedEarly {
		t.Errorf("summary = %+v", sum)
	}
	if !sink.Closed {
		t.Error("sink not closed after cancel")
	}

	if _, err := p.Run(context.Background()); !errors.Is(err, fusion.ErrAlreadyRun) {
		t.Errorf("second Run err = %v, want ErrAlreadyRun", err)
	}
}

func TestNew_Validation(t *testing.T) {
	deps := fusion.Deps{
		Source:   fusiontest.NewSource(1),
		Detector: &fusiontest.Detector{},
		Sync:     newSync(nil, nil),
		Sink:     &fusiontest.Sink{},
	}

	cfg := testConfig()
	cfg.Stride = 0
	if _, err := fusion.New(cfg, deps); err == nil {
		t.Error("stride 0 should be rejected")
	}

	deps.Sink = nil
	if _, err := fusion.New(testConfig(), deps); err == nil {
		t.Error("missing sink should be rejected")
	}
}
