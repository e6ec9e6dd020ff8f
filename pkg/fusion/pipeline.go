package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/gaze"
)

// ErrAlreadyRun is returned by Run on a pipeline that has already run.
var ErrAlreadyRun = errors.New("fusion: pipeline already run")

// Config holds pipeline configuration
type Config struct {
	// Stride processes every Stride-th frame, starting at frame 0.
	Stride int

	FailurePolicy FailurePolicy

	// EmitUnsynced emits a sentinel event for frames without a gaze point.
	// When false those frames produce no event.
	EmitUnsynced bool

	// ProgressEvery logs progress after this many processed frames; 0 disables.
	ProgressEvery int

	Logger *slog.Logger
	Meter  metric.Meter
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Stride:        1,
		FailurePolicy: PolicySkip,
		EmitUnsynced:  true,
		ProgressEvery: 500,
	}
}

// Deps are the pipeline's collaborators. Source, Detector, Sync and Sink are
// required. The pipeline closes Sink and Writer when Run returns; closing
// Source is left to the caller.
type Deps struct {
	Source    FrameSource
	Detector  Detector
	Sync      Synchronizer
	Sink      Sink
	Annotator Annotator
	Writer    FrameWriter
	Observers []Observer
}

// Summary describes a run.
type Summary struct {
	FramesPlanned    int  `json:"frames_planned"`
	FramesProcessed  int  `json:"frames_processed"`
	LastFrame        int  `json:"last_frame"`
	Detections       int  `json:"detections"`
	Events           int  `json:"events"`
	Hits             int  `json:"hits"`
	SyncMisses       int  `json:"sync_misses"`
	DetectorFailures int  `json:"detector_failures"`
	TerminatedEarly  bool `json:"terminated_early"`
	Done             bool `json:"done"`
}

// Pipeline is the fusion orchestrator.
type Pipeline struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics

	mu       sync.Mutex
	progress Summary
	ran      bool
}

// New creates a pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil || deps.Detector == nil || deps.Sync == nil || deps.Sink == nil {
		return nil, errors.New("fusion: source, detector, synchronizer and sink are required")
	}
	if cfg.Stride < 1 {
		return nil, fmt.Errorf("fusion: stride must be >= 1, got %d", cfg.Stride)
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicySkip
	}
	if cfg.Meter == nil {
		cfg.Meter = meter()
	}

	m, err := newMetrics(cfg.Meter)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.L()
	}

	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "fusion"),
		metrics: m,
	}, nil
}

// Planned returns how many frames a full run processes: ceil(total / stride).
func Planned(total, stride int) int {
	if total <= 0 || stride < 1 {
		return 0
	}
	return (total + stride - 1) / stride
}

// Progress returns a snapshot of the running totals. Safe to call from other
// goroutines while Run is in progress.
func (p *Pipeline) Progress() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

func (p *Pipeline) update(fn func(s *Summary)) {
	p.mu.Lock()
	fn(&p.progress)
	p.mu.Unlock()
}

// Run processes frames 0, Stride, 2*Stride, ... until the source is
// exhausted, the context is cancelled or a detector failure aborts the run.
// Sink and Writer are flushed and closed on every path; their close errors
// are joined into the returned error. A cancelled run returns ctx.Err().
func (p *Pipeline) Run(ctx context.Context) (sum Summary, err error) {
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()
		return Summary{}, ErrAlreadyRun
	}
	p.ran = true
	p.mu.Unlock()

	defer func() {
		err = errors.Join(err, p.finalize())
		p.update(func(s *Summary) { s.Done = true })
		sum = p.Progress()
	}()

	total := p.deps.Source.FrameCount()
	planned := Planned(total, p.cfg.Stride)
	p.update(func(s *Summary) {
		s.FramesPlanned = planned
		s.LastFrame = -1
	})

	p.logger.Info("fusion started",
		"frames", total,
		"stride", p.cfg.Stride,
		"planned", planned,
		"policy", string(p.cfg.FailurePolicy))

	for idx := 0; idx < total; idx += p.cfg.Stride {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("fusion cancelled", "frame", idx)
			p.update(func(s *Summary) { s.TerminatedEarly = true })
			return Summary{}, err
		}

		frame, err := p.deps.Source.ReadFrame(idx)
		if err != nil {
			if !errors.Is(err, ErrEndOfStream) {
				p.logger.Warn("frame decode failed", "frame", idx, "error", err)
			} else {
				p.logger.Info("end of stream", "frame", idx)
			}
			p.update(func(s *Summary) { s.TerminatedEarly = true })
			break
		}

		err = p.processFrame(ctx, frame)
		if cerr := frame.Close(); cerr != nil {
			p.logger.Debug("frame close failed", "frame", idx, "error", cerr)
		}
		if err != nil {
			return Summary{}, err
		}

		if n := p.cfg.ProgressEvery; n > 0 {
			if s := p.Progress(); s.FramesProcessed%n == 0 {
				p.logger.Info("fusion progress",
					"frame", idx,
					"processed", s.FramesProcessed,
					"planned", planned)
			}
		}
	}

	return Summary{}, nil
}

func (p *Pipeline) processFrame(ctx context.Context, frame Frame) error {
	idx := frame.Index()
	logger := p.logger.With("frame", idx)

	dets, err := p.detect(frame)
	if err != nil {
		p.metrics.detectorFailures.Add(ctx, 1)
		p.update(func(s *Summary) { s.DetectorFailures++ })
		if p.cfg.FailurePolicy == PolicyAbort {
			logger.Error("detector failed, aborting", "error", err)
			return &DetectorError{FrameIndex: idx, Err: err}
		}
		logger.Warn("detector failed, frame has no detections", "error", err)
		dets = nil
	}

	for i := range dets {
		dets[i].FrameIndex = idx
		if err := p.deps.Sink.WriteDetection(dets[i]); err != nil {
			return fmt.Errorf("fusion: write detection for frame %d: %w", idx, err)
		}
		p.metrics.detection(ctx, dets[i].ClassName)
	}

	match, syncErr := p.deps.Sync.Sync(idx)
	var gazePoint *gaze.Match
	if syncErr != nil {
		p.metrics.syncMisses.Add(ctx, 1)
		p.update(func(s *Summary) { s.SyncMisses++ })
		logger.Warn("gaze synchronization failed", "error", syncErr)
	} else {
		gazePoint = &match
	}

	ev := p.event(idx, match, gazePoint, dets)
	if ev != nil {
		if err := p.deps.Sink.WriteEvent(*ev); err != nil {
			return fmt.Errorf("fusion: write event for frame %d: %w", idx, err)
		}
	}

	if p.deps.Annotator != nil {
		if err := p.deps.Annotator.Annotate(frame, dets, gazePoint); err != nil {
			logger.Warn("annotation failed", "error", err)
		}
	}
	if p.deps.Writer != nil {
		if err := p.deps.Writer.WriteFrame(frame); err != nil {
			logger.Warn("annotated frame write failed", "error", err)
		}
	}

	p.metrics.frames.Add(ctx, 1)
	p.update(func(s *Summary) {
		s.FramesProcessed++
		s.LastFrame = idx
		s.Detections += len(dets)
		if ev != nil {
			s.Events++
			if ev.Hit() {
				s.Hits++
			}
		}
	})

	result := FrameResult{Frame: frame, Detections: dets, Event: ev}
	for _, o := range p.deps.Observers {
		o.ObserveFrame(result)
	}
	return nil
}

// detect runs the detector, turning a panic into an error so one bad frame
// goes through the failure policy like any other detector error.
func (p *Pipeline) detect(frame Frame) (dets []detection.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			dets, err = nil, fmt.Errorf("detector panic: %v", r)
		}
	}()
	return p.deps.Detector.DetectAndTrack(frame)
}

// event builds the frame's fusion event. gazePoint is nil when the frame
// could not be synchronized; match may still carry the frame timestamp.
func (p *Pipeline) event(idx int, match gaze.Match, gazePoint *gaze.Match, dets []detection.Detection) *Event {
	if gazePoint == nil {
		if !p.cfg.EmitUnsynced {
			return nil
		}
		return &Event{
			FrameIndex:   idx,
			Timestamp:    match.Timestamp,
			HasTimestamp: match.HasTimestamp,
			GazeX:        -1,
			GazeY:        -1,
			TrackID:      NoTrack,
			ClassName:    NoClass,
		}
	}

	hit := Resolve(gazePoint.X, gazePoint.Y, true, dets)
	return &Event{
		FrameIndex:   idx,
		Timestamp:    gazePoint.Timestamp,
		HasTimestamp: true,
		GazeX:        gazePoint.X,
		GazeY:        gazePoint.Y,
		HasGaze:      true,
		TrackID:      hit.TrackID,
		ClassName:    hit.ClassName,
	}
}

func (p *Pipeline) finalize() error {
	var errs []error
	if p.deps.Writer != nil {
		if err := p.deps.Writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close frame writer: %w", err))
		}
	}
	if err := p.deps.Sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}

	s := p.Progress()
	p.logger.Info("fusion finished",
		"processed", s.FramesProcessed,
		"planned", s.FramesPlanned,
		"detections", s.Detections,
		"events", s.Events,
		"hits", s.Hits,
		"sync_misses", s.SyncMisses,
		"detector_failures", s.DetectorFailures,
		"terminated_early", s.TerminatedEarly)

	return errors.Join(errs...)
}
