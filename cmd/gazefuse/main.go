// gazefuse fuses eye-tracker gaze with object detections on the scene video.
// It writes per-frame detections and gaze-object events, and optionally an
// annotated video, a SQLite database and a live review server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/teslashibe/go-gaze/internal/config"
	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/annotate"
	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/detection/yolo"
	"github.com/teslashibe/go-gaze/pkg/fusion"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/record"
	"github.com/teslashibe/go-gaze/pkg/stream"
	"github.com/teslashibe/go-gaze/pkg/video"
	"github.com/teslashibe/go-gaze/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}
	log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("run interrupted")
			os.Exit(130)
		}
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags loads the config file and environment, then applies flags that
// were set explicitly on the command line.
func parseFlags() (*config.Config, error) {
	def := config.Default()

	configPath := flag.String("config", "", "Config file (JSON or YAML)")
	videoInput := flag.String("video", "", "Scene camera video")
	gazeInput := flag.String("gaze", def.GazeInput, "Gaze CSV")
	tsInput := flag.String("timestamps", def.TimestampsInput, "World frame timestamps CSV")
	cameraParams := flag.String("camera", def.CameraParams, "Scene camera calibration JSON")
	outputDir := flag.String("out", def.OutputDir, "Output directory")
	weights := flag.String("weights", def.DetectorWeights, "YOLO ONNX weights")
	stride := flag.Int("stride", def.FrameStride, "Process every n-th frame")
	conf := flag.Float64("conf", def.ConfidenceThreshold, "Detection confidence threshold")
	policy := flag.String("on-detector-error", def.DetectorFailurePolicy, "Detector failure policy: skip or abort")
	annotateVideo := flag.Bool("annotate", def.Annotate, "Write the annotated video")
	undistortGaze := flag.Bool("undistort-gaze", def.UndistortGaze, "Undistort gaze points with the camera calibration")
	sqlitePath := flag.String("sqlite", def.SQLitePath, "Also record into this SQLite database")
	serveAddr := flag.String("serve", def.ServeAddr, "Serve the live review UI on this address, e.g. :8090")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "video":
			cfg.VideoInput = *videoInput
		case "gaze":
			cfg.GazeInput = *gazeInput
		case "timestamps":
			cfg.TimestampsInput = *tsInput
		case "camera":
			cfg.CameraParams = *cameraParams
		case "out":
			cfg.OutputDir = *outputDir
		case "weights":
			cfg.DetectorWeights = *weights
		case "stride":
			cfg.FrameStride = *stride
		case "conf":
			cfg.ConfidenceThreshold = *conf
		case "on-detector-error":
			cfg.DetectorFailurePolicy = *policy
		case "annotate":
			cfg.Annotate = *annotateVideo
		case "undistort-gaze":
			cfg.UndistortGaze = *undistortGaze
		case "sqlite":
			cfg.SQLitePath = *sqlitePath
		case "serve":
			cfg.ServeAddr = *serveAddr
		}
	})
	if *debug {
		cfg.LogLevel = "debug"
	}
	if cfg.VideoInput == "" && flag.NArg() > 0 {
		cfg.VideoInput = flag.Arg(0)
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config) error {
	policy, err := fusion.ParsePolicy(cfg.DetectorFailurePolicy)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	manifest := record.NewManifest(cfg)
	manifestPath := filepath.Join(cfg.OutputDir, record.ManifestFile)
	logger := log.With("run", manifest.RunID)

	// Inputs
	gazeTable, err := stream.LoadGaze(cfg.GazeInput)
	if err != nil {
		return err
	}
	timestamps, err := stream.LoadFrameTimestamps(cfg.TimestampsInput)
	if err != nil {
		return err
	}
	if !gazeTable.Sorted() {
		logger.Warn("gaze samples are not sorted by timestamp, using linear search")
	}
	logger.Info("inputs loaded", "gaze_samples", gazeTable.Len(), "frame_timestamps", timestamps.Len())

	cam, err := camera.LoadOptionalParams(cfg.CameraParams)
	if err != nil {
		return err
	}
	switch {
	case cam != nil:
		logger.Info("camera calibration loaded", "path", cfg.CameraParams, "coefficients", len(cam.DistCoeffs))
	case cfg.CameraParams != "":
		logger.Warn("camera calibration not found, undistortion disabled", "path", cfg.CameraParams)
	}

	src, err := video.Open(cfg.VideoInput, video.Options{Camera: cam, Logger: logger})
	if err != nil {
		return err
	}
	defer src.Close()
	logger.Info("frames planned", "planned", fusion.Planned(src.FrameCount(), cfg.FrameStride), "stride", cfg.FrameStride)
	if src.FrameCount() != timestamps.Len() {
		logger.Warn("frame count differs from timestamp table", "frames", src.FrameCount(), "timestamps", timestamps.Len())
	}

	// Detection
	ycfg := yolo.DefaultConfig()
	ycfg.ModelPath = cfg.DetectorWeights
	ycfg.ConfidenceThresh = float32(cfg.ConfidenceThreshold)
	ycfg.NMSThresh = float32(cfg.NMSThreshold)
	det, err := yolo.New(ycfg)
	if err != nil {
		return err
	}
	var tracker *detection.Tracker
	if cfg.Tracker.Enabled {
		tracker = detection.NewTracker(detection.TrackerConfig{
			IoUThreshold: cfg.Tracker.IoUThreshold,
			MaxMissed:    cfg.Tracker.MaxMissed,
		})
	}
	detector := detection.NewAdapter(det, tracker)
	defer detector.Close()

	var syncCam *camera.Params
	if cfg.UndistortGaze {
		syncCam = cam
	}
	syncer := gaze.NewSynchronizer(gazeTable, timestamps, gaze.Options{Camera: syncCam})

	// Outputs
	csvSink, err := record.NewCSVSink(cfg.OutputDir)
	if err != nil {
		return err
	}
	detPath, evPath := csvSink.Paths()
	manifest.AddOutput("detections", detPath)
	manifest.AddOutput("events", evPath)

	stats := record.NewStats()
	sinks := []fusion.Sink{csvSink, stats}
	if cfg.SQLitePath != "" {
		db, err := record.OpenSQLite(cfg.SQLitePath, manifest.RunID)
		if err != nil {
			csvSink.Close()
			return err
		}
		sinks = append(sinks, db)
		manifest.AddOutput("sqlite", cfg.SQLitePath)
		logger.Info("recording to sqlite", "path", cfg.SQLitePath, "run_id", db.RunID())
	}

	deps := fusion.Deps{
		Source:   src,
		Detector: detector,
		Sync:     syncer,
		Sink:     record.Multi(sinks...),
	}

	if cfg.Annotate {
		fps := src.FPS() / float64(cfg.FrameStride)
		w, err := video.NewWriter(cfg.AnnotatedVideoPath(), fps, src.Width(), src.Height())
		if err != nil {
			deps.Sink.Close()
			return err
		}
		deps.Annotator = annotate.NewRenderer()
		deps.Writer = w
		manifest.AddOutput("annotated_video", w.Path())
	}

	pcfg := fusion.DefaultConfig()
	pcfg.Stride = cfg.FrameStride
	pcfg.FailurePolicy = policy
	pcfg.EmitUnsynced = cfg.EmitUnsyncedEvents
	pcfg.Logger = logger

	var running atomic.Pointer[fusion.Pipeline]
	if cfg.ServeAddr != "" {
		quality := cfg.JPEGQuality
		srv := web.NewServer(web.Config{
			Addr:       cfg.ServeAddr,
			RunID:      manifest.RunID,
			Video:      cfg.VideoInput,
			FrameEvery: cfg.PreviewEvery,
			Progress: func() fusion.Summary {
				if p := running.Load(); p != nil {
					return p.Progress()
				}
				return fusion.Summary{}
			},
			EncodeFrame: func(f fusion.Frame) ([]byte, error) {
				return annotate.EncodeJPEG(f, quality)
			},
			Logger: logger,
		})
		srv.StartAsync()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("review server shutdown", "error", err)
			}
		}()
		deps.Observers = append(deps.Observers, srv)
	}

	pipeline, err := fusion.New(pcfg, deps)
	if err != nil {
		deps.Sink.Close()
		if deps.Writer != nil {
			deps.Writer.Close()
		}
		return err
	}

	running.Store(pipeline)

	start := time.Now()
	sum, err := pipeline.Run(ctx)

	manifest.Finish(sum, stats, err)
	if werr := manifest.Write(manifestPath); werr != nil {
		logger.Error("write manifest", "path", manifestPath, "error", werr)
	}

	logger.Info("run finished",
		"frames", sum.FramesProcessed,
		"planned", sum.FramesPlanned,
		"detections", sum.Detections,
		"events", sum.Events,
		"hits", sum.Hits,
		"sync_misses", sum.SyncMisses,
		"detector_failures", sum.DetectorFailures,
		"terminated_early", sum.TerminatedEarly,
		"hit_rate", stats.HitRate(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	for _, c := range stats.Classes() {
		logger.Info("class summary", "class", c.Class, "detections", c.Detections, "tracks", c.Tracks, "gaze_hits", c.GazeHits, "mean_conf", c.MeanConfidence)
	}
	logger.Info("outputs written", "detections", detPath, "events", evPath, "manifest", manifestPath)

	return err
}
