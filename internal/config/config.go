// Package config loads gazefuse run settings from defaults, an optional config
// file and GAZEFUSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. GAZEFUSE_FRAME_STRIDE.
const EnvPrefix = "GAZEFUSE"

// ErrInvalid is returned when a configuration value is out of range.
var ErrInvalid = errors.New("config: invalid")

// TrackerConfig holds tracker settings
type TrackerConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	IoUThreshold float64 `json:"iou_threshold" mapstructure:"iou_threshold"`
	MaxMissed    int     `json:"max_missed" mapstructure:"max_missed"`
}

// Config is a complete run configuration.
type Config struct {
	VideoInput      string `json:"video_input" mapstructure:"video_input"`
	GazeInput       string `json:"gaze_input" mapstructure:"gaze_input"`
	TimestampsInput string `json:"timestamps_input" mapstructure:"timestamps_input"`
	CameraParams    string `json:"camera_params" mapstructure:"camera_params"`
	OutputDir       string `json:"output_dir" mapstructure:"output_dir"`

	DetectorWeights       string  `json:"detector_weights" mapstructure:"detector_weights"`
	ConfidenceThreshold   float64 `json:"confidence_threshold" mapstructure:"confidence_threshold"`
	NMSThreshold          float64 `json:"nms_threshold" mapstructure:"nms_threshold"`
	DetectorFailurePolicy string  `json:"detector_failure_policy" mapstructure:"detector_failure_policy"`

	FrameStride        int  `json:"frame_stride" mapstructure:"frame_stride"`
	EmitUnsyncedEvents bool `json:"emit_unsynced_events" mapstructure:"emit_unsynced_events"`
	UndistortGaze      bool `json:"undistort_gaze" mapstructure:"undistort_gaze"`

	Annotate       bool   `json:"annotate" mapstructure:"annotate"`
	AnnotatedVideo string `json:"annotated_video" mapstructure:"annotated_video"`

	SQLitePath   string `json:"sqlite_path" mapstructure:"sqlite_path"`
	ServeAddr    string `json:"serve_addr" mapstructure:"serve_addr"`
	PreviewEvery int    `json:"preview_every" mapstructure:"preview_every"`
	JPEGQuality  int    `json:"jpeg_quality" mapstructure:"jpeg_quality"`

	LogLevel string `json:"log_level" mapstructure:"log_level"`

	Tracker TrackerConfig `json:"tracker" mapstructure:"tracker"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("video_input", "")
	v.SetDefault("gaze_input", "gaze.csv")
	v.SetDefault("timestamps_input", "world_timestamps.csv")
	v.SetDefault("camera_params", "")
	v.SetDefault("output_dir", "output")

	v.SetDefault("detector_weights", "models/yolov8n.onnx")
	v.SetDefault("confidence_threshold", 0.3)
	v.SetDefault("nms_threshold", 0.45)
	v.SetDefault("detector_failure_policy", "skip")

	v.SetDefault("frame_stride", 1)
	v.SetDefault("emit_unsynced_events", true)
	v.SetDefault("undistort_gaze", false)

	v.SetDefault("annotate", true)
	v.SetDefault("annotated_video", "annotated.mp4")

	v.SetDefault("sqlite_path", "")
	v.SetDefault("serve_addr", "")
	v.SetDefault("preview_every", 5)
	v.SetDefault("jpeg_quality", 75)

	v.SetDefault("log_level", "info")

	v.SetDefault("tracker.enabled", true)
	v.SetDefault("tracker.iou_threshold", 0.3)
	v.SetDefault("tracker.max_missed", 30)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults alone always decode.
		panic(err)
	}
	return cfg
}

// Load builds a Config. path may be empty; otherwise it names a JSON or YAML
// file whose values override the defaults. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	return &cfg, nil
}

// AnnotatedVideoPath resolves the annotated video path against OutputDir.
func (c *Config) AnnotatedVideoPath() string {
	if c.AnnotatedVideo == "" || filepath.IsAbs(c.AnnotatedVideo) {
		return c.AnnotatedVideo
	}
	return filepath.Join(c.OutputDir, c.AnnotatedVideo)
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.VideoInput == "" {
		bad("video_input is required")
	}
	if c.GazeInput == "" {
		bad("gaze_input is required")
	}
	if c.TimestampsInput == "" {
		bad("timestamps_input is required")
	}
	if c.OutputDir == "" {
		bad("output_dir is required")
	}
	if c.DetectorWeights == "" {
		bad("detector_weights is required")
	}
	if c.FrameStride < 1 {
		bad("frame_stride must be >= 1, got %d", c.FrameStride)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		bad("confidence_threshold must be in [0, 1], got %g", c.ConfidenceThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		bad("nms_threshold must be in [0, 1], got %g", c.NMSThreshold)
	}
	switch c.DetectorFailurePolicy {
	case "skip", "abort":
	default:
		bad("detector_failure_policy must be skip or abort, got %q", c.DetectorFailurePolicy)
	}
	if c.UndistortGaze && c.CameraParams == "" {
		bad("undistort_gaze needs camera_params")
	}
	if c.Annotate && c.AnnotatedVideo == "" {
		bad("annotate needs annotated_video")
	}
	if c.PreviewEvery < 1 {
		bad("preview_every must be >= 1, got %d", c.PreviewEvery)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		bad("jpeg_quality must be in [1, 100], got %d", c.JPEGQuality)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		bad("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.Tracker.Enabled {
		if c.Tracker.IoUThreshold <= 0 || c.Tracker.IoUThreshold > 1 {
			bad("tracker.iou_threshold must be in (0, 1], got %g", c.Tracker.IoUThreshold)
		}
		if c.Tracker.MaxMissed < 0 {
			bad("tracker.max_missed must be >= 0, got %d", c.Tracker.MaxMissed)
		}
	}

	return errors.Join(errs...)
}
