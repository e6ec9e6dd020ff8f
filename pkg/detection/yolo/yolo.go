// Package yolo is a YOLOv8 ONNX detection backend on OpenCV's DNN module.
package yolo

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/video"
)

// ErrUnsupportedFrame is returned for frames that are not backed by a Mat.
var ErrUnsupportedFrame = errors.New("yolo: frame is not a video frame")

// Config holds YOLO detector configuration
type Config struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
	Classes          []string // Class names by id; COCO when nil
}

// DefaultConfig returns defaults for YOLOv8 exported at 640x640.
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.3,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// Detector uses YOLOv8 for general object detection
type Detector struct {
	net       gocv.Net
	config    Config
	mu        sync.Mutex
	inputSize image.Point
}

// New creates a new YOLO object detector
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file %s: %w", cfg.ModelPath, err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load YOLO model from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if cfg.Classes == nil {
		cfg.Classes = detection.COCOClasses
	}

	return &Detector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Detect finds objects in the frame. Boxes are in frame pixels.
func (d *Detector) Detect(frame detection.Frame) ([]detection.Detection, error) {
	mf, ok := frame.(video.MatFrame)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedFrame, frame)
	}
	img := mf.Mat()
	if img.Empty() {
		return nil, errors.New("yolo: empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	dets, err := d.parseOutput(output, img.Cols(), img.Rows())
	if err != nil {
		return nil, err
	}

	log.Debug("yolo detections", "frame", frame.Index(), "count", len(dets))
	return dets, nil
}

// parseOutput decodes the YOLOv8 output tensor.
// Output shape: [1, 4+C, N] with rows cx, cy, w, h followed by C class scores.
func (d *Detector) parseOutput(output gocv.Mat, imgW, imgH int) ([]detection.Detection, error) {
	sizes := output.Size()
	if len(sizes) != 3 || sizes[1] <= 4 {
		return nil, fmt.Errorf("yolo: unexpected output shape %v", sizes)
	}
	attrs, n := sizes[1], sizes[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("yolo: read output: %w", err)
	}

	sx := float32(imgW) / float32(d.config.InputWidth)
	sy := float32(imgH) / float32(d.config.InputHeight)
	bounds := image.Rect(0, 0, imgW-1, imgH-1)

	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	for i := 0; i < n; i++ {
		maxScore := float32(0)
		maxClassID := 0
		for c := 4; c < attrs; c++ {
			if score := data[c*n+i]; score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}
		if maxScore < d.config.ConfidenceThresh {
			continue
		}

		cx, cy := data[i], data[n+i]
		w, h := data[2*n+i], data[3*n+i]

		box := image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		)
		boxes = append(boxes, clamp(box, bounds))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	dets := make([]detection.Detection, 0, len(boxes))
	if len(boxes) == 0 {
		return dets, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)
	for _, idx := range indices {
		box := boxes[idx]
		dets = append(dets, detection.Detection{
			TrackID:    detection.Untracked,
			ClassID:    classIDs[idx],
			ClassName:  d.className(classIDs[idx]),
			Confidence: float64(confidences[idx]),
			Box:        detection.Box{X1: box.Min.X, Y1: box.Min.Y, X2: box.Max.X, Y2: box.Max.Y},
		})
	}
	return dets, nil
}

func (d *Detector) className(id int) string {
	if id >= 0 && id < len(d.config.Classes) {
		return d.config.Classes[id]
	}
	return detection.ClassName(id)
}

// clamp keeps both corners inside bounds, where Max is the last valid pixel.
func clamp(r, bounds image.Rectangle) image.Rectangle {
	c := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	return image.Rectangle{
		Min: image.Pt(c(r.Min.X, bounds.Min.X, bounds.Max.X), c(r.Min.Y, bounds.Min.Y, bounds.Max.Y)),
		Max: image.Pt(c(r.Max.X, bounds.Min.X, bounds.Max.X), c(r.Max.Y, bounds.Min.Y, bounds.Max.Y)),
	}
}

// Close releases the detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
