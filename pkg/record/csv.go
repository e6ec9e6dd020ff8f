// Package record persists fusion output: the detection and gaze projection
// tables as CSV, an optional SQLite database and the run manifest.
package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
)

// Output file names inside the output directory.
const (
	DetectionsFile = "detection_results.csv"
	EventsFile     = "gaze_projections.csv"
)

// Table headers.
var (
	DetectionHeader = []string{"frame", "track_id", "class_id", "class_name", "conf", "x1", "y1", "x2", "y2"}
	EventHeader     = []string{"frame_idx", "timestamp_ns", "gaze_x_px", "gaze_y_px", "object_id", "object_class"}
)

// CSVSink writes the detection and gaze projection tables.
type CSVSink struct {
	det, ev *csv.Writer
	closers []io.Closer
	paths   [2]string
	closed  bool
}

// NewCSVSink creates both tables in dir, creating dir if needed, and writes
// their headers.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: create output dir: %w", err)
	}

	detPath := filepath.Join(dir, DetectionsFile)
	evPath := filepath.Join(dir, EventsFile)

	detFile, err := os.Create(detPath)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	evFile, err := os.Create(evPath)
	if err != nil {
		detFile.Close()
		return nil, fmt.Errorf("record: %w", err)
	}

	s, err := NewCSVWriterSink(detFile, evFile)
	if err != nil {
		detFile.Close()
		evFile.Close()
		return nil, err
	}
	s.closers = []io.Closer{detFile, evFile}
	s.paths = [2]string{detPath, evPath}
	return s, nil
}

// NewCSVWriterSink writes the tables to arbitrary writers. Closing the sink
// flushes but does not close them.
func NewCSVWriterSink(det, ev io.Writer) (*CSVSink, error) {
	s := &CSVSink{det: csv.NewWriter(det), ev: csv.NewWriter(ev)}
	if err := s.det.Write(DetectionHeader); err != nil {
		return nil, fmt.Errorf("record: write header: %w", err)
	}
	if err := s.ev.Write(EventHeader); err != nil {
		return nil, fmt.Errorf("record: write header: %w", err)
	}
	return s, nil
}

// Paths returns the detection and event file paths, empty for writer sinks.
func (s *CSVSink) Paths() (detections, events string) {
	return s.paths[0], s.paths[1]
}

// WriteDetection appends one detection row.
func (s *CSVSink) WriteDetection(d detection.Detection) error {
	return s.det.Write(DetectionRecord(d))
}

// WriteEvent appends one gaze projection row. Both tables are flushed so a
// frame's rows reach disk together.
func (s *CSVSink) WriteEvent(e fusion.Event) error {
	if err := s.ev.Write(EventRecord(e)); err != nil {
		return err
	}
	s.det.Flush()
	s.ev.Flush()
	return errors.Join(s.det.Error(), s.ev.Error())
}

// Close flushes both tables and closes the files.
func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.det.Flush()
	s.ev.Flush()
	errs := []error{s.det.Error(), s.ev.Error()}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// DetectionRecord formats a detection as a CSV row.
func DetectionRecord(d detection.Detection) []string {
	return []string{
		strconv.Itoa(d.FrameIndex),
		strconv.Itoa(d.TrackID),
		strconv.Itoa(d.ClassID),
		d.ClassName,
		FormatFloat(d.Confidence),
		strconv.Itoa(d.Box.X1),
		strconv.Itoa(d.Box.Y1),
		strconv.Itoa(d.Box.X2),
		strconv.Itoa(d.Box.Y2),
	}
}

// EventRecord formats a fusion event as a CSV row. Unknown timestamp and gaze
// cells are left empty.
func EventRecord(e fusion.Event) []string {
	row := []string{strconv.Itoa(e.FrameIndex), "", "", ""}
	if e.HasTimestamp {
		row[1] = strconv.FormatInt(e.Timestamp, 10)
	}
	if e.HasGaze {
		row[2] = strconv.Itoa(e.GazeX)
		row[3] = strconv.Itoa(e.GazeY)
	}
	return append(row, strconv.Itoa(e.TrackID), e.ClassName)
}

// FormatFloat writes the shortest decimal that round-trips, always with a
// fractional part ("1.0", "0.8734567165374756").
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
