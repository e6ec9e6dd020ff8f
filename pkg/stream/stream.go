// Package stream loads the eye-tracker's timestamped tables: gaze samples and
// world-camera frame timestamps.
//
// Both tables are CSV with a header row. Columns are located by name, so
// exports carrying extra columns (recording id, worn flag, ...) load fine.
package stream

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Column names of the eye-tracker exports.
const (
	ColTimestamp = "timestamp [ns]"
	ColGazeX     = "gaze x [px]"
	ColGazeY     = "gaze y [px]"
)

// GazeSample is one timestamped gaze point in scene-camera pixels.
type GazeSample struct {
	Timestamp int64   // ns, same clock as frame timestamps
	X         float64 // px, NaN when the tracker reported nothing
	Y         float64 // px
}

// Valid reports whether both coordinates are finite.
func (s GazeSample) Valid() bool {
	return !math.IsNaN(s.X) && !math.IsNaN(s.Y) && !math.IsInf(s.X, 0) && !math.IsInf(s.Y, 0)
}

// FrameTimestamp is the capture time of one world-camera frame.
type FrameTimestamp struct {
	FrameIndex int
	Timestamp  int64
}

// GazeTable is an immutable, position-indexed sequence of gaze samples.
type GazeTable struct {
	samples []GazeSample
	sorted  bool
}

// NewGazeTable builds a table from samples. The slice is copied.
func NewGazeTable(samples []GazeSample) *GazeTable {
	s := make([]GazeSample, len(samples))
	copy(s, samples)
	sorted := true
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp < s[i-1].Timestamp {
			sorted = false
			break
		}
	}
	return &GazeTable{samples: s, sorted: sorted}
}

// Len returns the number of samples.
func (t *GazeTable) Len() int { return len(t.samples) }

// At returns the sample at position i.
func (t *GazeTable) At(i int) GazeSample { return t.samples[i] }

// Timestamp returns the timestamp of the sample at position i.
func (t *GazeTable) Timestamp(i int) int64 { return t.samples[i].Timestamp }

// Sorted reports whether timestamps are non-decreasing.
func (t *GazeTable) Sorted() bool { return t.sorted }

// Samples returns a copy of all samples.
func (t *GazeTable) Samples() []GazeSample {
	out := make([]GazeSample, len(t.samples))
	copy(out, t.samples)
	return out
}

// TimestampTable maps frame index to capture timestamp.
type TimestampTable struct {
	timestamps []int64
}

// NewTimestampTable builds a table where row i is frame i. The slice is copied.
func NewTimestampTable(ts []int64) *TimestampTable {
	c := make([]int64, len(ts))
	copy(c, ts)
	return &TimestampTable{timestamps: c}
}

// Len returns the number of frames with a known timestamp.
func (t *TimestampTable) Len() int { return len(t.timestamps) }

// At returns the entry for frame i.
func (t *TimestampTable) At(i int) FrameTimestamp {
	return FrameTimestamp{FrameIndex: i, Timestamp: t.timestamps[i]}
}

// Lookup returns the timestamp of frame i, or false when i is out of range.
func (t *TimestampTable) Lookup(i int) (int64, bool) {
	if i < 0 || i >= len(t.timestamps) {
		return 0, false
	}
	return t.timestamps[i], true
}

// LoadGaze reads a gaze table from a CSV file.
func LoadGaze(path string) (*GazeTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}
	defer f.Close()

	t, err := readGaze(f, path)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ReadGaze reads a gaze table from r.
func ReadGaze(r io.Reader) (*GazeTable, error) {
	return readGaze(r, "")
}

func readGaze(r io.Reader, path string) (*GazeTable, error) {
	cr, cols, err := openTable(r, path, ColTimestamp, ColGazeX, ColGazeY)
	if err != nil {
		return nil, err
	}

	var samples []GazeSample
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DataLoadError{Path: path, Line: errLine(err), Err: err}
		}
		line, _ := cr.FieldPos(0)

		ts, err := parseTimestamp(rec[cols[0]])
		if err != nil {
			return nil, &DataLoadError{Path: path, Line: line, Column: ColTimestamp, Err: err}
		}
		x, err := parseCoord(rec[cols[1]])
		if err != nil {
			return nil, &DataLoadError{Path: path, Line: line, Column: ColGazeX, Err: err}
		}
		y, err := parseCoord(rec[cols[2]])
		if err != nil {
			return nil, &DataLoadError{Path: path, Line: line, Column: ColGazeY, Err: err}
		}
		samples = append(samples, GazeSample{Timestamp: ts, X: x, Y: y})
	}

	return NewGazeTable(samples), nil
}

// LoadFrameTimestamps reads a frame timestamp table from a CSV file.
func LoadFrameTimestamps(path string) (*TimestampTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}
	defer f.Close()

	return readFrameTimestamps(f, path)
}

// ReadFrameTimestamps reads a frame timestamp table from r.
func ReadFrameTimestamps(r io.Reader) (*TimestampTable, error) {
	return readFrameTimestamps(r, "")
}

func readFrameTimestamps(r io.Reader, path string) (*TimestampTable, error) {
	cr, cols, err := openTable(r, path, ColTimestamp)
	if err != nil {
		return nil, err
	}

	var ts []int64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DataLoadError{Path: path, Line: errLine(err), Err: err}
		}
		line, _ := cr.FieldPos(0)
		v, err := parseTimestamp(rec[cols[0]])
		if err != nil {
			return nil, &DataLoadError{Path: path, Line: line, Column: ColTimestamp, Err: err}
		}
		ts = append(ts, v)
	}

	return &TimestampTable{timestamps: ts}, nil
}

// openTable reads the header and resolves the positions of the required columns.
func openTable(r io.Reader, path string, required ...string) (*csv.Reader, []int, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, &DataLoadError{Path: path, Err: errors.New("empty table, header row required")}
	}
	if err != nil {
		return nil, nil, &DataLoadError{Path: path, Line: 1, Err: err}
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	cols := make([]int, len(required))
	for i, name := range required {
		pos, ok := index[name]
		if !ok {
			return nil, nil, &DataLoadError{Path: path, Line: 1, Column: name, Err: errMissingColumn}
		}
		cols[i] = pos
	}

	// The header fixes the field count; later rows must match it.
	cr.FieldsPerRecord = len(header)
	return cr, cols, nil
}

func errLine(err error) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.Line
	}
	return 0
}

func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return v, nil
	}
	// Some exports write integral timestamps as floats ("1.0e9" or "123.0").
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return int64(f), nil
}

func parseCoord(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid coordinate %q", s)
	}
	return v, nil
}
