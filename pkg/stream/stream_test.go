package stream

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadGaze(t *testing.T) {
	in := "section id,recording id,timestamp [ns],gaze x [px],gaze y [px],worn\n" +
		"a,r,90,5.5,5.9,1\n" +
		"a,r,210,50,50,1\n" +
		"a,r,395,60.2,-3.7,1\n"

	table, err := ReadGaze(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGaze: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("Len = %d, want 3", table.Len())
	}
	if !table.Sorted() {
		t.Error("table should be sorted")
	}

	want := []GazeSample{{90, 5.5, 5.9}, {210, 50, 50}, {395, 60.2, -3.7}}
	for i, w := range want {
		if got := table.At(i); got != w {
			t.Errorf("At(%d) = %+v, want %+v", i, got, w)
		}
	}
}

func TestReadGaze_ColumnOrderAndBOM(t *testing.T) {
	in := "\ufeffgaze y [px], gaze x [px] ,timestamp [ns]\n2,1,100\n"

	table, err := ReadGaze(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGaze: %v", err)
	}
	got := table.At(0)
	if got.Timestamp != 100 || got.X != 1 || got.Y != 2 {
		t.Errorf("At(0) = %+v, want {100 1 2}", got)
	}
}

func TestReadGaze_BlankCoordinateIsNaN(t *testing.T) {
	in := "timestamp [ns],gaze x [px],gaze y [px]\n100,,4\n"

	table, err := ReadGaze(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGaze: %v", err)
	}
	s := table.At(0)
	if !math.IsNaN(s.X) {
		t.Errorf("X = %v, want NaN", s.X)
	}
	if s.Valid() {
		t.Error("sample with NaN coordinate should not be valid")
	}
}

func TestReadGaze_Errors(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		column string
	}{
		{"empty", "", ""},
		{"missing x", "timestamp [ns],gaze y [px]\n1,2\n", ColGazeX},
		{"missing timestamp", "gaze x [px],gaze y [px]\n1,2\n", ColTimestamp},
		{"bad timestamp", "timestamp [ns],gaze x [px],gaze y [px]\nabc,1,2\n", ColTimestamp},
		{"fractional timestamp", "timestamp [ns],gaze x [px],gaze y [px]\n1.5,1,2\n", ColTimestamp},
		{"bad coordinate", "timestamp [ns],gaze x [px],gaze y [px]\n1,x,2\n", ColGazeX},
		{"short row", "timestamp [ns],gaze x [px],gaze y [px]\n1,2\n", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadGaze(strings.NewReader(tc.in))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrDataLoad) {
				t.Errorf("error %v should match ErrDataLoad", err)
			}
			var dle *DataLoadError
			if !errors.As(err, &dle) {
				t.Fatalf("error %T should be *DataLoadError", err)
			}
			if dle.Column != tc.column {
				t.Errorf("Column = %q, want %q", dle.Column, tc.column)
			}
		})
	}
}

func TestReadGaze_UnsortedDetected(t *testing.T) {
	in := "timestamp [ns],gaze x [px],gaze y [px]\n200,1,1\n100,2,2\n"

	table, err := ReadGaze(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadGaze: %v", err)
	}
	if table.Sorted() {
		t.Error("table should be reported unsorted")
	}
}

func TestReadFrameTimestamps(t *testing.T) {
	in := "section id,timestamp [ns]\ns,100\ns,200\ns,400\n"

	table, err := ReadFrameTimestamps(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadFrameTimestamps: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("Len = %d, want 3", table.Len())
	}
	if got := table.At(2); got.FrameIndex != 2 || got.Timestamp != 400 {
		t.Errorf("At(2) = %+v", got)
	}
	if ts, ok := table.Lookup(1); !ok || ts != 200 {
		t.Errorf("Lookup(1) = %d, %v", ts, ok)
	}
	if _, ok := table.Lookup(3); ok {
		t.Error("Lookup past the end should fail")
	}
	if _, ok := table.Lookup(-1); ok {
		t.Error("Lookup(-1) should fail")
	}
}

func TestReadFrameTimestamps_FloatIntegral(t *testing.T) {
	table, err := ReadFrameTimestamps(strings.NewReader("timestamp [ns]\n1.0e9\n"))
	if err != nil {
		t.Fatalf("ReadFrameTimestamps: %v", err)
	}
	if ts, _ := table.Lookup(0); ts != 1_000_000_000 {
		t.Errorf("timestamp = %d, want 1e9", ts)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	gazePath := filepath.Join(dir, "gaze.csv")
	tsPath := filepath.Join(dir, "world_timestamps.csv")

	if err := os.WriteFile(gazePath, []byte("timestamp [ns],gaze x [px],gaze y [px]\n1,2,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tsPath, []byte("timestamp [ns]\n5\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := LoadGaze(gazePath)
	if err != nil || g.Len() != 1 {
		t.Fatalf("LoadGaze = %v, %v", g, err)
	}
	ts, err := LoadFrameTimestamps(tsPath)
	if err != nil || ts.Len() != 1 {
		t.Fatalf("LoadFrameTimestamps = %v, %v", ts, err)
	}

	_, err = LoadGaze(filepath.Join(dir, "missing.csv"))
	var dle *DataLoadError
	if !errors.As(err, &dle) || dle.Path == "" {
		t.Errorf("missing file error = %v, want DataLoadError with path", err)
	}
}

func TestNewGazeTable_CopiesInput(t *testing.T) {
	in := []GazeSample{{Timestamp: 1, X: 1, Y: 1}}
	table := NewGazeTable(in)
	in[0].X = 99

	if table.At(0).X != 1 {
		t.Error("table must not alias the caller's slice")
	}

	out := table.Samples()
	out[0].X = 42
	if table.At(0).X != 1 {
		t.Error("Samples must return a copy")
	}
}
