package stream

import (
	"errors"
	"fmt"
)

// ErrDataLoad is the sentinel matched by every table loading failure.
var ErrDataLoad = errors.New("stream: data load failed")

// DataLoadError describes why an input table could not be loaded.
type DataLoadError struct {
	// Path is the source file, empty when reading from a plain reader.
	Path string

	// Line is the 1-based CSV line, 0 when the failure is not tied to a line.
	Line int

	// Column is the header name involved, if any.
	Column string

	Err error
}

// Error implements the error interface.
func (e *DataLoadError) Error() string {
	src := e.Path
	if src == "" {
		src = "<reader>"
	}
	switch {
	case e.Line > 0 && e.Column != "":
		return fmt.Sprintf("stream: load %s: line %d, column %q: %v", src, e.Line, e.Column, e.Err)
	case e.Column != "":
		return fmt.Sprintf("stream: load %s: column %q: %v", src, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("stream: load %s: line %d: %v", src, e.Line, e.Err)
	default:
		return fmt.Sprintf("stream: load %s: %v", src, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *DataLoadError) Unwrap() error {
	return e.Err
}

// Is reports ErrDataLoad so callers can match any loading failure.
func (e *DataLoadError) Is(target error) bool {
	return target == ErrDataLoad
}

// errMissingColumn is wrapped when a required header is absent.
var errMissingColumn = errors.New("required column missing")
