package fusion

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrEndOfStream is returned by a FrameSource when no more frames decode.
	ErrEndOfStream = errors.New("fusion: end of stream")

	// ErrDetector matches every DetectorError.
	ErrDetector = errors.New("fusion: detector failed")
)

// DetectorError is a per-frame detection failure.
type DetectorError struct {
	FrameIndex int
	Err        error
}

// Error implements the error interface.
func (e *DetectorError) Error() string {
	return fmt.Sprintf("fusion: detector failed on frame %d: %v", e.FrameIndex, e.Err)
}

// Unwrap returns the underlying error.
func (e *DetectorError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDetector.
func (e *DetectorError) Is(target error) bool {
	return target == ErrDetector
}

// FailurePolicy decides what a detector failure does to the run.
type FailurePolicy string

const (
	// PolicySkip logs the failure and processes the frame with no detections.
	PolicySkip FailurePolicy = "skip"

	// PolicyAbort stops the run and returns the failure.
	PolicyAbort FailurePolicy = "abort"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case PolicySkip, PolicyAbort:
		return p, nil
	case "":
		return PolicySkip, nil
	}
	return "", fmt.Errorf("unknown detector failure policy %q", s)
}
