package record

import (
	"errors"

	"github.com/teslashibe/go-gaze/pkg/detection"
	"github.com/teslashibe/go-gaze/pkg/fusion"
)

// MultiSink fans every row out to several sinks, in order.
type MultiSink struct {
	sinks []fusion.Sink
}

// Multi combines sinks. Nil sinks are ignored.
func Multi(sinks ...fusion.Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// WriteDetection writes d to every sink and stops at the first error.
func (m *MultiSink) WriteDetection(d detection.Detection) error {
	for _, s := range m.sinks {
		if err := s.WriteDetection(d); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent writes e to every sink and stops at the first error.
func (m *MultiSink) WriteEvent(e fusion.Event) error {
	for _, s := range m.sinks {
		if err := s.WriteEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink, even after a failure.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
