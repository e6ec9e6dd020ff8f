package fusion

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/teslashibe/go-gaze/pkg/fusion"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// metrics are recorded on the global meter provider, a no-op unless the
// process installs one.
type metrics struct {
	frames           metric.Int64Counter
	detections       metric.Int64Counter
	syncMisses       metric.Int64Counter
	detectorFailures metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		out metrics
		err error
	)

	out.frames, err = m.Int64Counter(
		"fusion.frames.processed",
		metric.WithDescription("Frames run through the fusion loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating frames counter: %w", err)
	}

	out.detections, err = m.Int64Counter(
		"fusion.detections",
		metric.WithDescription("Detections emitted, by class"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating detections counter: %w", err)
	}

	out.syncMisses, err = m.Int64Counter(
		"fusion.sync.misses",
		metric.WithDescription("Frames without a synchronized gaze point"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sync misses counter: %w", err)
	}

	out.detectorFailures, err = m.Int64Counter(
		"fusion.detector.failures",
		metric.WithDescription("Frames where the detector returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating detector failures counter: %w", err)
	}

	return &out, nil
}

func (m *metrics) detection(ctx context.Context, class string) {
	m.detections.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}
