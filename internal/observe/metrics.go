// Package observe provides application-wide observability primitives for
// soundalert: OpenTelemetry metrics, distributed tracing, trace-aware logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all soundalert metrics.
const meterName = "github.com/MrWong99/soundalert"

// Notification outcomes used with [Metrics.RecordNotification].
const (
	NotificationSent      = "sent"
	NotificationThrottled = "throttled"
	NotificationFailed    = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms per pipeline stage ---

	// CaptureDuration tracks how long one audio capture window takes.
	CaptureDuration metric.Float64Histogram

	// ClassifyDuration tracks classifier inference latency.
	ClassifyDuration metric.Float64Histogram

	// CycleDuration tracks one full monitoring cycle.
	CycleDuration metric.Float64Histogram

	// --- Counters ---

	// Detections counts accepted detections of enabled labels. Use with
	// attributes:
	//   attribute.String("label", ...), attribute.String("tier", ...)
	Detections metric.Int64Counter

	// Notifications counts side-notification decisions. Use with attribute:
	//   attribute.String("status", "sent"|"throttled"|"failed")
	Notifications metric.Int64Counter

	// StageErrors counts pipeline failures. Use with attribute:
	//   attribute.String("stage", ...)
	StageErrors metric.Int64Counter

	// --- Gauges ---

	// MonitorRunning is 1 while the monitoring loop runs and 0 otherwise.
	MonitorRunning metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both millisecond inference calls and multi-second capture windows.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("soundalert.capture.duration",
		metric.WithDescription("Latency of one audio capture window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("soundalert.classify.duration",
		metric.WithDescription("Latency of classifier inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("soundalert.cycle.duration",
		metric.WithDescription("Duration of one monitoring cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Detections, err = m.Int64Counter("soundalert.detections",
		metric.WithDescription("Accepted detections of enabled labels by label and tier."),
	); err != nil {
		return nil, err
	}
	if met.Notifications, err = m.Int64Counter("soundalert.notifications",
		metric.WithDescription("Side-notification decisions by status."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("soundalert.stage.errors",
		metric.WithDescription("Monitoring pipeline errors by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.MonitorRunning, err = m.Int64UpDownCounter("soundalert.monitor.running",
		metric.WithDescription("1 while the monitoring loop is running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("soundalert.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveGauge registers an asynchronous gauge whose value is read from fn at
// every collection, for values owned by another component (e.g. the number of
// live subscribers).
func (m *Metrics) ObserveGauge(name, description string, fn func() int64) error {
	_, err := m.meter.Int64ObservableGauge(name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn())
			return nil
		}),
	)
	return err
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDetection records an accepted detection of an enabled label.
func (m *Metrics) RecordDetection(ctx context.Context, label, tier string) {
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("label", label),
			attribute.String("tier", tier),
		),
	)
}

// RecordNotification records one side-notification outcome.
func (m *Metrics) RecordNotification(ctx context.Context, status string) {
	m.Notifications.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordStageError records a pipeline failure in the named stage.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	m.StageErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
