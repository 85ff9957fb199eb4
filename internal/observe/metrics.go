// Package observe provides application-wide observability primitives for
// Lifeline: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping via [InitProvider]. A package-level [DefaultMetrics]
// instance is provided for convenience; tests should use [NewMetrics] with
// their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lifeline metrics.
const meterName = "github.com/MrWong99/lifeline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- SOS engine ---

	// Activations counts accepted activations. Attribute: source.
	Activations metric.Int64Counter

	// Cancellations counts successful cancellations.
	Cancellations metric.Int64Counter

	// Dispatches counts per-contact text dispatches. Attribute: status.
	Dispatches metric.Int64Counter

	// Calls counts emergency call attempts. Attribute: status.
	Calls metric.Int64Counter

	// ActiveSessions is 1 while an alert is in flight.
	ActiveSessions metric.Int64UpDownCounter

	// CountdownTicks counts countdown ticks.
	CountdownTicks metric.Int64Counter

	// LocationDuration tracks location lookup latency. Attribute: status.
	LocationDuration metric.Float64Histogram

	// --- Trigger listener ---

	// TriggerMatches counts recognised trigger phrases. Attribute: phrase.
	TriggerMatches metric.Int64Counter

	// TriggerRestarts counts recognition restarts. Attribute: reason.
	TriggerRestarts metric.Int64Counter

	// --- Providers ---

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram bucket boundaries (in seconds) sized for
// network lookups that may take several seconds on a cold GPS.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Activations, err = m.Int64Counter("lifeline.sos.activations",
		metric.WithDescription("Accepted SOS activations by source."),
	); err != nil {
		return nil, err
	}
	if met.Cancellations, err = m.Int64Counter("lifeline.sos.cancellations",
		metric.WithDescription("SOS alerts cancelled before the emergency call."),
	); err != nil {
		return nil, err
	}
	if met.Dispatches, err = m.Int64Counter("lifeline.sos.dispatches",
		metric.WithDescription("Per-contact alert texts by status."),
	); err != nil {
		return nil, err
	}
	if met.Calls, err = m.Int64Counter("lifeline.sos.calls",
		metric.WithDescription("Emergency call attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lifeline.sos.active",
		metric.WithDescription("Number of SOS alerts in flight."),
	); err != nil {
		return nil, err
	}
	if met.CountdownTicks, err = m.Int64Counter("lifeline.sos.countdown_ticks",
		metric.WithDescription("Countdown ticks published before emergency calls."),
	); err != nil {
		return nil, err
	}
	if met.LocationDuration, err = m.Float64Histogram("lifeline.location.duration",
		metric.WithDescription("Latency of one-shot location lookups."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TriggerMatches, err = m.Int64Counter("lifeline.trigger.matches",
		metric.WithDescription("Recognised trigger phrases by phrase."),
	); err != nil {
		return nil, err
	}
	if met.TriggerRestarts, err = m.Int64Counter("lifeline.trigger.restarts",
		metric.WithDescription("Speech recognition restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("lifeline.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("lifeline.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordActivation counts an accepted activation.
func (m *Metrics) RecordActivation(ctx context.Context, source string) {
	m.Activations.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionEnd marks the in-flight alert as finished. cancelled is true
// when it ended through a cancellation.
func (m *Metrics) RecordSessionEnd(ctx context.Context, cancelled bool) {
	if cancelled {
		m.Cancellations.Add(ctx, 1)
	}
	m.ActiveSessions.Add(ctx, -1)
}

// RecordDispatch counts one per-contact text.
func (m *Metrics) RecordDispatch(ctx context.Context, err error) {
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(Attr("status", statusOf(err))))
}

// RecordCall counts one emergency call attempt.
func (m *Metrics) RecordCall(ctx context.Context, err error) {
	m.Calls.Add(ctx, 1, metric.WithAttributes(Attr("status", statusOf(err))))
}

// RecordLocation records a location lookup. available is false when the
// alert fell back to the unavailable marker.
func (m *Metrics) RecordLocation(ctx context.Context, d time.Duration, available bool) {
	status := "ok"
	if !available {
		status = "unavailable"
	}
	m.LocationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordTriggerMatch counts a recognised trigger phrase.
func (m *Metrics) RecordTriggerMatch(ctx context.Context, phrase string) {
	m.TriggerMatches.Add(ctx, 1, metric.WithAttributes(Attr("phrase", phrase)))
}

// RecordTriggerRestart counts a recognition restart.
func (m *Metrics) RecordTriggerRestart(ctx context.Context, reason string) {
	m.TriggerRestarts.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordProviderError counts a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
