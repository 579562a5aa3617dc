package otel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/gameauth"
	"github.com/MrEthical07/gameauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	EventsName          = "gameauth.auth.events"
	DeletionBucketsName = "gameauth.deletion.latency.buckets"
	DeletionCountName   = "gameauth.deletion.latency.count"
	AuditDroppedName    = "gameauth.audit.dropped"
)

// Attribute keys on EventsName and DeletionBucketsName.
const (
	FlowKey  = attribute.Key("flow")
	EventKey = attribute.Key("event")
	LeKey    = attribute.Key("le")
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() gameauth.MetricsSnapshot
	AuditDropped() uint64
}

type eventSeries struct {
	id    gameauth.MetricID
	attrs metric.ObserveOption
}

// OTelExporter observes the engine snapshot once per collection. Every engine
// counter is one series of a single events counter, keyed by flow and event.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	events       metric.Int64ObservableCounter
	series       []eventSeries
	buckets      metric.Int64ObservableGauge
	bucketAttrs  []metric.ObserveOption
	deletions    metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

func NewOTelExporter(meter metric.Meter, engine *gameauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source: source,
		series: make([]eventSeries, 0, len(internaldefs.CounterDefs)),
	}

	var err error
	exporter.events, err = meter.Int64ObservableCounter(EventsName,
		metric.WithDescription("Authentication events by flow and outcome."))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", EventsName, err)
	}
	for _, def := range internaldefs.CounterDefs {
		flow, event := splitCounterName(def.Name)
		exporter.series = append(exporter.series, eventSeries{
			id:    def.ID,
			attrs: metric.WithAttributes(FlowKey.String(flow), EventKey.String(event)),
		})
	}

	exporter.buckets, err = meter.Int64ObservableGauge(DeletionBucketsName,
		metric.WithDescription("Cumulative account deletion latency buckets."),
		metric.WithUnit("{deletion}"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", DeletionBucketsName, err)
	}
	for _, le := range internaldefs.HistogramBoundSuffix {
		exporter.bucketAttrs = append(exporter.bucketAttrs, metric.WithAttributes(LeKey.String(le)))
	}

	exporter.deletions, err = meter.Int64ObservableGauge(DeletionCountName,
		metric.WithDescription("Account deletions timed."))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", DeletionCountName, err)
	}

	exporter.auditDropped, err = meter.Int64ObservableCounter(AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", AuditDroppedName, err)
	}

	exporter.registration, err = meter.RegisterCallback(exporter.observe,
		exporter.events, exporter.buckets, exporter.deletions, exporter.auditDropped)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, s := range e.series {
		observer.ObserveInt64(e.events, int64(snapshot.Counters[s.id]), s.attrs)
	}

	// Latency is optional on the engine; skip the buckets when it is off.
	if raw, ok := snapshot.Histograms[gameauth.MetricDeletionLatency]; ok {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, attrs := range e.bucketAttrs {
			observer.ObserveInt64(e.buckets, int64(cumulative[i]), attrs)
		}
		observer.ObserveInt64(e.deletions, int64(cumulative[len(cumulative)-1]))
	}

	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// splitCounterName turns gameauth_oauth_link_started_total into
// ("oauth", "link_started").
func splitCounterName(name string) (flow, event string) {
	name = strings.TrimSuffix(strings.TrimPrefix(name, "gameauth_"), "_total")
	flow, event, ok := strings.Cut(name, "_")
	if !ok {
		return name, "count"
	}
	return flow, event
}
