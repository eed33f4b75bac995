package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authclient.MetricsSnapshot
	EventHandlerFailures() uint64
}

// Instrument names.
const (
	RequestsName             = "authclient.requests"
	RetriesName              = "authclient.retries"
	RefreshesName            = "authclient.refreshes"
	SessionEndsName          = "authclient.session.ends"
	CredentialStoreErrorName = "authclient.credential_store.errors"
	HandlerFailuresName      = "authclient.event_handler.failures"
	LatencyBucketsName       = "authclient.request.duration.buckets"
	LatencyCountName         = "authclient.request.duration.count"
	RefreshSharedRatioName   = "authclient.refresh.shared_ratio"
	RefreshSuccessRatioName  = "authclient.refresh.success_ratio"
)

type member struct {
	id    authclient.MetricID
	value string
}

// counterGroup folds several client counters into one instrument, told
// apart by a single attribute.
type counterGroup struct {
	name    string
	help    string
	unit    string
	key     string
	members []member
}

var counterGroups = []counterGroup{
	{RequestsName, "Logical requests by final result.", "{request}", "result", []member{
		{authclient.MetricRequestSuccess, "success"},
		{authclient.MetricRequestFailure, "failure"},
	}},
	{RetriesName, "Retry decisions taken after transient failures.", "{retry}", "decision", []member{
		{authclient.MetricRetryScheduled, "scheduled"},
		{authclient.MetricRetryExhausted, "exhausted"},
	}},
	{RefreshesName, "Refresh coordinator outcomes.", "{refresh}", "outcome", []member{
		{authclient.MetricRefreshStarted, "started"},
		{authclient.MetricRefreshSuccess, "rotated"},
		{authclient.MetricRefreshFailure, "failed"},
		{authclient.MetricRefreshNoToken, "no_token"},
		{authclient.MetricRefreshCoalesced, "coalesced"},
		{authclient.MetricRefreshSkippedStale, "already_rotated"},
	}},
	{SessionEndsName, "Sessions ended, by cause.", "{session}", "cause", []member{
		{authclient.MetricForcedLogout, "forced"},
		{authclient.MetricManualLogout, "manual"},
		{authclient.MetricAuthEndpointRejected, "credentials_rejected"},
	}},
	{CredentialStoreErrorName, "Credential backend failures swallowed by the store.", "{error}", "", []member{
		{authclient.MetricCredentialStoreError, ""},
	}},
}

type observedMember struct {
	id   authclient.MetricID
	opts []metric.ObserveOption
}

type observedGroup struct {
	instrument metric.Int64ObservableCounter
	members    []observedMember
}

// Exporter publishes a client's counters as attribute-labelled OTel
// instruments, plus refresh ratios derived from them.
type Exporter struct {
	source       metricsSource
	registration metric.Registration

	groups   []observedGroup
	failures metric.Int64ObservableCounter

	latencyBuckets metric.Int64ObservableGauge
	latencyCount   metric.Int64ObservableGauge
	bucketOpts     []metric.ObserveOption

	sharedRatio  metric.Float64ObservableGauge
	successRatio metric.Float64ObservableGauge
}

// NewExporter registers instruments on meter that read client's snapshot.
func NewExporter(meter metric.Meter, client *authclient.Client) (*Exporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, client)
}

// NewExporterFromSource registers instruments reading from any snapshot source.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var observables []metric.Observable

	for _, g := range counterGroups {
		ins, err := meter.Int64ObservableCounter(g.name, metric.WithDescription(g.help), metric.WithUnit(g.unit))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", g.name, err)
		}
		og := observedGroup{instrument: ins}
		for _, m := range g.members {
			om := observedMember{id: m.id}
			if g.key != "" {
				om.opts = []metric.ObserveOption{metric.WithAttributeSet(attribute.NewSet(attribute.String(g.key, m.value)))}
			}
			og.members = append(og.members, om)
		}
		e.groups = append(e.groups, og)
		observables = append(observables, ins)
	}

	var err error
	if e.failures, err = meter.Int64ObservableCounter(HandlerFailuresName,
		metric.WithDescription(internaldefs.EventHandlerFailuresHelp), metric.WithUnit("{delivery}")); err != nil {
		return nil, fmt.Errorf("create counter %s: %w", HandlerFailuresName, err)
	}
	if e.latencyBuckets, err = meter.Int64ObservableGauge(LatencyBucketsName,
		metric.WithDescription("Cumulative request count at or below each latency bound (le, seconds)."),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", LatencyBucketsName, err)
	}
	if e.latencyCount, err = meter.Int64ObservableGauge(LatencyCountName,
		metric.WithDescription("Requests observed by the latency histogram."), metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", LatencyCountName, err)
	}
	if e.sharedRatio, err = meter.Float64ObservableGauge(RefreshSharedRatioName,
		metric.WithDescription("Share of refresh demand served by joining an in-flight or finished rotation."),
		metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", RefreshSharedRatioName, err)
	}
	if e.successRatio, err = meter.Float64ObservableGauge(RefreshSuccessRatioName,
		metric.WithDescription("Share of refresh calls that rotated credentials."), metric.WithUnit("1")); err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", RefreshSuccessRatioName, err)
	}
	observables = append(observables, e.failures, e.latencyBuckets, e.latencyCount, e.sharedRatio, e.successRatio)

	for _, bound := range internaldefs.HistogramBounds {
		e.bucketOpts = append(e.bucketOpts, metric.WithAttributeSet(attribute.NewSet(attribute.String("le", bound))))
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()

	for _, g := range e.groups {
		for _, m := range g.members {
			o.ObserveInt64(g.instrument, int64(snap.Counters[m.id]), m.opts...)
		}
	}
	o.ObserveInt64(e.failures, int64(e.source.EventHandlerFailures()))

	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[authclient.MetricRequestLatency]))
	for i, opt := range e.bucketOpts {
		o.ObserveInt64(e.latencyBuckets, int64(cumulative[i]), opt)
	}
	o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]))

	o.ObserveFloat64(e.sharedRatio, sharedRatio(snap))
	o.ObserveFloat64(e.successRatio, successRatio(snap))
	return nil
}

// sharedRatio is the fraction of refresh demand that did not cost a refresh
// call: waiters that joined a cycle plus cycles that found credentials
// already rotated.
func sharedRatio(s authclient.MetricsSnapshot) float64 {
	coalesced := s.Counters[authclient.MetricRefreshCoalesced]
	demand := s.Counters[authclient.MetricRefreshStarted] + coalesced
	if demand == 0 {
		return 0
	}
	return float64(coalesced+s.Counters[authclient.MetricRefreshSkippedStale]) / float64(demand)
}

func successRatio(s authclient.MetricsSnapshot) float64 {
	ok := s.Counters[authclient.MetricRefreshSuccess]
	total := ok + s.Counters[authclient.MetricRefreshFailure]
	if total == 0 {
		return 0
	}
	return float64(ok) / float64(total)
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
