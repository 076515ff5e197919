// Package telemetry exposes Prometheus metrics for RPC calls.
package telemetry

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/entrhq/notebooklm/pkg/rpc"
)

const namespace = "notebooklm"

// Metrics records RPC outcomes. A nil *Metrics records nothing.
type Metrics struct {
	calls     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	refreshes prometheus.Counter
}

// New registers the RPC metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_calls_total",
				Help:      "Total number of RPC attempts",
			},
			[]string{"rpc_id"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_failures_total",
				Help:      "Failed RPC attempts by error kind",
			},
			[]string{"rpc_id", "kind"},
		),
		retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_retries_total",
				Help:      "Retries scheduled by error kind",
			},
			[]string{"kind"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_seconds",
				Help:      "RPC attempt duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 120},
			},
			[]string{"rpc_id"},
		),
		refreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_refreshes_total",
				Help:      "Credential refreshes triggered by expired authentication",
			},
		),
	}
}

// ObserveCall records one attempt of rpcID that took d and ended with err.
func (m *Metrics) ObserveCall(rpcID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(rpcID).Inc()
	m.duration.WithLabelValues(rpcID).Observe(d.Seconds())
	if err != nil {
		m.failures.WithLabelValues(rpcID, rpc.KindOf(err).String()).Inc()
	}
}

// ObserveRetry records a scheduled retry after err.
func (m *Metrics) ObserveRetry(err error) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(rpc.KindOf(err).String()).Inc()
}

// ObserveRefresh records a credential refresh.
func (m *Metrics) ObserveRefresh() {
	if m == nil {
		return
	}
	m.refreshes.Inc()
}

// Dump writes counters and histogram counts from g as plain "name{labels} value"
// lines, sorted by name.
func Dump(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})

	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value float64
			name := mf.GetName()
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				name += "_count"
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			if _, err := fmt.Fprintf(w, "%s%s %g\n", name, formatLabels(m.GetLabel()), value); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
