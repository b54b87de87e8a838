// Package metrics exposes Prometheus collectors for the spool and watch
// pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AdrianIt2306/OpenMVS/pkg/framing"
	"github.com/AdrianIt2306/OpenMVS/pkg/transport"
	"github.com/AdrianIt2306/OpenMVS/pkg/watch"
)

const namespace = "openmvs"

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds the pipeline collectors
type Metrics struct {
	// Transport metrics
	dialFailuresTotal *prometheus.CounterVec
	sessionsTotal     *prometheus.CounterVec
	sessionsActive    *prometheus.GaugeVec
	bytesReadTotal    *prometheus.CounterVec

	// Record metrics
	recordsOpenedTotal    prometheus.Counter
	recordsClosedTotal    *prometheus.CounterVec
	recordsAbandonedTotal *prometheus.CounterVec
	recordSizeBytes       prometheus.Histogram
	recordDuration        prometheus.Histogram

	// Console metrics
	linesTotal  prometheus.Counter
	eventsTotal *prometheus.CounterVec

	// Artifacts
	archivesTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		dialFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dial_failures_total",
				Help:      "Failed connection attempts to the emulator",
			},
			[]string{"pipeline", "reason"},
		),

		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Finished connection sessions",
			},
			[]string{"pipeline", "status"},
		),

		sessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Whether a session is currently connected",
			},
			[]string{"pipeline"},
		),

		bytesReadTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_read_total",
				Help:      "Bytes received from the emulator",
			},
			[]string{"pipeline"},
		),

		recordsOpenedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_opened_total",
				Help:      "Start markers seen",
			},
		),

		recordsClosedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_closed_total",
				Help:      "Records written to the sink",
			},
			[]string{"terminated"},
		),

		recordsAbandonedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_abandoned_total",
				Help:      "Records dropped before completion",
			},
			[]string{"reason"},
		),

		recordSizeBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "record_size_bytes",
				Help:      "Body size of closed records",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
		),

		recordDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "record_duration_seconds",
				Help:      "Time from start marker to record close",
				Buckets:   prometheus.DefBuckets,
			},
		),

		linesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "console_lines_total",
				Help:      "Console lines read by the watch pipeline",
			},
		),

		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_events_total",
				Help:      "Job lifecycle events detected on the console",
			},
			[]string{"kind"},
		),

		archivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archives_total",
				Help:      "Archive files finished, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// AddBytes records n bytes read by pipeline
func (m *Metrics) AddBytes(pipeline string, n int) {
	m.bytesReadTotal.WithLabelValues(pipeline).Add(float64(n))
}

// RecordLine records a console line and its event, if any
func (m *Metrics) RecordLine(line watch.Line) {
	m.linesTotal.Inc()
	if line.Event != nil {
		m.eventsTotal.WithLabelValues(line.Event.Kind.String()).Inc()
	}
}

// RecordArchive records a finished archive; kept is false for empty
// sessions whose archive was removed
func (m *Metrics) RecordArchive(kept bool) {
	outcome := "kept"
	if !kept {
		outcome = "discarded"
	}
	m.archivesTotal.WithLabelValues(outcome).Inc()
}

// Transport returns an observer labelled with pipeline
func (m *Metrics) Transport(pipeline string) transport.Observer {
	return &transportObserver{metrics: m, pipeline: pipeline}
}

// Framing returns an observer for record lifecycle metrics
func (m *Metrics) Framing() framing.Observer {
	return framingObserver{metrics: m}
}

type transportObserver struct {
	metrics  *Metrics
	pipeline string
}

func (o *transportObserver) DialFailed(refused bool) {
	reason := "error"
	if refused {
		reason = "refused"
	}
	o.metrics.dialFailuresTotal.WithLabelValues(o.pipeline, reason).Inc()
}

func (o *transportObserver) SessionStarted(*transport.Session) {
	o.metrics.sessionsActive.WithLabelValues(o.pipeline).Set(1)
}

func (o *transportObserver) SessionEnded(_ *transport.Session, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}
	o.metrics.sessionsActive.WithLabelValues(o.pipeline).Set(0)
	o.metrics.sessionsTotal.WithLabelValues(o.pipeline, status).Inc()
}

type framingObserver struct {
	metrics *Metrics
}

func (o framingObserver) RecordOpened(string) {
	o.metrics.recordsOpenedTotal.Inc()
}

func (o framingObserver) RecordClosed(rec framing.Record) {
	terminated := "true"
	if !rec.Terminated {
		terminated = "false"
	}
	o.metrics.recordsClosedTotal.WithLabelValues(terminated).Inc()
	o.metrics.recordSizeBytes.Observe(float64(rec.Bytes))
	o.metrics.recordDuration.Observe(rec.Closed.Sub(rec.Opened).Seconds())
}

func (o framingObserver) RecordAbandoned(_ string, reason framing.AbandonReason) {
	o.metrics.recordsAbandonedTotal.WithLabelValues(string(reason)).Inc()
}
