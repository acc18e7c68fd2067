package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cleaning stage metrics
	RecordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_records_processed_total",
			Help: "Total records pulled from the intake queue",
		},
		[]string{"outcome"}, // outcome: published|rejected|duplicate|error
	)

	RejectionsByStep = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_rejections_total",
			Help: "Total cleaning rejections by step",
		},
		[]string{"step"},
	)

	// Bus metrics
	BusMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_bus_messages_total",
			Help: "Total bus messages by topic and direction",
		},
		[]string{"topic", "direction"}, // direction: published|delivered|acked
	)

	BusRedeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_bus_redeliveries_total",
			Help: "Total messages redelivered after an expired visibility window",
		},
		[]string{"topic", "group"},
	)

	// Archival stage metrics
	ArchiveFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_archive_flushes_total",
			Help: "Total archive flush attempts",
		},
		[]string{"trigger", "status"}, // trigger: size|time|shutdown; status: success|error
	)

	ArchiveRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_archive_records_total",
			Help: "Total records durably archived",
		},
	)

	ArchiveFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulse_archive_flush_duration_seconds",
			Help:    "Archive flush duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	ArchiveBufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_archive_buffer_size",
			Help: "Records currently buffered awaiting flush",
		},
	)

	// Signal stage metrics
	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_signals_emitted_total",
			Help: "Total signals emitted by direction",
		},
		[]string{"direction"}, // direction: BUY|SELL
	)

	SignalWindows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_signal_windows_tracked",
			Help: "Number of instrument keys with a live window",
		},
	)

	// Intake metrics
	IntakeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_intake_queue_depth",
			Help: "Records buffered in the intake queue",
		},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(RecordsProcessed)
	prometheus.MustRegister(RejectionsByStep)
	prometheus.MustRegister(BusMessages)
	prometheus.MustRegister(BusRedeliveries)
	prometheus.MustRegister(ArchiveFlushes)
	prometheus.MustRegister(ArchiveRecords)
	prometheus.MustRegister(ArchiveFlushDuration)
	prometheus.MustRegister(ArchiveBufferSize)
	prometheus.MustRegister(SignalsEmitted)
	prometheus.MustRegister(SignalWindows)
	prometheus.MustRegister(IntakeQueueDepth)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFlush records an archive flush attempt
func RecordFlush(trigger string, records int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	ArchiveFlushes.WithLabelValues(trigger, status).Inc()
	ArchiveFlushDuration.Observe(duration.Seconds())
	if err == nil {
		ArchiveRecords.Add(float64(records))
	}
}
