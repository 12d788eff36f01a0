package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "windpark_"

	// ResultSuccess labels a successful operation.
	ResultSuccess = "success"
	// ResultError labels a failed operation.
	ResultError = "error"
)

var (
	registerOnce sync.Once

	settlementCalculateTotal   *prometheus.CounterVec
	settlementCalculateLatency *prometheus.HistogramVec

	invoiceRunTotal   *prometheus.CounterVec
	invoiceRunLatency *prometheus.HistogramVec
	invoicesCreated   prometheus.Counter

	settlementExportTotal   *prometheus.CounterVec
	settlementExportLatency *prometheus.HistogramVec

	bridgeRequestTotal   *prometheus.CounterVec
	bridgeRequestLatency *prometheus.HistogramVec

	outboxPublishTotal    *prometheus.CounterVec
	outboxPublishLatency  *prometheus.HistogramVec
	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency *prometheus.HistogramVec
	outboxDispatchedSent  prometheus.Counter
	outboxDispatchFailed  prometheus.Counter
	outboxDispatchDLQ     prometheus.Counter

	consumerLag *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		settlementCalculateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_calculate_total",
				Help: "Total settlement calculation runs by result",
			},
			[]string{"result"},
		)
		settlementCalculateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_calculate_latency_seconds",
				Help:    "Settlement calculation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		invoiceRunTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_run_total",
				Help: "Total invoice creation runs by result",
			},
			[]string{"result"},
		)
		invoiceRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_run_latency_seconds",
				Help:    "Invoice creation run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		invoicesCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoices_created_total",
				Help: "Total invoices created through the bridge",
			},
		)

		settlementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_export_total",
				Help: "Total settlement export operations by format and result",
			},
			[]string{"format", "result"},
		)
		settlementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_export_latency_seconds",
				Help:    "Settlement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		bridgeRequestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_bridge_requests_total",
				Help: "Total invoice bridge requests by result",
			},
			[]string{"result"},
		)
		bridgeRequestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_bridge_latency_seconds",
				Help:    "Invoice bridge request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		outboxPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_outbox_publish_total",
				Help: "Total outbox publish operations by result",
			},
			[]string{"result"},
		)
		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "event_outbox_publish_latency_seconds",
				Help:    "Outbox publish latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_outbox_dispatch_total",
				Help: "Total outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "event_outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchedSent = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_outbox_dispatched_total",
				Help: "Total outbox events delivered to the bus",
			},
		)
		outboxDispatchFailed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_outbox_dispatch_failed_total",
				Help: "Total outbox events that failed delivery",
			},
		)
		outboxDispatchDLQ = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_outbox_dlq_total",
				Help: "Total outbox events moved to the dead letter queue",
			},
		)

		consumerLag = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "event_consumer_lag_seconds",
				Help:    "Delay between event occurrence and consumer handling",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 60, 300},
			},
			[]string{"consumer"},
		)

		prometheus.MustRegister(
			settlementCalculateTotal,
			settlementCalculateLatency,
			invoiceRunTotal,
			invoiceRunLatency,
			invoicesCreated,
			settlementExportTotal,
			settlementExportLatency,
			bridgeRequestTotal,
			bridgeRequestLatency,
			outboxPublishTotal,
			outboxPublishLatency,
			outboxDispatchTotal,
			outboxDispatchLatency,
			outboxDispatchedSent,
			outboxDispatchFailed,
			outboxDispatchDLQ,
			consumerLag,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveSettlementCalculate records one calculation run.
func ObserveSettlementCalculate(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if settlementCalculateTotal != nil {
		settlementCalculateTotal.WithLabelValues(result).Inc()
	}
	if settlementCalculateLatency != nil {
		settlementCalculateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveInvoiceRun records one invoice creation run.
func ObserveInvoiceRun(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if invoiceRunTotal != nil {
		invoiceRunTotal.WithLabelValues(result).Inc()
	}
	if invoiceRunLatency != nil {
		invoiceRunLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncInvoiceCreated increments the created invoice counter.
func IncInvoiceCreated() {
	if invoicesCreated != nil {
		invoicesCreated.Inc()
	}
}

// ObserveSettlementExport records one export operation.
func ObserveSettlementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if settlementExportTotal != nil {
		settlementExportTotal.WithLabelValues(format, result).Inc()
	}
	if settlementExportLatency != nil {
		settlementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveOutboxPublish records one outbox publish attempt.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if outboxPublishTotal != nil {
		outboxPublishTotal.WithLabelValues(result).Inc()
	}
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveOutboxDispatch records one outbox dispatch run.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = ResultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if outboxDispatchedSent != nil && sent > 0 {
		outboxDispatchedSent.Add(float64(sent))
	}
	if outboxDispatchFailed != nil && failed > 0 {
		outboxDispatchFailed.Add(float64(failed))
	}
	if outboxDispatchDLQ != nil && dlq > 0 {
		outboxDispatchDLQ.Add(float64(dlq))
	}
}

// ObserveConsumerLag records the age of an event when a consumer handles it.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" || lag < 0 {
		return
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Observe(lag.Seconds())
	}
}

// ObserveBridgeRequest records one invoice bridge HTTP request.
func ObserveBridgeRequest(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if bridgeRequestTotal != nil {
		bridgeRequestTotal.WithLabelValues(result).Inc()
	}
	if bridgeRequestLatency != nil {
		bridgeRequestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}
