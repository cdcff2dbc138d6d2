package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

const namespace = "ledger"

var histogramBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics 服務的 prometheus 指標
// 使用自己的 Registry，同一個程序內可以建立多份 (測試)
type Metrics struct {
	registry *prometheus.Registry

	transactionsTotal   *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	requestTotal        *prometheus.CounterVec
	requestLatency      *prometheus.HistogramVec
	reportsTotal        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "transactions_total",
			Help:      "Count of processed transactions by kind and outcome",
		}, []string{"kind", "outcome"}),
		transactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "transaction_duration_seconds",
			Help:      "Latency distribution of transaction processing",
			Buckets:   histogramBuckets,
		}, []string{"kind", "outcome"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Count of processed API requests",
		}, []string{"transport", "method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of API handlers",
			Buckets:   histogramBuckets,
		}, []string{"transport", "method", "route", "status"}),
		reportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "report",
			Name:      "generated_total",
			Help:      "Count of generated and exported reports",
		}, []string{"kind", "action"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transactionsTotal,
		m.transactionDuration,
		m.requestTotal,
		m.requestLatency,
		m.reportsTotal,
	)
	return m
}

// ObserveTransaction 實作 usecase.Recorder
func (m *Metrics) ObserveTransaction(kind domain.TransactionKind, outcome string, elapsed time.Duration) {
	labels := prometheus.Labels{"kind": string(kind), "outcome": outcome}
	m.transactionsTotal.With(labels).Inc()
	m.transactionDuration.With(labels).Observe(elapsed.Seconds())
}

// ObserveRequest 紀錄一次 HTTP / gRPC 請求
func (m *Metrics) ObserveRequest(transport, method, route string, status int, elapsed time.Duration) {
	labels := prometheus.Labels{
		"transport": transport,
		"method":    method,
		"route":     route,
		"status":    strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(elapsed.Seconds())
}

// ObserveReport action: generate / export
func (m *Metrics) ObserveReport(kind domain.TransactionKind, action string) {
	m.reportsTotal.With(prometheus.Labels{"kind": string(kind), "action": action}).Inc()
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 測試用
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var _ usecase.Recorder = (*Metrics)(nil)
