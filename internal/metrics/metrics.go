package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 使用独立 registry，测试里可重复创建。
type Metrics struct {
	registry    *prometheus.Registry
	Transitions *prometheus.CounterVec
	Requests    *prometheus.CounterVec
	LatencyMS   *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takeout",
		Subsystem: "order",
		Name:      "transitions_total",
		Help:      "Order lifecycle operations by result.",
	}, []string{"op", "result"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takeout",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "takeout",
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(
		transitions, requests, latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{registry: reg, Transitions: transitions, Requests: requests, LatencyMS: latency}
}

// ObserveTransition nil 安全，未接指标时直接跳过。
func (m *Metrics) ObserveTransition(op, result string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
