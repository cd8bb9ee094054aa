// v1
// internal/observability/metrics.go
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	fetchTotal        *prometheus.CounterVec
	cycleTotal        *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	seriesLength      prometheus.Gauge
	anomalyCount      prometheus.Gauge
	noticesTotal      *prometheus.CounterVec
	wsClients         prometheus.Gauge
	cbState           *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_fetch_total",
			Help: "Total upstream fetches by result.",
		}, []string{"result"}),
		cycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_cycles_total",
			Help: "Total refresh cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_cycle_duration_seconds",
			Help:    "Histogram of full fetch-normalize-detect cycle durations.",
			Buckets: prometheus.DefBuckets,
		}),
		seriesLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "series_samples",
			Help: "Sample count of the currently published series.",
		}),
		anomalyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "series_anomalies",
			Help: "Anomaly count of the currently published series.",
		}),
		noticesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notices_total",
			Help: "Total user-facing notices recorded by kind.",
		}, []string{"kind"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Currently connected dashboard stream clients.",
		}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 open, 2 half-open).",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.fetchTotal,
		m.cycleTotal,
		m.cycleDuration,
		m.seriesLength,
		m.anomalyCount,
		m.noticesTotal,
		m.wsClients,
		m.cbState,
	)

	m.cbState.WithLabelValues("atmos").Set(0)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Fetch(result string) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Cycle(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleTotal.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Metrics) Published(samples, anomalies int) {
	if m == nil {
		return
	}
	m.seriesLength.Set(float64(samples))
	m.anomalyCount.Set(float64(anomalies))
}

func (m *Metrics) Notice(kind string) {
	if m == nil {
		return
	}
	m.noticesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) StreamClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) StreamClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

func (m *Metrics) SetCircuitBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(state)
}
