package metrics

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Metrics представляет систему метрик
type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsCount     *prometheus.CounterVec
	AuthEvents      *prometheus.CounterVec
	DuplicateOps    *prometheus.CounterVec
	DroppedEvents   prometheus.Counter

	gatherer prometheus.Gatherer

	// OpenTelemetry Tracer
	Tracer trace.Tracer `json:"-"`
}

// NewMetrics создает метрики сервиса и регистрирует их в reg.
// Если reg реализует prometheus.Gatherer, /metrics отдает именно его.
func NewMetrics(serviceName string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: serviceName,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		ErrorsCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total number of failed HTTP requests by error kind",
			},
			[]string{"method", "path", "kind"},
		),
		AuthEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "auth",
				Name:      "events_total",
				Help:      "Signup and login outcomes",
			},
			[]string{"operation", "outcome"},
		),
		DuplicateOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "idempotency",
				Name:      "duplicates_total",
				Help:      "Requests rejected as duplicate operations",
			},
			[]string{"operation"},
		),
		DroppedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Domain events dropped by the async publisher",
			},
		),
		Tracer: otel.Tracer(serviceName),
	}

	reg.MustRegister(
		m.RequestCount,
		m.RequestDuration,
		m.ErrorsCount,
		m.AuthEvents,
		m.DuplicateOps,
		m.DroppedEvents,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}

	return m
}

// NewRegistry создает реестр с коллекторами процесса и Go рантайма
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// GetHandler возвращает HTTP обработчик для эндпоинта /metrics
func (m *Metrics) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest учитывает завершенный HTTP запрос
func (m *Metrics) ObserveRequest(method, path string, status int, duration time.Duration) {
	normalized := NormalizePath(path)
	m.RequestCount.WithLabelValues(method, normalized, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, normalized).Observe(duration.Seconds())
}

// ObserveError учитывает запрос, завершившийся доменной ошибкой
func (m *Metrics) ObserveError(method, path, kind string) {
	m.ErrorsCount.WithLabelValues(method, NormalizePath(path), kind).Inc()
}

// RecordAuth учитывает исход регистрации или входа
func (m *Metrics) RecordAuth(operation, outcome string) {
	m.AuthEvents.WithLabelValues(operation, outcome).Inc()
}

// RecordDuplicate учитывает отклоненную повторную операцию
func (m *Metrics) RecordDuplicate(operation string) {
	m.DuplicateOps.WithLabelValues(operation).Inc()
}

// RecordDroppedEvent учитывает потерянное доменное событие
func (m *Metrics) RecordDroppedEvent() {
	m.DroppedEvents.Inc()
}

var (
	uuidSegment    = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	numericSegment = regexp.MustCompile(`/\d+(/|$)`)
)

// NormalizePath заменяет идентификаторы в пути на :id, чтобы не раздувать кардинальность меток
func NormalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/:id")
	return numericSegment.ReplaceAllString(path, "/:id$1")
}

// InitializeOpenTelemetry устанавливает глобальный провайдер трассировки.
// Экспортер не подключается; возвращается функция остановки провайдера.
func InitializeOpenTelemetry(serviceName, version string, sampleRatio float64) func(context.Context) error {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(sampleRatio))),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		)),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown
}
