package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/metrics"
)

// Metrics считает запросы, длительность и ошибки и открывает span запроса.
// Сбор метрик не влияет на ответ
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			r, state := ensureState(r)
			path := metrics.NormalizePath(r.URL.Path)

			ctx, span := m.Tracer.Start(r.Context(), r.Method+" "+path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.route", path),
				))
			defer span.End()

			start := time.Now()
			wrapped := wrapWriter(w)
			defer func() {
				status := wrapped.statusCode
				// паника уходит к Recovery, но запрос все равно учитывается как 500
				p := recover()
				if p != nil {
					status = http.StatusInternalServerError
					state.setError(errors.ErrInternal)
				}

				m.ObserveRequest(r.Method, r.URL.Path, status, time.Since(start))
				span.SetAttributes(attribute.Int("http.status_code", status))

				if status >= http.StatusBadRequest {
					_, code := state.snapshot()
					if code == "" {
						code = errors.ErrorCode("HTTP_" + strconv.Itoa(status))
					}
					m.ObserveError(r.Method, r.URL.Path, string(code))
					if status >= http.StatusInternalServerError {
						span.SetStatus(codes.Error, string(code))
					}
				}

				if p != nil {
					panic(p)
				}
			}()

			next.ServeHTTP(wrapped, r.WithContext(ctx))
		})
	}
}
