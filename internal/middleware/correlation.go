package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"AuthPlatform/pkg/logger"
	"AuthPlatform/pkg/validation"
)

// correlationHeaders заголовки-кандидаты в порядке приоритета
var correlationHeaders = []string{"X-Correlation-ID", "X-Request-ID", "X-Trace-ID"}

// Correlation назначает запросу идентификатор корреляции.
// Берется первый присутствующий заголовок; если его значение не UUID,
// генерируется новый идентификатор
func Correlation() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolveCorrelationID(r)

			w.Header().Set(CorrelationHeader, id)
			r = r.WithContext(logger.WithCorrelationID(r.Context(), id))

			next.ServeHTTP(w, r)
		})
	}
}

func resolveCorrelationID(r *http.Request) string {
	for _, header := range correlationHeaders {
		candidate := r.Header.Get(header)
		if candidate == "" {
			continue
		}
		if validation.IsUUID(candidate) {
			return candidate
		}
		break
	}
	return uuid.NewString()
}
