package middleware

import (
	"net/http"
	"runtime/debug"

	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/logger"
)

// Recovery обрабатывает паники в обработчиках HTTP и отвечает InternalError
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				log.Error("Panic recovered in HTTP handler",
					logger.String("correlation_id", w.Header().Get(CorrelationHeader)),
					logger.Any("panic", p),
					logger.String("stack_trace", string(debug.Stack())),
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path))

				// recovery стоит снаружи correlation, id берется из заголовка ответа
				if id := w.Header().Get(CorrelationHeader); id != "" {
					r = r.WithContext(logger.WithCorrelationID(r.Context(), id))
				}
				WriteError(w, r, errors.Newf(errors.ErrInternal, "panic: %v", p), log)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
