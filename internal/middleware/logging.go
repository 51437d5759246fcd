package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/logger"
)

// SlowRequestThreshold порог медленного запроса
const SlowRequestThreshold = time.Second

const maxLoggedBody = 64 << 10

// Logging журналирует запросы. В prod пишутся только медленные и
// завершившиеся ошибкой запросы; служебные пути не журналируются
func Logging(log logger.Logger, environment string) func(http.Handler) http.Handler {
	verbose := environment != "prod"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			r, state := ensureState(r)
			fields := []logger.Field{
				logger.CtxField(r.Context()),
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.String("ip", ClientIP(r)),
				logger.String("user_agent", r.UserAgent()),
			}

			if verbose {
				incoming := fields
				if keys := bodyKeys(r); len(keys) > 0 {
					incoming = append(incoming[:len(incoming):len(incoming)], logger.Strings("body_keys", keys))
				}
				log.Info("Incoming request", incoming...)
			}

			start := time.Now()
			wrapped := wrapWriter(w)
			defer func() {
				status := wrapped.statusCode
				p := recover()
				if p != nil {
					status = http.StatusInternalServerError
					state.setError(errors.ErrInternal)
				}
				duration := time.Since(start)

				userID, code := state.snapshot()
				fields = append(fields,
					logger.Int("status_code", status),
					logger.Int64("duration_ms", duration.Milliseconds()),
					logger.String("user_id", userID))
				if code != "" {
					fields = append(fields, logger.String("error_code", string(code)))
				}

				slow := duration >= SlowRequestThreshold
				switch {
				case status >= http.StatusInternalServerError:
					log.Error("Request failed", fields...)
				case status >= http.StatusBadRequest:
					log.Warn("Request failed", fields...)
				case slow:
					log.Warn("Slow request", fields...)
				case verbose:
					log.Info("Request completed", fields...)
				}

				if p != nil {
					panic(p)
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

// bodyKeys возвращает несекретные ключи JSON тела; тело остается доступным обработчику
func bodyKeys(r *http.Request) []string {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), r.Body), r.Body}
	if err != nil || len(data) > maxLoggedBody {
		return nil
	}

	var body map[string]interface{}
	if json.Unmarshal(data, &body) != nil {
		return nil
	}
	return logger.SafeKeys(body)
}
