package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/logger"
	"AuthPlatform/pkg/ratelimit"
)

// RateLimit ограничивает частоту запросов с одного IP фиксированным окном.
// Ошибка хранилища лимитов пропускает запрос
func RateLimit(limiter ratelimit.RateLimiter, scope string, limit int, window time.Duration, log logger.Logger) Stage {
	return func(next Endpoint) Endpoint {
		return func(r *http.Request) (*Response, error) {
			if limiter == nil || limit <= 0 {
				return next(r)
			}

			exceeded, err := limiter.CheckRateLimit(r.Context(), scope+":"+ClientIP(r), limit, window)
			if err != nil {
				log.Warn("Rate limiter unavailable, request allowed",
					logger.CtxField(r.Context()),
					logger.Error(err))
				return next(r)
			}
			if exceeded {
				return nil, errors.New(errors.ErrTooManyRequests, "too many requests, try again later")
			}

			return next(r)
		}
	}
}

// ClientIP возвращает адрес клиента: первый адрес X-Forwarded-For,
// затем X-Real-IP, затем адрес соединения
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
