// Package middleware содержит конвейер обработки запроса:
// HTTP обертки (recovery, correlation, logging, metrics) и стадии маршрута
// (rate limit, аутентификация, роли, идемпотентность), которые возвращают
// доменные ошибки вместо записи ответа.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"AuthPlatform/internal/domain"
	"AuthPlatform/pkg/errors"
)

// Response результат обработчика маршрута
type Response struct {
	Status      int
	Data        interface{}
	ContentType string
}

// OK ответ 200 с полезной нагрузкой
func OK(data interface{}) *Response {
	return &Response{Status: http.StatusOK, Data: data}
}

// Created ответ 201 с полезной нагрузкой
func Created(data interface{}) *Response {
	return &Response{Status: http.StatusCreated, Data: data}
}

// Endpoint обработчик маршрута. Ошибку в ответ превращает только Serve
type Endpoint func(r *http.Request) (*Response, error)

// Stage оборачивает Endpoint
type Stage func(next Endpoint) Endpoint

// Chain применяет стадии так, что первая выполняется первой
func Chain(endpoint Endpoint, stages ...Stage) Endpoint {
	for i := len(stages) - 1; i >= 0; i-- {
		endpoint = stages[i](endpoint)
	}
	return endpoint
}

// exemptPrefixes пути без конверта ответа и без журнала запросов
var exemptPrefixes = []string{"/health", "/metrics", "/docs"}

// IsExempt сообщает, что путь служебный
func IsExempt(path string) bool {
	for _, prefix := range exemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

type principalKey struct{}
type idempotencyKey struct{}
type stateKey struct{}

// WithPrincipal сохраняет принципала запроса в контексте
func WithPrincipal(ctx context.Context, principal *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom возвращает принципала запроса или nil
func PrincipalFrom(ctx context.Context) *domain.Principal {
	principal, _ := ctx.Value(principalKey{}).(*domain.Principal)
	return principal
}

// IdempotencyKeyFrom возвращает ключ журнала для текущей операции
func IdempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// requestState общее состояние запроса для внешних оберток:
// стадии маршрута работают с копиями запроса, поэтому итог пишется сюда
type requestState struct {
	mu      sync.Mutex
	userID  string
	errCode errors.ErrorCode
}

func ensureState(r *http.Request) (*http.Request, *requestState) {
	if state := stateFrom(r.Context()); state != nil {
		return r, state
	}
	state := &requestState{}
	return r.WithContext(context.WithValue(r.Context(), stateKey{}, state)), state
}

func stateFrom(ctx context.Context) *requestState {
	state, _ := ctx.Value(stateKey{}).(*requestState)
	return state
}

func (s *requestState) setUser(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

func (s *requestState) setError(code errors.ErrorCode) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.errCode = code
	s.mu.Unlock()
}

func (s *requestState) snapshot() (string, errors.ErrorCode) {
	if s == nil {
		return "", ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.errCode
}

// responseWriter обертка для перехвата статуса ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func wrapWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader перехватывает установку статуса
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write отмечает неявный статус 200
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap дает http.ResponseController доступ к исходному writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
