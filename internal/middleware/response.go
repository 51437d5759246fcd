package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/logger"
)

// CorrelationHeader заголовок идентификатора корреляции в ответе
const CorrelationHeader = "X-Correlation-ID"

var versionPattern = regexp.MustCompile(`/(v\d+)/`)

// Meta метаданные успешного ответа
type Meta struct {
	Timestamp     string `json:"timestamp"`
	Path          string `json:"path"`
	Method        string `json:"method"`
	CorrelationID string `json:"correlationId,omitempty"`
	Version       string `json:"version,omitempty"`
}

// Envelope конверт успешного ответа
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    Meta        `json:"meta"`
}

// ErrorBody тело ошибки в конверте
type ErrorBody struct {
	Code           errors.ErrorCode `json:"code"`
	Message        string           `json:"message"`
	PreviousResult interface{}      `json:"previousResult,omitempty"`
}

// ErrorEnvelope конверт ответа с ошибкой
type ErrorEnvelope struct {
	Status        bool      `json:"status"`
	StatusCode    int       `json:"statusCode"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     string    `json:"timestamp"`
	Path          string    `json:"path"`
	Error         ErrorBody `json:"error"`
}

// Serve превращает конвейер маршрута в http.Handler.
// Это единственное место, где вид ошибки переводится в HTTP статус
func Serve(endpoint Endpoint, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := invoke(endpoint, r, log)
		if err != nil {
			WriteError(w, r, err, log)
			return
		}
		writeResponse(w, r, resp, log)
	})
}

// invoke вызывает конвейер маршрута; паника становится InternalError,
// чтобы ответ прошел через logging и metrics как обычная ошибка
func invoke(endpoint Endpoint, r *http.Request, log logger.Logger) (resp *Response, err error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if p == http.ErrAbortHandler {
			panic(p)
		}

		log.Error("Panic recovered in HTTP handler",
			logger.CtxField(r.Context()),
			logger.Any("panic", p),
			logger.String("stack_trace", string(debug.Stack())),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path))

		resp, err = nil, errors.Newf(errors.ErrInternal, "panic: %v", p)
	}()

	return endpoint(r)
}

// WriteError пишет конверт ошибки. Не доменная ошибка становится InternalError,
// причина и детали уходят только в журнал
func WriteError(w http.ResponseWriter, r *http.Request, err error, log logger.Logger) {
	domainErr, ok := errors.As(err)
	if !ok {
		domainErr = errors.Wrap(err, errors.ErrInternal, "internal server error")
	}

	status := errors.HTTPStatus(domainErr.Code)
	message := domainErr.Message
	if status >= http.StatusInternalServerError {
		message = "internal server error"
		log.Error("Request failed with internal error",
			logger.CtxField(r.Context()),
			logger.String("code", string(domainErr.Code)),
			logger.String("path", r.URL.Path),
			logger.String("details", domainErr.Details),
			logger.Error(err))
	}

	stateFrom(r.Context()).setError(domainErr.Code)

	body := ErrorEnvelope{
		Status:        false,
		StatusCode:    status,
		CorrelationID: logger.CorrelationID(r.Context()),
		Timestamp:     timestamp(),
		Path:          r.URL.Path,
		Error: ErrorBody{
			Code:    domainErr.Code,
			Message: message,
		},
	}
	if domainErr.Code == errors.ErrDuplicateOperation {
		body.Error.PreviousResult = domainErr.Data
	}

	writeJSON(w, status, body, log)
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *Response, log logger.Logger) {
	if resp == nil {
		resp = &Response{}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	switch data := resp.Data.(type) {
	case []byte:
		writeRaw(w, status, resp.ContentType, data)
		return
	case io.Reader:
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(status)
		if _, err := io.Copy(w, data); err != nil {
			log.Warn("Failed to stream response", logger.CtxField(r.Context()), logger.Error(err))
		}
		return
	case *Envelope, Envelope:
		writeJSON(w, status, data, log)
		return
	}

	if IsExempt(r.URL.Path) {
		writeJSON(w, status, resp.Data, log)
		return
	}

	meta := Meta{
		Timestamp:     timestamp(),
		Path:          r.URL.Path,
		Method:        r.Method,
		CorrelationID: logger.CorrelationID(r.Context()),
	}
	if m := versionPattern.FindStringSubmatch(r.URL.Path); m != nil {
		meta.Version = m[1]
	}

	writeJSON(w, status, &Envelope{Success: true, Data: resp.Data, Meta: meta}, log)
}

func writeRaw(w http.ResponseWriter, status int, contentType string, data []byte) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, log logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode response", logger.Error(err))
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
