package middleware

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"AuthPlatform/internal/domain"
	"AuthPlatform/pkg/errors"
	"AuthPlatform/pkg/logger"
	"AuthPlatform/pkg/metrics"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var body ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func serve(endpoint Endpoint, stages ...Stage) http.Handler {
	return Correlation()(Serve(Chain(endpoint, stages...), logger.NewNop()))
}

func okEndpoint(r *http.Request) (*Response, error) {
	return OK(map[string]string{"message": "ok"}), nil
}

func TestCorrelation(t *testing.T) {
	valid := "5b1c2b5e-1e3b-4a4e-9a0e-2f3c4d5e6f70"

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"primary header", map[string]string{"X-Correlation-ID": valid}, valid},
		{"request id fallback", map[string]string{"X-Request-ID": valid}, valid},
		{"trace id fallback", map[string]string{"X-Trace-ID": valid}, valid},
		{"primary wins", map[string]string{"X-Correlation-ID": valid, "X-Request-ID": uuid.NewString()}, valid},
		{"malformed", map[string]string{"X-Correlation-ID": "not-a-uuid"}, ""},
		{"malformed primary is not skipped", map[string]string{"X-Correlation-ID": "bad", "X-Request-ID": valid}, ""},
		{"absent", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := Correlation()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.CorrelationID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/user", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get(CorrelationHeader)
			assert.Equal(t, got, seen)
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
				return
			}
			assert.Len(t, got, 36)
			assert.NotEqual(t, valid, got)
			_, err := uuid.Parse(got)
			assert.NoError(t, err)
		})
	}
}

func TestServe_SuccessEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/things/", nil)
	req.Header.Set("X-Correlation-ID", "5b1c2b5e-1e3b-4a4e-9a0e-2f3c4d5e6f70")

	serve(func(r *http.Request) (*Response, error) {
		return Created(map[string]string{"message": "created"}), nil
	}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
		Meta    Meta              `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Equal(t, "created", body.Data["message"])
	assert.Equal(t, "/v1/things/", body.Meta.Path)
	assert.Equal(t, http.MethodPost, body.Meta.Method)
	assert.Equal(t, "v1", body.Meta.Version)
	assert.Equal(t, "5b1c2b5e-1e3b-4a4e-9a0e-2f3c4d5e6f70", body.Meta.CorrelationID)
	assert.NotEmpty(t, body.Meta.Timestamp)
}

func TestServe_PassThrough(t *testing.T) {
	t.Run("exempt path", func(t *testing.T) {
		w := httptest.NewRecorder()
		serve(func(r *http.Request) (*Response, error) {
			return OK(map[string]string{"status": "healthy"}), nil
		}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
	})

	t.Run("already enveloped", func(t *testing.T) {
		w := httptest.NewRecorder()
		serve(func(r *http.Request) (*Response, error) {
			return OK(&Envelope{Success: true, Data: 1, Meta: Meta{Path: "/x"}}), nil
		}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user", nil))

		var body Envelope
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "/x", body.Meta.Path)
	})

	t.Run("binary", func(t *testing.T) {
		w := httptest.NewRecorder()
		serve(func(r *http.Request) (*Response, error) {
			return &Response{Data: []byte{0x1, 0x2}, ContentType: "application/pdf"}, nil
		}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user", nil))

		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.Equal(t, []byte{0x1, 0x2}, w.Body.Bytes())
	})

	t.Run("stream", func(t *testing.T) {
		w := httptest.NewRecorder()
		serve(func(r *http.Request) (*Response, error) {
			return &Response{Data: strings.NewReader("a,b\n"), ContentType: "text/csv"}, nil
		}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user", nil))

		assert.Equal(t, "a,b\n", w.Body.String())
	})
}

func TestServe_ErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   errors.ErrorCode
	}{
		{errors.New(errors.ErrAuthNotFound, "credential not found"), http.StatusNotFound, errors.ErrAuthNotFound},
		{errors.New(errors.ErrInvalidCredentials, "bad"), http.StatusUnauthorized, errors.ErrInvalidCredentials},
		{errors.New(errors.ErrEmailAlreadyExists, "dup"), http.StatusConflict, errors.ErrEmailAlreadyExists},
		{errors.New(errors.ErrUserCreationFailed, "fail"), http.StatusConflict, errors.ErrUserCreationFailed},
		{errors.New(errors.ErrForbidden, "no"), http.StatusForbidden, errors.ErrForbidden},
		{errors.New(errors.ErrWeakPassword, "weak"), http.StatusBadRequest, errors.ErrWeakPassword},
		{errors.New("SomethingNew", "?"), http.StatusBadRequest, "SomethingNew"},
		{stderrors.New("pq: connection reset"), http.StatusInternalServerError, errors.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.wantCode), func(t *testing.T) {
			w := httptest.NewRecorder()
			serve(func(r *http.Request) (*Response, error) {
				return nil, tt.err
			}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeError(t, w)
			assert.False(t, body.Status)
			assert.Equal(t, tt.wantStatus, body.StatusCode)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, "/user", body.Path)
			assert.Equal(t, w.Header().Get(CorrelationHeader), body.CorrelationID)
			assert.NotContains(t, w.Body.String(), "pq:")
		})
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(logger.NewNop())(Correlation()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, errors.ErrInternal, body.Error.Code)
	assert.Equal(t, "internal server error", body.Error.Message)
	assert.Equal(t, w.Header().Get(CorrelationHeader), body.CorrelationID)
}

type stubResolver struct {
	principal *domain.Principal
	err       error
	tokens    []string
}

func (s *stubResolver) LookupIdentity(ctx context.Context, token string) (*domain.Principal, error) {
	s.tokens = append(s.tokens, token)
	return s.principal, s.err
}

func TestAuthenticate(t *testing.T) {
	principal := &domain.Principal{ID: "user-1", AuthID: "auth-1", Role: domain.RoleUser}

	tests := []struct {
		name       string
		header     string
		resolver   *stubResolver
		wantStatus int
	}{
		{"missing header", "", &stubResolver{principal: principal}, http.StatusUnauthorized},
		{"wrong scheme case", "bearer abc", &stubResolver{principal: principal}, http.StatusUnauthorized},
		{"basic scheme", "Basic abc", &stubResolver{principal: principal}, http.StatusUnauthorized},
		{"empty token", "Bearer ", &stubResolver{principal: principal}, http.StatusUnauthorized},
		{"lookup fails", "Bearer abc", &stubResolver{err: errors.New(errors.ErrInvalidToken, "invalid token")}, http.StatusUnauthorized},
		{"credential gone", "Bearer abc", &stubResolver{err: errors.New(errors.ErrAuthNotFound, "credential not found")}, http.StatusUnauthorized},
		{"valid", "Bearer abc", &stubResolver{principal: principal}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *domain.Principal
			endpoint := func(r *http.Request) (*Response, error) {
				got = PrincipalFrom(r.Context())
				return OK(nil), nil
			}

			req := httptest.NewRequest(http.MethodGet, "/user/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			serve(endpoint, Authenticate(tt.resolver)).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, principal, got)
				assert.Equal(t, []string{"abc"}, tt.resolver.tokens)
				return
			}
			assert.Equal(t, errors.ErrUnauthorized, decodeError(t, w).Error.Code)
		})
	}
}

func TestRequireRoles(t *testing.T) {
	tests := []struct {
		name       string
		role       domain.Role
		roles      []domain.Role
		wantStatus int
	}{
		{"user on admin route", domain.RoleUser, []domain.Role{domain.RoleAdmin}, http.StatusForbidden},
		{"admin on admin route", domain.RoleAdmin, []domain.Role{domain.RoleAdmin}, http.StatusOK},
		{"no requirement", domain.RoleUser, nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &stubResolver{principal: &domain.Principal{ID: "u", AuthID: "a", Role: tt.role}}
			req := httptest.NewRequest(http.MethodGet, "/user", nil)
			req.Header.Set("Authorization", "Bearer t")
			w := httptest.NewRecorder()

			serve(okEndpoint, Authenticate(resolver), RequireRoles(tt.roles...)).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	t.Run("no principal", func(t *testing.T) {
		w := httptest.NewRecorder()
		serve(okEndpoint, RequireRoles(domain.RoleAdmin)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

// fakeLedger журнал в памяти без TTL
type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]*fakeEntry
}

type fakeEntry struct {
	done   bool
	result json.RawMessage
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]*fakeEntry)}
}

func (l *fakeLedger) GenerateKey(principalID, operation, token string) string {
	if principalID == "" {
		principalID = "anonymous"
	}
	return principalID + "|" + operation + "|" + token
}

func (l *fakeLedger) Reserve(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; ok {
		return false, nil
	}
	l.entries[key] = &fakeEntry{}
	return true, nil
}

func (l *fakeLedger) GetProcessedResult(ctx context.Context, key string) (json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.result, nil
	}
	return nil, nil
}

func (l *fakeLedger) MarkAsProcessed(ctx context.Context, key string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = &fakeEntry{done: true, result: data}
	return nil
}

func (l *fakeLedger) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok && !e.done {
		delete(l.entries, key)
	}
	return nil
}

func TestIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	m := metrics.NewMetrics("test_service", metrics.NewRegistry())
	resolver := &stubResolver{principal: &domain.Principal{ID: "admin-1", Role: domain.RoleAdmin}}

	calls := 0
	endpoint := func(r *http.Request) (*Response, error) {
		calls++
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.NotEmpty(t, IdempotencyKeyFrom(r.Context()))
		return OK(map[string]string{"role": body["role"]}), nil
	}
	handler := serve(endpoint, Authenticate(resolver), Idempotent(ledger, "change-user-role", m, logger.NewNop()))

	send := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/user/x/role", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer t")
		if key != "" {
			req.Header.Set(IdempotencyHeader, key)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	w := send("", `{"role":"ADMIN"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errors.ErrIdempotencyKey, decodeError(t, w).Error.Code)
	assert.Equal(t, 0, calls)

	w = send("k1", `{"role":"ADMIN"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)

	// другое тело с тем же ключом не выполняет обработчик повторно
	w = send("k1", `{"role":"USER"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, calls)

	var body struct {
		Error struct {
			Code           errors.ErrorCode  `json:"code"`
			PreviousResult map[string]string `json:"previousResult"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, errors.ErrDuplicateOperation, body.Error.Code)
	assert.Equal(t, "ADMIN", body.Error.PreviousResult["role"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DuplicateOps.WithLabelValues("change-user-role")))

	w = send("k2", `{"role":"USER"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotent_FailureReleasesKey(t *testing.T) {
	ledger := newFakeLedger()
	fail := true
	endpoint := func(r *http.Request) (*Response, error) {
		if fail {
			return nil, errors.New(errors.ErrValidation, "bad role")
		}
		return OK("done"), nil
	}
	handler := serve(endpoint, Idempotent(ledger, "op", nil, logger.NewNop()))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/op", nil)
		req.Header.Set(IdempotencyHeader, "k")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusBadRequest, send())
	fail = false
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusConflict, send())
}

// cancelAwareLedger отказывает, если контекст уже отменен, как сетевой клиент Redis
type cancelAwareLedger struct {
	*fakeLedger
}

func (l cancelAwareLedger) MarkAsProcessed(ctx context.Context, key string, result interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.fakeLedger.MarkAsProcessed(ctx, key, result)
}

func (l cancelAwareLedger) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.fakeLedger.Release(ctx, key)
}

func TestIdempotent_ClientDisconnect(t *testing.T) {
	ledger := cancelAwareLedger{newFakeLedger()}
	fail := true
	var cancel context.CancelFunc
	endpoint := func(r *http.Request) (*Response, error) {
		cancel()
		if fail {
			return nil, errors.New(errors.ErrValidation, "bad role")
		}
		return OK(map[string]string{"role": "ADMIN"}), nil
	}
	handler := serve(endpoint, Idempotent(ledger, "op", nil, logger.NewNop()))

	send := func() *httptest.ResponseRecorder {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		req := httptest.NewRequest(http.MethodPost, "/op", nil).WithContext(ctx)
		req.Header.Set(IdempotencyHeader, "k")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	// ошибка после отключения клиента все равно снимает резерв
	assert.Equal(t, http.StatusBadRequest, send().Code)

	// успех после отключения клиента все равно сохраняет результат
	fail = false
	assert.Equal(t, http.StatusOK, send().Code)

	w := send()
	require.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"role":"ADMIN"}`, string(mustJSON(t, decodeError(t, w).Error.PreviousResult)))
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

type stubLimiter struct {
	exceeded bool
	err      error
	keys     []string
}

func (s *stubLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.exceeded, s.err
}

func TestRateLimit(t *testing.T) {
	t.Run("exceeded", func(t *testing.T) {
		limiter := &stubLimiter{exceeded: true}
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		w := httptest.NewRecorder()

		serve(okEndpoint, RateLimit(limiter, "auth", 10, time.Minute, logger.NewNop())).ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, []string{"auth:10.0.0.1"}, limiter.keys)
	})

	t.Run("limiter failure lets request through", func(t *testing.T) {
		limiter := &stubLimiter{err: stderrors.New("redis down")}
		w := httptest.NewRecorder()

		serve(okEndpoint, RateLimit(limiter, "auth", 10, time.Minute, logger.NewNop())).
			ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:4444"
	assert.Equal(t, "192.168.1.5", ClientIP(req))

	req.Header.Set("X-Real-IP", "172.16.0.1")
	assert.Equal(t, "172.16.0.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.1.1.1")
	assert.Equal(t, "10.1.1.1", ClientIP(req))
}

func TestLogging(t *testing.T) {
	newLogged := func(env string, endpoint Endpoint) (http.Handler, *observer.ObservedLogs) {
		core, logs := observer.New(zapcore.DebugLevel)
		log := logger.NewFromZap(zap.New(core))
		handler := Correlation()(Logging(log, env)(Serve(endpoint, log)))
		return handler, logs
	}

	t.Run("dev logs incoming and completed", func(t *testing.T) {
		handler, logs := newLogged("dev", okEndpoint)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user", nil))

		assert.Equal(t, 1, logs.FilterMessage("Incoming request").Len())
		assert.Equal(t, 1, logs.FilterMessage("Request completed").Len())
	})

	t.Run("prod logs only failures", func(t *testing.T) {
		handler, logs := newLogged("prod", okEndpoint)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user", nil))
		assert.Equal(t, 0, logs.Len())

		handler, logs = newLogged("prod", func(r *http.Request) (*Response, error) {
			return nil, errors.New(errors.ErrForbidden, "no")
		})
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user", nil))

		failed := logs.FilterMessage("Request failed").All()
		require.Len(t, failed, 1)
		assert.Equal(t, "Forbidden", failed[0].ContextMap()["error_code"])
		assert.NotEmpty(t, failed[0].ContextMap()["correlation_id"])
	})

	t.Run("body is logged as safe keys only", func(t *testing.T) {
		var received map[string]string
		handler, logs := newLogged("dev", func(r *http.Request) (*Response, error) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			return OK(nil), nil
		})

		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.com","password":"abcdef"}`))
		req.Header.Set("Content-Type", "application/json")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		incoming := logs.FilterMessage("Incoming request").All()
		require.Len(t, incoming, 1)
		assert.Equal(t, []interface{}{"email"}, incoming[0].ContextMap()["body_keys"])
		assert.NotContains(t, logs.All()[0].ContextMap(), "password")
		assert.Equal(t, "abcdef", received["password"])
	})

	t.Run("exempt paths are not logged", func(t *testing.T) {
		handler, logs := newLogged("dev", okEndpoint)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, 0, logs.Len())
	})
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.NewMetrics("test_service", metrics.NewRegistry())
	handler := Metrics(m)(serve(func(r *http.Request) (*Response, error) {
		return nil, errors.New(errors.ErrForbidden, "no")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestCount.WithLabelValues("GET", "/user", "403")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsCount.WithLabelValues("GET", "/user", "Forbidden")))
}

func TestPanicIsObserved(t *testing.T) {
	newStack := func(next http.Handler) (http.Handler, *metrics.Metrics, *observer.ObservedLogs) {
		core, logs := observer.New(zapcore.DebugLevel)
		log := logger.NewFromZap(zap.New(core))
		m := metrics.NewMetrics("test_service", metrics.NewRegistry())
		return Recovery(log)(Correlation()(Logging(log, "prod")(Metrics(m)(next)))), m, logs
	}

	t.Run("raw handler panic", func(t *testing.T) {
		handler, m, logs := newStack(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

		w := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user", nil))
		})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestCount.WithLabelValues("GET", "/user", "500")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsCount.WithLabelValues("GET", "/user", "InternalError")))
		failed := logs.FilterMessage("Request failed").All()
		require.Len(t, failed, 1)
		assert.Equal(t, int64(500), failed[0].ContextMap()["status_code"])
	})

	t.Run("endpoint panic is converted inside Serve", func(t *testing.T) {
		handler, m, logs := newStack(Serve(func(r *http.Request) (*Response, error) {
			panic("boom")
		}, logger.NewNop()))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, errors.ErrInternal, body.Error.Code)
		assert.Equal(t, "internal server error", body.Error.Message)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestCount.WithLabelValues("GET", "/user", "500")))
		assert.Equal(t, 1, logs.FilterMessage("Request failed").Len())
		assert.Equal(t, 0, logs.FilterMessage("Panic recovered in HTTP handler").Len())
	})
}
