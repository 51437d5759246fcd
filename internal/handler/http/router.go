package http

import (
	"net/http"
	"time"

	"AuthPlatform/internal/domain"
	"AuthPlatform/internal/middleware"
	"AuthPlatform/pkg/health"
	"AuthPlatform/pkg/logger"
	"AuthPlatform/pkg/metrics"
	"AuthPlatform/pkg/ratelimit"
)

// Route явная конфигурация маршрута для конвейера
type Route struct {
	Method        string
	Path          string
	RequiresAuth  bool
	Roles         []domain.Role
	IdempotencyOp string
	RateLimited   bool
	Endpoint      middleware.Endpoint
}

// Routes таблица маршрутов API
func (h *Handler) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/auth/signup", RateLimited: true, Endpoint: h.Signup},
		{Method: http.MethodPost, Path: "/auth/login", RateLimited: true, Endpoint: h.Login},
		{Method: http.MethodGet, Path: "/user", RequiresAuth: true, Roles: []domain.Role{domain.RoleAdmin}, Endpoint: h.ListUsers},
		{Method: http.MethodPatch, Path: "/user", RequiresAuth: true, Endpoint: h.UpdateMe},
		{Method: http.MethodGet, Path: "/user/me", RequiresAuth: true, Endpoint: h.GetMe},
		{
			Method:        http.MethodPatch,
			Path:          "/user/{id}/role",
			RequiresAuth:  true,
			Roles:         []domain.Role{domain.RoleAdmin},
			IdempotencyOp: "change-user-role",
			Endpoint:      h.ChangeRole,
		},
	}
}

// RouterConfig зависимости конвейера
type RouterConfig struct {
	Resolver    middleware.IdentityResolver
	Ledger      middleware.Ledger
	Limiter     ratelimit.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
	Health      health.HealthChecker
	Metrics     *metrics.Metrics
	Version     string
	Environment string
	Logger      logger.Logger
}

// NewRouter собирает маршруты и оборачивает их в конвейер:
// recovery -> correlation -> logging -> metrics -> стадии маршрута -> обработчик
func NewRouter(h *Handler, config RouterConfig) http.Handler {
	mux := http.NewServeMux()
	log := config.Logger

	for _, route := range h.Routes() {
		mux.Handle(route.Method+" "+route.Path, middleware.Serve(buildPipeline(route, config), log))
	}

	mux.Handle("GET /health", health.LiveHandler(config.Version))
	if config.Health != nil {
		mux.Handle("GET /health/ready", health.ReadyHandler(config.Health))
	}
	if config.Metrics != nil {
		mux.Handle("GET /metrics", config.Metrics.GetHandler())
	}
	mux.Handle("/", middleware.Serve(h.NotFound, log))

	var handler http.Handler = mux
	if config.Metrics != nil {
		handler = middleware.Metrics(config.Metrics)(handler)
	}
	handler = middleware.Logging(log, config.Environment)(handler)
	handler = middleware.Correlation()(handler)
	handler = middleware.Recovery(log)(handler)

	return handler
}

func buildPipeline(route Route, config RouterConfig) middleware.Endpoint {
	var stages []middleware.Stage

	if route.RateLimited && config.Limiter != nil {
		window := config.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		stages = append(stages, middleware.RateLimit(config.Limiter, "auth", config.RateLimit, window, config.Logger))
	}
	if route.RequiresAuth {
		stages = append(stages, middleware.Authenticate(config.Resolver))
	}
	if len(route.Roles) > 0 {
		stages = append(stages, middleware.RequireRoles(route.Roles...))
	}
	if route.IdempotencyOp != "" {
		stages = append(stages, middleware.Idempotent(config.Ledger, route.IdempotencyOp, config.Metrics, config.Logger))
	}

	return middleware.Chain(route.Endpoint, stages...)
}
