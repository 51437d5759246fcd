package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// CheckFunc проверка одной зависимости
type CheckFunc func(ctx context.Context) error

// HealthChecker интерфейс для проверки здоровья сервиса
type HealthChecker interface {
	Check(ctx context.Context) *HealthStatus
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]Status `json:"services,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Healthy сообщает, что все зависимости в порядке
func (h *HealthStatus) Healthy() bool {
	return h.Status == "healthy"
}

// Status представляет статус сервиса
type Status struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// Checker выполняет именованные проверки зависимостей параллельно
type Checker struct {
	version string
	timeout time.Duration
	checks  map[string]CheckFunc
}

// NewChecker создает Checker
func NewChecker(version string, timeout time.Duration) *Checker {
	return &Checker{
		version: version,
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
	}
}

// Register добавляет проверку зависимости
func (c *Checker) Register(name string, check CheckFunc) *Checker {
	c.checks[name] = check
	return c
}

// Names возвращает имена зарегистрированных проверок
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check выполняет все проверки с общим таймаутом
func (c *Checker) Check(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]Status, len(c.checks)),
		Version:   c.version,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, check := range c.checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			status := Status{Status: "healthy"}
			if err := check(ctx); err != nil {
				status = Status{Status: "unhealthy", Details: err.Error()}
			}
			mu.Lock()
			result.Services[name] = status
			if status.Status != "healthy" {
				result.Status = "unhealthy"
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return result
}

// LiveHandler возвращает 200, пока процесс жив
func LiveHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, &HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Version:   version,
		})
	}
}

// ReadyHandler возвращает 200, если все зависимости доступны, иначе 503
func ReadyHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := checker.Check(r.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
