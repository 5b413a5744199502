// Package health отдаёт состояние сервиса и его зависимостей (шина, БД, Redis).
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Status: состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded: сервис работает, но с урезанной функциональностью
	// (например, шина недоступна и события только пишутся в лог).
	StatusDegraded Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело ответа /healthz.
type Response struct {
	Service       string           `json:"service"`
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler агрегирует проверки компонентов.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	service   string
	version   string
	timeout   time.Duration
	startTime time.Time
}

// NewHandler создаёт обработчик для сервиса service.
func NewHandler(service, version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		service:   service,
		version:   version,
		timeout:   defaultCheckTimeout,
		startTime: time.Now(),
	}
}

// RegisterChecker регистрирует проверку. Повторная регистрация имени заменяет проверку.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Evaluate выполняет все проверки и сводит общий статус: unhealthy важнее degraded.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	overall := StatusHealthy
	for _, name := range slices.Sorted(maps.Keys(checkers)) {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		check := checkers[name].Check(checkCtx)
		cancel()

		checks[name] = check
		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Service:       h.service,
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

// ServeHTTP отвечает JSON-сводкой. Degraded остаётся 200: процесс живой и принимает запросы.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler всегда отвечает 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, если хотя бы одна проверка unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Evaluate(r.Context()).Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// PingChecker считает компонент здоровым, если ping не вернул ошибку.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker создаёт проверку на основе функции ping (БД, Redis).
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// Check выполняет ping.
func (c *PingChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.ping(ctx)
	check := Check{Name: c.name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// DegradedChecker сообщает degraded, пока флаг degraded возвращает true.
type DegradedChecker struct {
	name     string
	degraded func() bool
	message  string
}

// NewDegradedChecker создаёт проверку режима деградации.
func NewDegradedChecker(name, message string, degraded func() bool) *DegradedChecker {
	return &DegradedChecker{name: name, degraded: degraded, message: message}
}

// Check не блокируется и не ходит в сеть.
func (c *DegradedChecker) Check(context.Context) Check {
	if c.degraded() {
		return Check{Name: c.name, Status: StatusDegraded, Message: c.message}
	}
	return Check{Name: c.name, Status: StatusHealthy}
}
