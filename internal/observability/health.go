package observability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ComponentStatus represents the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck is a function that checks component health.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the health report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ns"`
	Details     map[string]any  `json:"details,omitempty"`
}

// SystemHealth is the aggregate health of the service.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     string                     `json:"uptime"`
}

// PingCheck adapts a ping function into a HealthCheck. Optional backends
// report degraded instead of unhealthy when the ping fails.
func PingCheck(ping func(ctx context.Context) error, optional bool) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusUnhealthy
			if optional {
				status = StatusDegraded
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// HealthMonitor runs the registered checks on demand.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	results   map[string]ComponentHealth
	startTime time.Time
	timeout   time.Duration
}

// NewHealthMonitor creates a monitor whose checks each get timeout to finish.
func NewHealthMonitor(timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		timeout:   timeout,
	}
}

// Register adds a named health check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check and returns the aggregate health.
// Status changes are logged.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(checks))
	for name, fn := range checks {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		res := fn(cctx)
		cancel()
		res.Name = name
		res.LastChecked = time.Now()
		res.Latency = time.Since(start)
		results[name] = res
	}

	m.mu.Lock()
	prev := m.results
	m.results = results
	m.mu.Unlock()

	worst := StatusHealthy
	for name, cur := range results {
		if old, ok := prev[name]; ok && old.Status != cur.Status {
			log.Warn().
				Str("component", name).
				Str("from", string(old.Status)).
				Str("to", string(cur.Status)).
				Str("message", cur.Message).
				Msg("health: status changed")
		}
		if statusSeverity(cur.Status) > statusSeverity(worst) {
			worst = cur.Status
		}
	}

	return SystemHealth{
		Status:     worst,
		Components: results,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime).Truncate(time.Second).String(),
	}
}

// statusSeverity returns a numeric severity for comparison.
func statusSeverity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}
