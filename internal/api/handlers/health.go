// Package handlers provides HTTP request handlers for the entity resolver API.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"lerian-entity-resolver/internal/api/response"
	"lerian-entity-resolver/internal/config"
)

// Probe checks one dependency; a nil error means healthy
type Probe func(ctx context.Context) error

// HealthHandler provides health check functionality
type HealthHandler struct {
	config    *config.Config
	version   string
	probes    map[string]Probe
	startTime time.Time
}

// HealthStatus represents the health check response structure
type HealthStatus struct {
	Status    string           `json:"status"`
	Server    string           `json:"server"`
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	System    SystemInfo       `json:"system"`
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// SystemInfo represents system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	MemoryMB     uint64 `json:"memory_mb"`
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(cfg *config.Config, version string, probes map[string]Probe) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		version:   version,
		probes:    probes,
		startTime: time.Now(),
	}
}

// Handle processes health check requests
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := h.performHealthChecks(ctx)
	status := HealthStatus{
		Status:    overallStatus(checks),
		Server:    "lerian-entity-resolver",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		System:    systemInfo(),
	}

	statusCode := http.StatusOK
	if status.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	response.WriteStatus(w, statusCode, status)
}

func (h *HealthHandler) performHealthChecks(ctx context.Context) map[string]Check {
	checks := make(map[string]Check, len(h.probes)+2)

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		start := time.Now()
		err := h.probes[name](ctx)
		check := Check{Status: "healthy", Latency: time.Since(start).Round(time.Millisecond).String()}
		if err != nil {
			check.Status = "unhealthy"
			check.Message = err.Error()
		}
		checks[name] = check
	}

	checks["memory"] = checkMemory()
	checks["config"] = h.checkConfiguration()
	return checks
}

func checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Alloc/1024/1024 > 500 {
		return Check{Status: "warning", Message: "High memory usage"}
	}
	return Check{Status: "healthy", Message: "Memory usage normal"}
}

func (h *HealthHandler) checkConfiguration() Check {
	if h.config == nil {
		return Check{Status: "warning", Message: "No configuration loaded"}
	}
	if err := h.config.Validate(); err != nil {
		return Check{Status: "warning", Message: "Configuration validation warning: " + err.Error()}
	}
	return Check{Status: "healthy", Message: "Configuration valid"}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		MemoryMB:     m.Alloc / 1024 / 1024,
	}
}

func overallStatus(checks map[string]Check) string {
	hasWarning := false
	for _, check := range checks {
		switch check.Status {
		case "unhealthy":
			return "unhealthy"
		case "warning":
			hasWarning = true
		}
	}
	if hasWarning {
		return "warning"
	}
	return "healthy"
}
