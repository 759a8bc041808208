package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-entity-resolver/internal/config"
)

const contentTypeJSON = "application/json"

func serveHealth(t *testing.T, h *HealthHandler) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	w := httptest.NewRecorder()
	h.Handle(w, req)

	var body struct {
		Data HealthStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body.Data
}

func TestHealthHandler_Handle(t *testing.T) {
	h := NewHealthHandler(config.DefaultConfig(), "1.2.3", nil)

	w, status := serveHealth(t, h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeJSON, w.Header().Get("Content-Type"))
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, "lerian-entity-resolver", status.Server)
	assert.Contains(t, status.Checks, "memory")
	assert.Equal(t, "healthy", status.Checks["config"].Status)
	assert.NotEmpty(t, status.System.GoVersion)
}

func TestHealthHandler_Probes(t *testing.T) {
	tests := []struct {
		name       string
		probe      Probe
		wantCode   int
		wantStatus string
	}{
		{"healthy dependency", func(context.Context) error { return nil }, http.StatusOK, "healthy"},
		{"failing dependency", func(context.Context) error { return errors.New("ping: connection refused") }, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(config.DefaultConfig(), "dev", map[string]Probe{"context_store": tt.probe})

			w, status := serveHealth(t, h)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantStatus, status.Checks["context_store"].Status)
		})
	}
}

func TestHealthHandler_MissingConfigIsWarning(t *testing.T) {
	h := NewHealthHandler(nil, "dev", nil)

	w, status := serveHealth(t, h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "warning", status.Checks["config"].Status)
	assert.NotEqual(t, "unhealthy", status.Status)
}

func TestOverallStatus(t *testing.T) {
	assert.Equal(t, "healthy", overallStatus(map[string]Check{"a": {Status: "healthy"}}))
	assert.Equal(t, "warning", overallStatus(map[string]Check{"a": {Status: "healthy"}, "b": {Status: "warning"}}))
	assert.Equal(t, "unhealthy", overallStatus(map[string]Check{"a": {Status: "warning"}, "b": {Status: "unhealthy"}}))
}
