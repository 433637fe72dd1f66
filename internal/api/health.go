package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker reports dependency health (database).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnStatus reports broker connectivity (mqtt).
type ConnStatus interface {
	IsConnected() bool
}

// EngineStatus reports engine readiness and load.
type EngineStatus interface {
	Check() error
}

// GateStatus reports jobs holding the engine.
type GateStatus interface {
	InFlight() int
}

type HealthResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Checks         map[string]string `json:"checks"`
	EngineInFlight int               `json:"engine_in_flight"`
	Backend        string            `json:"backend,omitempty"`
}

type HealthHandler struct {
	engine    EngineStatus
	gate      GateStatus
	db        HealthChecker // nil = not configured
	mqtt      ConnStatus    // nil = not configured
	backend   string
	version   string
	startTime time.Time
}

func NewHealthHandler(engine EngineStatus, gate GateStatus, db HealthChecker, mqtt ConnStatus, backend, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		engine:    engine,
		gate:      gate,
		db:        db,
		mqtt:      mqtt,
		backend:   backend,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Decoder / engine check: without ffmpeg no job can succeed
	if err := h.engine.Check(); err != nil {
		checks["decoder"] = "unavailable"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["decoder"] = "ok"
	}

	inFlight := h.gate.InFlight()
	if inFlight > 0 {
		checks["engine"] = "busy"
	} else {
		checks["engine"] = "idle"
	}

	// Database check
	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			checks["database"] = "error"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:         status,
		Version:        h.version,
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
		Checks:         checks,
		EngineInFlight: inFlight,
		Backend:        h.backend,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
