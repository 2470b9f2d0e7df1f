package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger checks database connectivity for the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler responds with service health information. When a database
// pinger is configured the probe reflects connectivity.
type HealthHandler struct {
	Pinger Pinger
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload := map[string]string{
		"service": "duet-backend",
		"status":  "ok",
	}
	status := http.StatusOK

	if h.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Pinger.Ping(ctx); err != nil {
			payload["status"] = "degraded"
			payload["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
