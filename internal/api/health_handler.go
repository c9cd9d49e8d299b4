package api

import (
	"net/http"

	"github.com/gatescope/gatescope/internal/database"
)

const version = "0.1.0"

type HealthHandler struct {
	gw *database.Gateway
}

func NewHealthHandler(gw *database.Gateway) *HealthHandler {
	return &HealthHandler{gw: gw}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func (h *HealthHandler) DBHealth(w http.ResponseWriter, r *http.Request) {
	engine := "postgresql"
	if !h.gw.IsPG() {
		engine = "mysql"
	}

	if err := h.gw.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"status":  "disconnected",
			"engine":  engine,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "connected",
		"engine":  engine,
	})
}
