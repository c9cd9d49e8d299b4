package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/modelstatus"
)

// StatusPageHandler serves the uptime-kuma compatible public surface. These
// endpoints return kuma's own JSON shapes, not the admin envelope, so
// existing kuma frontends and shields.io badge consumers work unchanged.
type StatusPageHandler struct {
	engine *modelstatus.Engine
}

func NewStatusPageHandler(engine *modelstatus.Engine) *StatusPageHandler {
	return &StatusPageHandler{engine: engine}
}

func pageSlug(r *http.Request) string {
	if slug := mux.Vars(r)["slug"]; slug != "" {
		return slug
	}
	return "default"
}

func (h *StatusPageHandler) Page(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.StatusPage(r.Context(), pageSlug(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StatusPageHandler) Heartbeats(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Heartbeats(r.Context(), pageSlug(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StatusPageHandler) Badge(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Badge(r.Context(), pageSlug(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *StatusPageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Summary(r.Context(), pageSlug(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
