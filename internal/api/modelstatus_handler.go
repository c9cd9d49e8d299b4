package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/modelstatus"
)

type ModelStatusHandler struct {
	engine *modelstatus.Engine
}

func NewModelStatusHandler(engine *modelstatus.Engine) *ModelStatusHandler {
	return &ModelStatusHandler{engine: engine}
}

func (h *ModelStatusHandler) TimeWindows(w http.ResponseWriter, r *http.Request) {
	respondOK(w, modelstatus.TimeWindows())
}

func (h *ModelStatusHandler) Models(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.AvailableModels(r.Context(), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *ModelStatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Status(r.Context(), mux.Vars(r)["model_name"],
		queryString(r, "window", "1h"), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *ModelStatusHandler) StatusMultiple(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Models []string `json:"models"`
		Window string   `json:"window"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.Models) == 0 {
		badRequest(w, "models must be a non-empty array")
		return
	}
	if body.Window == "" {
		body.Window = "1h"
	}

	out, err := h.engine.StatusMultiple(r.Context(), body.Models, body.Window, false)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *ModelStatusHandler) StatusAll(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.StatusAll(r.Context(), queryString(r, "window", "1h"), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *ModelStatusHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	value, err := h.engine.GetSetting(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"value": value})
}

func (h *ModelStatusHandler) SetSetting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value interface{} `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if err := h.engine.SetSetting(r.Context(), mux.Vars(r)["name"], body.Value); err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "setting saved", nil)
}

func (h *ModelStatusHandler) AllSettings(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.AllSettings(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}
