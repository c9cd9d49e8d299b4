package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/aiban"
)

type AIBanHandler struct {
	service *aiban.Service
}

func NewAIBanHandler(service *aiban.Service) *AIBanHandler {
	return &AIBanHandler{service: service}
}

func (h *AIBanHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.LoadSettings(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, settings.Sanitized())
}

func (h *AIBanHandler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var in aiban.Settings
	if err := decodeBody(r, &in); err != nil {
		badRequest(w, "invalid settings body")
		return
	}
	saved, err := h.service.SaveSettings(r.Context(), in)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "settings saved", saved.Sanitized())
}

func (h *AIBanHandler) APIHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.service.Health())
}

func (h *AIBanHandler) ResetAPIHealth(w http.ResponseWriter, r *http.Request) {
	h.service.ResetAPIHealth()
	respondMessage(w, "api health reset", h.service.Health())
}

func (h *AIBanHandler) Suspicious(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Suspicious(r.Context(),
		queryString(r, "window", ""), queryInt(r, "limit", 0))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *AIBanHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64  `json:"user_id"`
		Window string `json:"window"`
	}
	if err := decodeBody(r, &body); err != nil || body.UserID <= 0 {
		badRequest(w, "user_id must be a positive integer")
		return
	}
	out, err := h.service.Assess(r.Context(), body.UserID, body.Window)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *AIBanHandler) Scan(w http.ResponseWriter, r *http.Request) {
	// Window and limit arrive as query parameters; stored settings fill the
	// rest.
	out, err := h.service.Scan(r.Context(),
		queryString(r, "window", ""), queryInt(r, "limit", 0), "manual")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

type endpointBody struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

func (h *AIBanHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var body endpointBody
	_ = decodeBody(r, &body)

	if err := h.service.TestConnection(r.Context(), body.BaseURL, body.APIKey, body.Model); err != nil {
		respondError(w, http.StatusBadGateway, codeUpstream, "connection test failed", err.Error())
		return
	}
	respondMessage(w, "connection ok", nil)
}

func (h *AIBanHandler) TestModel(w http.ResponseWriter, r *http.Request) {
	var body endpointBody
	if err := decodeBody(r, &body); err != nil || body.Model == "" {
		badRequest(w, "model is required")
		return
	}
	verdict, err := h.service.TestModel(r.Context(), body.BaseURL, body.APIKey, body.Model)
	if err != nil {
		respondError(w, http.StatusBadGateway, codeUpstream, "model test failed", err.Error())
		return
	}
	respondOK(w, verdict)
}

func (h *AIBanHandler) Models(w http.ResponseWriter, r *http.Request) {
	var body struct {
		endpointBody
		ForceRefresh bool `json:"force_refresh"`
	}
	_ = decodeBody(r, &body)

	models, err := h.service.Models(r.Context(), body.BaseURL, body.APIKey, body.ForceRefresh)
	if err != nil {
		respondError(w, http.StatusBadGateway, codeUpstream, "model listing failed", err.Error())
		return
	}
	respondOK(w, map[string]interface{}{"models": models})
}

func (h *AIBanHandler) Whitelist(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.SearchWhitelist(r.Context(), queryString(r, "keyword", ""))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *AIBanHandler) WhitelistAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64  `json:"user_id"`
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil || body.UserID <= 0 {
		badRequest(w, "user_id must be a positive integer")
		return
	}
	added, err := h.service.AddToWhitelist(r.Context(), body.UserID, body.Reason, "admin")
	if err != nil {
		respondErr(w, err)
		return
	}
	if !added {
		respondError(w, http.StatusConflict, codeConflict, "user is already whitelisted", "")
		return
	}
	respondMessage(w, "user whitelisted", nil)
}

func (h *AIBanHandler) WhitelistRemove(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		badRequest(w, "user_id must be a positive integer")
		return
	}
	removed, err := h.service.RemoveFromWhitelist(r.Context(), userID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, codeNotFound, "user is not whitelisted", "")
		return
	}
	respondMessage(w, "user removed from whitelist", nil)
}

func (h *AIBanHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	// Older frontends filter by "status", newer ones by "action".
	action := queryString(r, "action", queryString(r, "status", ""))

	entries, total, err := h.service.AuditLogs(r.Context(), limit, offset,
		action, queryInt64(r, "user_id", 0))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{
		"logs":   entries,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *AIBanHandler) ClearAuditLogs(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.ClearAuditLogs(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "audit logs cleared", map[string]int64{"removed": removed})
}
