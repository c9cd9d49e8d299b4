package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/database"
)

type RiskHandler struct {
	engine *analytics.Engine
	local  *database.LocalStore
}

func NewRiskHandler(engine *analytics.Engine, local *database.LocalStore) *RiskHandler {
	return &RiskHandler{engine: engine, local: local}
}

func (h *RiskHandler) Leaderboards(w http.ResponseWriter, r *http.Request) {
	var windows []string
	if raw := queryString(r, "windows", ""); raw != "" {
		windows = strings.Split(raw, ",")
	}
	out, err := h.engine.Leaderboards(r.Context(), windows,
		queryInt(r, "limit", 20), queryString(r, "sort_by", "requests"), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{
		"leaderboards":      out,
		"available_windows": analytics.WindowNames(),
	})
}

func (h *RiskHandler) UserAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		badRequest(w, "user_id must be a positive integer")
		return
	}

	out, err := h.engine.UserRiskAnalysis(r.Context(), userID,
		queryString(r, "window", "24h"), queryInt64(r, "end_time", 0), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

// BanRecords pages the manual and pipeline ban audit trail.
func (h *RiskHandler) BanRecords(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	action := queryString(r, "action", "")
	switch action {
	case "ban":
		action = "banned"
	case "unban":
		action = "unbanned"
	case "", "banned", "unbanned", "would_ban":
	default:
		badRequest(w, "action must be ban or unban")
		return
	}

	entries, total, err := h.local.AuditList(r.Context(), pageSize, (page-1)*pageSize,
		action, queryInt64(r, "user_id", 0))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{
		"records":   entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *RiskHandler) TokenRotation(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.TokenRotation(r.Context(),
		queryString(r, "window", "24h"),
		queryInt(r, "min_tokens", 3),
		queryInt(r, "max_requests_per_token", 10),
		queryInt(r, "limit", 50),
		queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *RiskHandler) AffiliatedAccounts(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.AffiliatedAccounts(r.Context(),
		queryInt(r, "min_invited", 3), queryInt(r, "limit", 50), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *RiskHandler) SameIPRegistrations(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.SameIPRegistrations(r.Context(),
		queryString(r, "window", "7d"),
		queryInt(r, "min_users", 2),
		queryInt(r, "limit", 50),
		queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}
