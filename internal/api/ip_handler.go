package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/geoip"
)

type IPHandler struct {
	engine *analytics.Engine
	geo    *geoip.Service
}

func NewIPHandler(engine *analytics.Engine, geo *geoip.Service) *IPHandler {
	return &IPHandler{engine: engine, geo: geo}
}

func (h *IPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.IPStats(r.Context(), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *IPHandler) Shared(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.SharedIPs(r.Context(),
		queryString(r, "window", "24h"),
		queryInt(r, "min_tokens", 3),
		queryInt(r, "limit", 20),
		queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *IPHandler) MultiIPTokens(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.MultiIPTokens(r.Context(),
		queryString(r, "window", "24h"),
		queryInt(r, "min_ips", 3),
		queryInt(r, "limit", 20),
		queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *IPHandler) MultiIPUsers(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.MultiIPUsers(r.Context(),
		queryString(r, "window", "24h"),
		queryInt(r, "min_ips", 5),
		queryInt(r, "limit", 20),
		queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *IPHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.LookupIP(r.Context(), mux.Vars(r)["ip"], queryString(r, "window", "24h"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *IPHandler) UserIPs(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil || userID <= 0 {
		badRequest(w, "user_id must be a positive integer")
		return
	}
	out, err := h.engine.UserIPs(r.Context(), userID, queryString(r, "window", "24h"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *IPHandler) Geo(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.geo.Query(mux.Vars(r)["ip"]))
}

func (h *IPHandler) GeoBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IPs []string `json:"ips"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.IPs) == 0 {
		badRequest(w, "ips must be a non-empty array")
		return
	}
	if len(body.IPs) > 1000 {
		badRequest(w, "at most 1000 ips per batch")
		return
	}
	respondOK(w, h.geo.QueryBatch(r.Context(), body.IPs))
}

func (h *IPHandler) EnableAllRecording(w http.ResponseWriter, r *http.Request) {
	affected, err := h.engine.EnableAllIPRecording(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "ip recording enabled", map[string]int64{"updated_users": affected})
}
