package api

import (
	"net/http"

	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/cache"
)

type DashboardHandler struct {
	engine *analytics.Engine
	cache  *cache.Manager
}

func NewDashboardHandler(engine *analytics.Engine, c *cache.Manager) *DashboardHandler {
	return &DashboardHandler{engine: engine, cache: c}
}

func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Overview(r.Context(), queryString(r, "period", "24h"), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *DashboardHandler) Usage(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Usage(r.Context(), queryString(r, "period", "24h"), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *DashboardHandler) Models(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.ModelUsageRanking(r.Context(),
		queryString(r, "period", "24h"), queryInt(r, "limit", 20), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *DashboardHandler) DailyTrends(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.DailyTrends(r.Context(), queryInt(r, "days", 7), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *DashboardHandler) HourlyTrends(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.HourlyTrends(r.Context(), queryInt(r, "hours", 24), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *DashboardHandler) TopUsers(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.TopUsers(r.Context(),
		queryString(r, "period", "24h"), queryInt(r, "limit", 10), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"ranking": out})
}

func (h *DashboardHandler) Channels(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.ChannelStats(r.Context(), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *DashboardHandler) IPDistribution(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Distribution(r.Context(), queryString(r, "window", "24h"), queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *DashboardHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, total, err := h.engine.ListUsers(r.Context(),
		queryString(r, "order_by", "used_quota"),
		queryString(r, "search", ""),
		queryInt(r, "page", 1),
		queryInt(r, "page_size", 20),
		queryBool(r, "no_cache"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, map[string]interface{}{"users": users, "total": total})
}

// InvalidateCache drops every dashboard aggregation so the next request
// recomputes from live SQL.
func (h *DashboardHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var removed int64
	for _, prefix := range []string{"dashboard:", "ip:", "risk:"} {
		n, err := h.cache.DeleteByPrefix(r.Context(), prefix)
		if err != nil {
			respondErr(w, err)
			return
		}
		removed += n
	}
	respondMessage(w, "cache invalidated", map[string]int64{"removed": removed})
}

func (h *DashboardHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.cache.GetStats())
}
