package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatescope/gatescope/internal/accounts"
	"github.com/gatescope/gatescope/internal/aiban"
	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/auth"
	"github.com/gatescope/gatescope/internal/cache"
	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/geoip"
	"github.com/gatescope/gatescope/internal/metrics"
	"github.com/gatescope/gatescope/internal/middleware"
	"github.com/gatescope/gatescope/internal/modelstatus"
	"github.com/gatescope/gatescope/internal/redemption"
	"github.com/gatescope/gatescope/internal/tasks"
	"github.com/gatescope/gatescope/internal/topup"
	"github.com/gatescope/gatescope/internal/warmup"
)

// Deps collects everything the HTTP surface talks to.
type Deps struct {
	Gateway     *database.Gateway
	Local       *database.LocalStore
	Cache       *cache.Manager
	Engine      *analytics.Engine
	ModelStatus *modelstatus.Engine
	Geo         *geoip.Service
	AIBan       *aiban.Service
	Accounts    *accounts.Service
	TopUps      *topup.Service
	Redemptions *redemption.Service
	Auth        *auth.Service
	Warmup      *warmup.Orchestrator
	Tasks       *tasks.Manager
}

// NewRouter wires every endpoint behind the middleware chain. Order matters:
// recovery wraps everything, auth runs after logging so denied requests
// still get logged.
func NewRouter(d Deps) http.Handler {
	health := NewHealthHandler(d.Gateway)
	authH := NewAuthHandler(d.Auth)
	dashboard := NewDashboardHandler(d.Engine, d.Cache)
	risk := NewRiskHandler(d.Engine, d.Local)
	ip := NewIPHandler(d.Engine, d.Geo)
	modelStatus := NewModelStatusHandler(d.ModelStatus)
	statusPage := NewStatusPageHandler(d.ModelStatus)
	aiBan := NewAIBanHandler(d.AIBan)
	system := NewSystemHandler(d.Engine, d.Gateway, d.Warmup, d.Tasks)
	topUps := NewTopUpHandler(d.TopUps)
	redemptions := NewRedemptionHandler(d.Redemptions)
	users := NewUsersHandler(d.Accounts)

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/health/db", health.DBHealth).Methods(http.MethodGet)

	api.HandleFunc("/auth/login", authH.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", authH.Logout).Methods(http.MethodPost)

	api.HandleFunc("/dashboard/overview", dashboard.Overview).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/usage", dashboard.Usage).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/models", dashboard.Models).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/trends/daily", dashboard.DailyTrends).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/trends/hourly", dashboard.HourlyTrends).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/top-users", dashboard.TopUsers).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/channels", dashboard.Channels).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/ip-distribution", dashboard.IPDistribution).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/users", dashboard.Users).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/cache/invalidate", dashboard.InvalidateCache).Methods(http.MethodPost)
	api.HandleFunc("/dashboard/cache/stats", dashboard.CacheStats).Methods(http.MethodGet)

	api.HandleFunc("/risk/leaderboards", risk.Leaderboards).Methods(http.MethodGet)
	api.HandleFunc("/risk/users/{user_id}/analysis", risk.UserAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/risk/ban-records", risk.BanRecords).Methods(http.MethodGet)
	api.HandleFunc("/risk/token-rotation", risk.TokenRotation).Methods(http.MethodGet)
	api.HandleFunc("/risk/affiliated-accounts", risk.AffiliatedAccounts).Methods(http.MethodGet)
	api.HandleFunc("/risk/same-ip-registrations", risk.SameIPRegistrations).Methods(http.MethodGet)

	api.HandleFunc("/ip/stats", ip.Stats).Methods(http.MethodGet)
	api.HandleFunc("/ip/shared", ip.Shared).Methods(http.MethodGet)
	api.HandleFunc("/ip/multi-ip-tokens", ip.MultiIPTokens).Methods(http.MethodGet)
	api.HandleFunc("/ip/multi-ip-users", ip.MultiIPUsers).Methods(http.MethodGet)
	api.HandleFunc("/ip/lookup/{ip}", ip.Lookup).Methods(http.MethodGet)
	api.HandleFunc("/ip/users/{user_id}/ips", ip.UserIPs).Methods(http.MethodGet)
	api.HandleFunc("/ip/geo/batch", ip.GeoBatch).Methods(http.MethodPost)
	api.HandleFunc("/ip/geo/{ip}", ip.Geo).Methods(http.MethodGet)
	api.HandleFunc("/ip/enable-all-recording", ip.EnableAllRecording).Methods(http.MethodPost)

	registerModelStatusReads := func(sr *mux.Router) {
		sr.HandleFunc("/time-windows", modelStatus.TimeWindows).Methods(http.MethodGet)
		sr.HandleFunc("/models", modelStatus.Models).Methods(http.MethodGet)
		sr.HandleFunc("/status/multiple", modelStatus.StatusMultiple).Methods(http.MethodPost)
		sr.HandleFunc("/status/all", modelStatus.StatusAll).Methods(http.MethodGet)
		sr.HandleFunc("/status/{model_name}", modelStatus.Status).Methods(http.MethodGet)
		sr.HandleFunc("/config/settings", modelStatus.AllSettings).Methods(http.MethodGet)
		sr.HandleFunc("/config/{name}", modelStatus.GetSetting).Methods(http.MethodGet)
	}
	registerModelStatusReads(api.PathPrefix("/model-status").Subrouter())
	api.HandleFunc("/model-status/config/{name}", modelStatus.SetSetting).Methods(http.MethodPost, http.MethodPut)

	// Public read-only mirrors for embedding. Both prefixes are in the auth
	// skip list.
	registerModelStatusReads(api.PathPrefix("/embed/model-status").Subrouter())
	registerModelStatusReads(api.PathPrefix("/model-status/embed").Subrouter())

	api.HandleFunc("/status-page/heartbeat/{slug}", statusPage.Heartbeats).Methods(http.MethodGet)
	api.HandleFunc("/status-page/{slug}/badge", statusPage.Badge).Methods(http.MethodGet)
	api.HandleFunc("/status-page/{slug}/summary", statusPage.Summary).Methods(http.MethodGet)
	api.HandleFunc("/status-page/{slug}", statusPage.Page).Methods(http.MethodGet)

	api.HandleFunc("/ai-ban/config", aiBan.GetConfig).Methods(http.MethodGet)
	api.HandleFunc("/ai-ban/config", aiBan.SetConfig).Methods(http.MethodPost)
	api.HandleFunc("/ai-ban/api-health", aiBan.APIHealth).Methods(http.MethodGet)
	api.HandleFunc("/ai-ban/reset-api-health", aiBan.ResetAPIHealth).Methods(http.MethodPost)
	api.HandleFunc("/ai-ban/suspicious", aiBan.Suspicious).Methods(http.MethodGet)
	api.HandleFunc("/ai-ban/assess", aiBan.Assess).Methods(http.MethodPost)
	api.HandleFunc("/ai-ban/scan", aiBan.Scan).Methods(http.MethodPost)
	api.HandleFunc("/ai-ban/test-connection", aiBan.TestConnection).Methods(http.MethodPost)
	api.HandleFunc("/ai-ban/test-model", aiBan.TestModel).Methods(http.MethodPost)
	api.HandleFunc("/ai-ban/models", aiBan.Models).Methods(http.MethodPost)
	api.HandleFunc("/ai-ban/whitelist", aiBan.Whitelist).Methods(http.MethodGet)
	api.HandleFunc("/ai-ban/whitelist", aiBan.WhitelistAdd).Methods(http.MethodPost)
	api.HandleFunc("/ai-ban/whitelist/{user_id}", aiBan.WhitelistRemove).Methods(http.MethodDelete)
	api.HandleFunc("/ai-ban/audit-logs", aiBan.AuditLogs).Methods(http.MethodGet)
	api.HandleFunc("/ai-ban/audit-logs", aiBan.ClearAuditLogs).Methods(http.MethodDelete)

	api.HandleFunc("/system/scale", system.Scale).Methods(http.MethodGet)
	api.HandleFunc("/system/scale/refresh", system.RefreshScale).Methods(http.MethodPost)
	api.HandleFunc("/system/warmup-status", system.WarmupStatus).Methods(http.MethodGet)
	api.HandleFunc("/system/warmup-status/ws", system.WarmupStatusWS).Methods(http.MethodGet)
	api.HandleFunc("/system/indexes", system.Indexes).Methods(http.MethodGet)
	api.HandleFunc("/system/indexes/ensure", system.EnsureIndexes).Methods(http.MethodPost)
	api.HandleFunc("/system/tasks", system.Tasks).Methods(http.MethodGet)
	api.HandleFunc("/system/log-sync", system.LogSyncStatus).Methods(http.MethodGet)
	api.HandleFunc("/system/log-sync", system.TriggerLogSync).Methods(http.MethodPost)

	api.HandleFunc("/top-ups", topUps.List).Methods(http.MethodGet)
	api.HandleFunc("/top-ups/statistics", topUps.Statistics).Methods(http.MethodGet)
	api.HandleFunc("/top-ups/{id}/refund", topUps.Refund).Methods(http.MethodPost)

	api.HandleFunc("/redemptions", redemptions.List).Methods(http.MethodGet)
	api.HandleFunc("/redemptions/generate", redemptions.Generate).Methods(http.MethodPost)
	api.HandleFunc("/redemptions/statistics", redemptions.Statistics).Methods(http.MethodGet)
	api.HandleFunc("/redemptions/{id}", redemptions.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/users/{user_id}", users.Detail).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/ban", users.Ban).Methods(http.MethodPost)
	api.HandleFunc("/users/{user_id}/unban", users.Unban).Methods(http.MethodPost)
	api.HandleFunc("/users/{user_id}/tokens", users.Tokens).Methods(http.MethodGet)
	api.HandleFunc("/tokens/{token_id}/disable", users.DisableToken).Methods(http.MethodPost)
	api.HandleFunc("/tokens/{token_id}", users.DeleteToken).Methods(http.MethodDelete)

	// Logger and auth run as mux middleware so the matched route template
	// is available for metric labels. CORS stays outside to answer
	// preflights for paths mux has no OPTIONS route for.
	guard := middleware.NewAuthMiddleware(d.Auth)
	r.Use(middleware.Logger, guard.RequireAuth)

	var handler http.Handler = r
	handler = middleware.RequestID(handler)
	handler = middleware.CORS(handler)
	handler = middleware.Recovery(handler)
	return handler
}
