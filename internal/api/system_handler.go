package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/logging"
	"github.com/gatescope/gatescope/internal/tasks"
	"github.com/gatescope/gatescope/internal/warmup"
)

type SystemHandler struct {
	engine   *analytics.Engine
	gw       *database.Gateway
	warmup   *warmup.Orchestrator
	manager  *tasks.Manager
	upgrader websocket.Upgrader
}

func NewSystemHandler(engine *analytics.Engine, gw *database.Gateway, orch *warmup.Orchestrator, manager *tasks.Manager) *SystemHandler {
	return &SystemHandler{
		engine:  engine,
		gw:      gw,
		warmup:  orch,
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The side-car sits behind the admin's own origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *SystemHandler) Scale(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Scale(r.Context(), false)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *SystemHandler) RefreshScale(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.Scale(r.Context(), true)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "scale refreshed", out)
}

func (h *SystemHandler) WarmupStatus(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.warmup.Status())
}

// WarmupStatusWS streams the warmup snapshot once a second until the run
// reaches ready, then sends the final snapshot and closes.
func (h *SystemHandler) WarmupStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("warmup websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		snap := h.warmup.Status()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		if snap.Status == warmup.StatusReady {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ready"),
				time.Now().Add(time.Second))
			return
		}

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}

func (h *SystemHandler) Indexes(w http.ResponseWriter, r *http.Request) {
	out, err := h.gw.IndexStatuses(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *SystemHandler) EnsureIndexes(w http.ResponseWriter, r *http.Request) {
	results, err := h.gw.EnsureIndexes(r.Context(), 2*time.Second)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "index check finished", results)
}

func (h *SystemHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	respondOK(w, map[string]interface{}{"tasks": h.manager.GetStatus()})
}

func (h *SystemHandler) LogSyncStatus(w http.ResponseWriter, r *http.Request) {
	out, err := h.engine.SyncStatus(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondOK(w, out)
}

func (h *SystemHandler) TriggerLogSync(w http.ResponseWriter, r *http.Request) {
	synced, err := h.engine.SyncLogs(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondMessage(w, "log sync finished", map[string]int64{"synced": synced})
}
