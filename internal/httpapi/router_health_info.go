package httpapi

import (
	"net/http"

	"github.com/dwizi/fixfox-bot/internal/heartbeat"
)

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": "store is not configured"})
		return
	}
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	if r.deps.Heartbeat != nil {
		snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
		if snapshot.Overall == heartbeat.StateDegraded {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "heartbeat": snapshot})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          "fixfox-bot",
		"environment":   r.deps.Config.Environment,
		"webhook_async": r.deps.Config.WebhookAsync,
		"model":         r.deps.Config.LLMModel,
	})
}
