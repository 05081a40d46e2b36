package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dwizi/fixfox-bot/internal/metrics"
	"github.com/dwizi/fixfox-bot/internal/store"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// requestLog records every request in the log and in request_logs.
func (r *router) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, req)
		duration := time.Since(started)

		metrics.RecordHTTPRequest(routeLabel(req.URL.Path), strconv.Itoa(recorder.status), duration)
		r.logger.Info("http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", remoteIP(req),
		)
		if r.deps.Store == nil || req.URL.Path == routeMetrics {
			return
		}
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), 3*time.Second)
		defer cancel()
		if err := r.deps.Store.CreateRequestLog(logCtx, store.RequestLogInput{
			Method:    req.Method,
			Path:      req.URL.Path,
			RemoteIP:  remoteIP(req),
			UserAgent: req.UserAgent(),
			Status:    recorder.status,
			Duration:  duration,
		}); err != nil {
			r.logger.Error("failed to persist request log", "error", err, "path", req.URL.Path)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
