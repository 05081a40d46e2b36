// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	webhookUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfox_webhook_updates_total",
			Help: "Webhook updates by classified kind and handling mode",
		},
		[]string{"kind", "mode"}, // mode: async, inline, rejected
	)

	telegramSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfox_telegram_sends_total",
			Help: "Bot API calls by method and outcome",
		},
		[]string{"method", "status"}, // status: success, api_error, connection_error
	)

	aiTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfox_ai_turns_total",
			Help: "AI turns by type and outcome",
		},
		[]string{"type", "status"},
	)

	aiTurnDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fixfox_ai_turn_duration_seconds",
			Help:    "AI turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"type"},
	)

	functionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixfox_function_calls_total",
			Help: "Function calls requested by the AI",
		},
		[]string{"function", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fixfox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"path", "status"},
	)
)

func RecordWebhookUpdate(kind, mode string) {
	webhookUpdatesTotal.WithLabelValues(kind, mode).Inc()
}

func RecordTelegramSend(method, status string) {
	telegramSendsTotal.WithLabelValues(method, status).Inc()
}

func RecordAITurn(turnType, status string, duration time.Duration) {
	aiTurnsTotal.WithLabelValues(turnType, status).Inc()
	aiTurnDurationSeconds.WithLabelValues(turnType).Observe(duration.Seconds())
}

func RecordFunctionCall(function, status string) {
	functionCallsTotal.WithLabelValues(function, status).Inc()
}

func RecordHTTPRequest(path, status string, duration time.Duration) {
	httpRequestDurationSeconds.WithLabelValues(path, status).Observe(duration.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
