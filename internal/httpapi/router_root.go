package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/fixfox-bot/internal/config"
	"github.com/dwizi/fixfox-bot/internal/heartbeat"
	"github.com/dwizi/fixfox-bot/internal/metrics"
	"github.com/dwizi/fixfox-bot/internal/store"
)

// WebhookProcessor acknowledges one raw platform update.
type WebhookProcessor interface {
	Accept(ctx context.Context, raw []byte) string
}

type Store interface {
	Ping(ctx context.Context) error
	CreateRequestLog(ctx context.Context, input store.RequestLogInput) error
}

type Dependencies struct {
	Config              config.Config
	Store               Store
	Webhook             WebhookProcessor
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
}

type router struct {
	deps   Dependencies
	logger *slog.Logger
}

func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &router{deps: deps, logger: logger.With("component", "httpapi")}
	mux := http.NewServeMux()
	mux.HandleFunc(routeHealth, rt.handleHealth)
	mux.HandleFunc(routeReady, rt.handleReady)
	mux.HandleFunc(routeHeartbeat, rt.handleHeartbeat)
	mux.HandleFunc(routeInfo, rt.handleInfo)
	mux.HandleFunc(routeWebhook, rt.handleWebhook)
	mux.Handle(routeMetrics, metrics.Handler())
	return rt.requestLog(mux)
}

const (
	routeHealth    = "/healthz"
	routeReady     = "/readyz"
	routeHeartbeat = "/api/v1/heartbeat"
	routeInfo      = "/api/v1/info"
	routeWebhook   = "/telegram/webhook"
	routeMetrics   = "/metrics"

	// routeOther labels every path no route serves.
	routeOther = "other"
)

// routeLabel keeps the path metric label bounded to the registered routes.
func routeLabel(path string) string {
	switch path {
	case routeHealth, routeReady, routeHeartbeat, routeInfo, routeWebhook, routeMetrics:
		return path
	default:
		return routeOther
	}
}
