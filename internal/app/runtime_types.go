package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dwizi/fixfox-bot/internal/adminlist"
	"github.com/dwizi/fixfox-bot/internal/config"
	"github.com/dwizi/fixfox-bot/internal/heartbeat"
	"github.com/dwizi/fixfox-bot/internal/presence"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/sweeper"
	"github.com/dwizi/fixfox-bot/internal/telegram"
	"github.com/dwizi/fixfox-bot/internal/worker"
)

type Runtime struct {
	cfg              config.Config
	logger           *slog.Logger
	store            *store.Store
	telegram         *telegram.Client
	delivery         *telegram.Delivery
	pool             *worker.Pool
	httpServer       *http.Server
	sweeper          *sweeper.Service
	admins           *adminlist.List
	redisFlags       *presence.RedisFlags
	heartbeat        *heartbeat.Registry
	heartbeatMonitor *heartbeat.Monitor
	shutdownTracing  func(context.Context) error
}

type heartbeatAware interface {
	SetHeartbeatReporter(reporter heartbeat.Reporter)
}
