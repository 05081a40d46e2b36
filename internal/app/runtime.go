package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dwizi/fixfox-bot/internal/adminlist"
	"github.com/dwizi/fixfox-bot/internal/agent"
	"github.com/dwizi/fixfox-bot/internal/agent/tools"
	"github.com/dwizi/fixfox-bot/internal/config"
	"github.com/dwizi/fixfox-bot/internal/dispatch"
	"github.com/dwizi/fixfox-bot/internal/functions"
	"github.com/dwizi/fixfox-bot/internal/heartbeat"
	"github.com/dwizi/fixfox-bot/internal/httpapi"
	"github.com/dwizi/fixfox-bot/internal/identity"
	"github.com/dwizi/fixfox-bot/internal/lang"
	"github.com/dwizi/fixfox-bot/internal/llm/openai"
	"github.com/dwizi/fixfox-bot/internal/presence"
	"github.com/dwizi/fixfox-bot/internal/resume"
	"github.com/dwizi/fixfox-bot/internal/store"
	"github.com/dwizi/fixfox-bot/internal/sweeper"
	"github.com/dwizi/fixfox-bot/internal/telegram"
	"github.com/dwizi/fixfox-bot/internal/tracing"
	"github.com/dwizi/fixfox-bot/internal/webhook"
	"github.com/dwizi/fixfox-bot/internal/worker"
)

func New(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.DownloadDir, cfg.ArtifactDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	shutdownTracing, err := tracing.Init(context.Background(), cfg.ServiceName, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		return nil, err
	}

	sqlStore, err := store.New(cfg.DBPath)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, err
	}
	if err := sqlStore.AutoMigrate(context.Background()); err != nil {
		sqlStore.Close()
		_ = shutdownTracing(context.Background())
		return nil, err
	}

	var registry *heartbeat.Registry
	if cfg.HeartbeatEnabled {
		registry = heartbeat.NewRegistry()
	}

	admins := adminlist.New(cfg.AdminChatIDs, cfg.AdminListFile, logger)
	if err := admins.Load(); err != nil {
		logger.Error("admin list load failed", "error", err)
	}

	client := telegram.NewClient(cfg.TelegramToken, cfg.TelegramAPI, 30*time.Second)
	delivery := telegram.NewDelivery(client, sqlStore, admins, telegram.DeliveryConfig{
		RatePerSecond:    cfg.SendRatePerSecond,
		Burst:            cfg.SendBurst,
		RetryBackoff:     time.Duration(cfg.SendRetryBackoffMS) * time.Millisecond,
		DownloadMaxBytes: cfg.DownloadMaxBytes,
		Logger:           logger,
	})

	var (
		flags      presence.Flags
		redisFlags *presence.RedisFlags
	)
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisFlags = presence.NewRedisFlags(presence.RedisOptions{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		flags = redisFlags
	} else {
		flags = presence.NewMemoryFlags()
	}
	tracker := presence.NewTracker(flags, delivery, presence.Config{
		TTL:         time.Duration(cfg.PresenceTTLSeconds) * time.Second,
		MaxDuration: time.Duration(cfg.PresenceMaxSeconds) * time.Second,
		Interval:    time.Duration(cfg.PresenceIntervalSeconds) * time.Second,
		Logger:      logger.With("component", "presence"),
	})

	provider := openai.New(openai.Config{
		APIKey:          cfg.LLMAPIKey,
		BaseURL:         cfg.LLMBaseURL,
		Model:           cfg.LLMModel,
		TranslateModel:  cfg.LLMTranslateModel,
		Temperature:     cfg.LLMTemperature,
		Instructions:    cfg.LLMInstructions,
		Timeout:         time.Duration(cfg.LLMTimeoutSec) * time.Second,
		HistoryMessages: cfg.LLMHistoryMessages,
		InlineFileBytes: cfg.LLMInlineFileBytes,
	}, sqlStore, logger.With("component", "llm-openai"))
	translator := lang.NewService(sqlStore, provider, logger.With("component", "lang"))

	toolRegistry := tools.NewRegistry()
	if err := functions.Register(toolRegistry, functions.Dependencies{
		Store:      sqlStore,
		Messenger:  delivery,
		Translator: translator,
		Renderer:   resume.NewRenderer(cfg.ArtifactDir),
		Logger:     logger,
	}); err != nil {
		sqlStore.Close()
		_ = shutdownTracing(context.Background())
		return nil, fmt.Errorf("register functions: %w", err)
	}
	executor := agent.New(provider, toolRegistry, tracker, agent.Policy{
		MaxFunctionRounds: cfg.AgentMaxFunctionRounds,
		MaxTurnDuration:   time.Duration(cfg.AgentMaxTurnDurationSec) * time.Second,
		CallTimeout:       time.Duration(cfg.LLMTimeoutSec) * time.Second,
	}, logger.With("component", "agent"))

	router := dispatch.New(sqlStore, delivery, executor, translator, admins, dispatch.Config{
		DownloadDir:    cfg.DownloadDir,
		OrderExtension: time.Duration(cfg.OrderExtensionDays) * 24 * time.Hour,
		Logger:         logger,
	})
	resolver := identity.NewResolver(sqlStore, logger.With("component", "identity"))

	pool := worker.New(cfg.WorkerCount, cfg.WorkerQueueSize, logger.With("component", "worker"))
	var queue webhook.Queue
	if cfg.WebhookAsync {
		queue = pool
	}
	processor := webhook.New(sqlStore, resolver, router, queue, logger)

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Config:              cfg,
		Store:               sqlStore,
		Webhook:             processor,
		Logger:              logger,
		Heartbeat:           registry,
		HeartbeatStaleAfter: time.Duration(cfg.HeartbeatStaleSec) * time.Second,
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweep := sweeper.New(sqlStore, sweeper.Config{
		Schedule:         cfg.SweepSchedule,
		DownloadDir:      cfg.DownloadDir,
		ArtifactDir:      cfg.ArtifactDir,
		TempFileMaxAge:   time.Duration(cfg.TempFileMaxAgeMin) * time.Minute,
		ArtifactMaxAge:   time.Duration(cfg.ArtifactMaxAgeHours) * time.Hour,
		LogRetention:     time.Duration(cfg.LogRetentionDays) * 24 * time.Hour,
		HistoryRetention: time.Duration(cfg.HistoryRetentionDay) * 24 * time.Hour,
	}, logger)

	var monitor *heartbeat.Monitor
	if registry != nil {
		for _, component := range []heartbeatAware{sweep, admins} {
			component.SetHeartbeatReporter(registry)
		}
		notifier := heartbeat.NewNotifier(delivery, cfg.HeartbeatNotifyAdmin, logger)
		monitor = heartbeat.NewMonitor(registry, heartbeat.MonitorConfig{
			Interval:     time.Duration(cfg.HeartbeatIntervalSec) * time.Second,
			StaleAfter:   time.Duration(cfg.HeartbeatStaleSec) * time.Second,
			Logger:       logger,
			OnTransition: notifier.HandleTransition,
		})
	}

	return &Runtime{
		cfg:              cfg,
		logger:           logger.With("component", "runtime"),
		store:            sqlStore,
		telegram:         client,
		delivery:         delivery,
		pool:             pool,
		httpServer:       server,
		sweeper:          sweep,
		admins:           admins,
		redisFlags:       redisFlags,
		heartbeat:        registry,
		heartbeatMonitor: monitor,
		shutdownTracing:  shutdownTracing,
	}, nil
}
