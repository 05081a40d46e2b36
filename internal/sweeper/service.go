package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dwizi/fixfox-bot/internal/heartbeat"
)

const defaultSchedule = "*/15 * * * *"

var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Store interface {
	PruneTelegramLogs(ctx context.Context, before time.Time) (int64, error)
	PruneRequestLogs(ctx context.Context, before time.Time) (int64, error)
	PruneConversationMessages(ctx context.Context, before time.Time) (int64, error)
}

// Config holds retention windows. A zero or negative window disables that sweep.
type Config struct {
	Schedule         string
	DownloadDir      string
	ArtifactDir      string
	TempFileMaxAge   time.Duration
	ArtifactMaxAge   time.Duration
	LogRetention     time.Duration
	HistoryRetention time.Duration
}

// Result counts what one sweep removed.
type Result struct {
	TempFiles    int
	Artifacts    int
	TelegramLogs int64
	RequestLogs  int64
	HistoryTurns int64
}

type Service struct {
	store    Store
	cfg      Config
	logger   *slog.Logger
	reporter heartbeat.Reporter
	now      func() time.Time
}

func New(store Store, cfg Config, logger *slog.Logger) *Service {
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = defaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "sweeper"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetHeartbeatReporter(reporter heartbeat.Reporter) {
	s.reporter = reporter
}

// Start runs Sweep on the configured cron schedule until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	schedule, err := scheduleParser.Parse(strings.Join(strings.Fields(s.cfg.Schedule), " "))
	if err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	runner := cron.New(cron.WithLocation(time.UTC))
	runner.Schedule(schedule, cron.FuncJob(func() {
		s.runOnce(ctx)
	}))
	if s.reporter != nil {
		s.reporter.Starting(heartbeat.ComponentSweeper, "scheduled "+s.cfg.Schedule)
	}
	s.logger.Info("sweeper started", "schedule", s.cfg.Schedule)
	s.runOnce(ctx)
	runner.Start()

	<-ctx.Done()
	stopped := runner.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("sweeper stop timed out")
	}
	if s.reporter != nil {
		s.reporter.Stopped(heartbeat.ComponentSweeper, "stopped")
	}
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Service) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		if s.reporter != nil {
			s.reporter.Degrade(heartbeat.ComponentSweeper, "sweep failed", err)
		}
		return
	}
	s.logger.Info("sweep finished",
		"temp_files", result.TempFiles,
		"artifacts", result.Artifacts,
		"telegram_logs", result.TelegramLogs,
		"request_logs", result.RequestLogs,
		"history_turns", result.HistoryTurns,
	)
	if s.reporter != nil {
		s.reporter.Beat(heartbeat.ComponentSweeper, "sweep finished")
	}
}

// Sweep removes expired files and rows once. Every step runs even when an
// earlier one fails.
func (s *Service) Sweep(ctx context.Context) (Result, error) {
	now := s.now()
	var (
		result Result
		errs   []error
		err    error
	)
	if s.cfg.TempFileMaxAge > 0 {
		result.TempFiles, err = removeOlderThan(s.cfg.DownloadDir, now.Add(-s.cfg.TempFileMaxAge))
		errs = append(errs, wrap("temp files", err))
	}
	if s.cfg.ArtifactMaxAge > 0 {
		result.Artifacts, err = removeOlderThan(s.cfg.ArtifactDir, now.Add(-s.cfg.ArtifactMaxAge))
		errs = append(errs, wrap("artifacts", err))
	}
	if s.store != nil && s.cfg.LogRetention > 0 {
		cutoff := now.Add(-s.cfg.LogRetention)
		result.TelegramLogs, err = s.store.PruneTelegramLogs(ctx, cutoff)
		errs = append(errs, err)
		result.RequestLogs, err = s.store.PruneRequestLogs(ctx, cutoff)
		errs = append(errs, err)
	}
	if s.store != nil && s.cfg.HistoryRetention > 0 {
		result.HistoryTurns, err = s.store.PruneConversationMessages(ctx, now.Add(-s.cfg.HistoryRetention))
		errs = append(errs, err)
	}
	return result, errors.Join(errs...)
}

// removeOlderThan deletes regular files directly inside dir modified before cutoff.
func removeOlderThan(dir string, cutoff time.Time) (int, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func wrap(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("sweep %s: %w", step, err)
}
