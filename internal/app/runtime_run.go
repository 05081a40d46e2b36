package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/fixfox-bot/internal/heartbeat"
)

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("fixfox-bot runtime starting",
		"addr", r.cfg.HTTPAddr,
		"webhook_async", r.cfg.WebhookAsync,
		"admins", len(r.admins.IDs()),
	)
	r.checkDependencies(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, heartbeat.ComponentWorkers, 20*time.Second, func(runCtx context.Context) error {
			return r.pool.Start(runCtx)
		})
	})
	group.Go(func() error {
		return r.sweeper.Start(groupCtx)
	})
	group.Go(func() error {
		return r.admins.Start(groupCtx)
	})
	group.Go(func() error {
		return runMonitored(groupCtx, r.heartbeat, heartbeat.ComponentHTTP, 20*time.Second, func(runCtx context.Context) error {
			err := r.httpServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	})
	if r.heartbeatMonitor != nil {
		group.Go(func() error {
			return r.heartbeatMonitor.Start(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// checkDependencies reports the optional outbound dependencies once at startup.
func (r *Runtime) checkDependencies(ctx context.Context) {
	if r.heartbeat == nil {
		return
	}
	if r.telegram.Enabled() {
		r.heartbeat.Beat(heartbeat.ComponentTelegram, "bot token configured")
	} else {
		r.heartbeat.Disabled(heartbeat.ComponentTelegram, "bot token missing")
	}
	if r.redisFlags == nil {
		r.heartbeat.Disabled(heartbeat.ComponentPresence, "in-memory presence flags")
		return
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.redisFlags.Ping(pingCtx); err != nil {
		r.logger.Warn("redis unavailable, presence flags degraded", "error", err)
		r.heartbeat.Degrade(heartbeat.ComponentPresence, "redis ping failed", err)
		return
	}
	r.heartbeat.Beat(heartbeat.ComponentPresence, "redis presence flags")
}

func (r *Runtime) Close() error {
	var errs []error
	if r.redisFlags != nil {
		errs = append(errs, r.redisFlags.Close())
	}
	if r.shutdownTracing != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, r.shutdownTracing(shutdownCtx))
		cancel()
	}
	if r.store != nil {
		errs = append(errs, r.store.Close())
	}
	return errors.Join(errs...)
}

func runMonitored(
	ctx context.Context,
	reporter *heartbeat.Registry,
	component string,
	beatInterval time.Duration,
	run func(context.Context) error,
) error {
	if run == nil {
		return nil
	}
	if reporter == nil {
		return run(ctx)
	}
	reporter.Starting(component, "starting")
	reporter.Beat(component, "running")

	var stopHeartbeat func()
	if beatInterval > 0 {
		heartbeatCtx, cancel := context.WithCancel(ctx)
		stopHeartbeat = cancel
		go func() {
			ticker := time.NewTicker(beatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-heartbeatCtx.Done():
					return
				case <-ticker.C:
					reporter.Beat(component, "running")
				}
			}
		}()
	}

	err := run(ctx)
	if stopHeartbeat != nil {
		stopHeartbeat()
	}
	if err != nil && ctx.Err() == nil {
		reporter.Degrade(component, "component failed", err)
		return err
	}
	reporter.Stopped(component, "stopped")
	return err
}
