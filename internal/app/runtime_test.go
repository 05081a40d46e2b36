package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dwizi/fixfox-bot/internal/config"
	"github.com/dwizi/fixfox-bot/internal/heartbeat"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Environment:          "test",
		HTTPAddr:             "127.0.0.1:0",
		DBPath:               filepath.Join(dir, "db", "meta.sqlite"),
		DownloadDir:          filepath.Join(dir, "downloads"),
		ArtifactDir:          filepath.Join(dir, "artifacts"),
		AdminChatIDs:         []int64{42},
		WebhookAsync:         true,
		WorkerCount:          2,
		WorkerQueueSize:      8,
		HeartbeatEnabled:     true,
		HeartbeatIntervalSec: 1,
		HeartbeatStaleSec:    60,
		SweepSchedule:        "@hourly",
		OrderExtensionDays:   7,
		ServiceName:          "fixfox-bot-test",
	}
}

func TestNewBuildsRuntime(t *testing.T) {
	runtime, err := New(testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	if runtime.pool == nil || runtime.httpServer == nil || runtime.heartbeatMonitor == nil {
		t.Fatal("expected pool, http server and heartbeat monitor")
	}
	if ids := runtime.admins.IDs(); len(ids) != 1 || ids[0] != 42 {
		t.Fatalf("unexpected admin ids: %v", ids)
	}
	if err := runtime.store.Ping(context.Background()); err != nil {
		t.Fatalf("expected migrated store: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	runtime, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer runtime.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not stop")
	}

	snapshot := runtime.heartbeat.Snapshot(0)
	states := map[string]string{}
	for _, item := range snapshot.Components {
		states[item.Name] = item.State
	}
	if states[heartbeat.ComponentTelegram] != heartbeat.StateDisabled {
		t.Fatalf("expected telegram disabled without token, got %q", states[heartbeat.ComponentTelegram])
	}
	if states[heartbeat.ComponentPresence] != heartbeat.StateDisabled {
		t.Fatalf("expected in-memory presence to report disabled, got %q", states[heartbeat.ComponentPresence])
	}
}

func TestRunMonitoredReportsFailure(t *testing.T) {
	registry := heartbeat.NewRegistry()
	failure := errors.New("listen failed")
	err := runMonitored(context.Background(), registry, heartbeat.ComponentHTTP, 0, func(context.Context) error {
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure to propagate, got %v", err)
	}
	snapshot := registry.Snapshot(0)
	if len(snapshot.Components) != 1 || snapshot.Components[0].State != heartbeat.StateDegraded {
		t.Fatalf("expected degraded component, got %+v", snapshot.Components)
	}
}

func TestRunMonitoredStopsCleanly(t *testing.T) {
	registry := heartbeat.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runMonitored(ctx, registry, heartbeat.ComponentWorkers, 10*time.Millisecond, func(runCtx context.Context) error {
		<-runCtx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if state := registry.Snapshot(0).Components[0].State; state != heartbeat.StateStopped {
		t.Fatalf("expected stopped, got %s", state)
	}
}

func TestRunMonitoredWithoutRegistry(t *testing.T) {
	called := false
	err := runMonitored(context.Background(), nil, heartbeat.ComponentWorkers, time.Second, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected run to be called, err=%v called=%v", err, called)
	}
}
