package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startPool(t *testing.T, pool *Pool) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Start(ctx)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		pool.mu.RLock()
		running := pool.running
		pool.mu.RUnlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pool did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return func() {
		cancel()
		<-done
	}
}

func TestEnqueueAssignsDefaults(t *testing.T) {
	pool := New(1, 4, testLogger())
	stop := startPool(t, pool)
	defer stop()

	job, err := pool.Enqueue(Job{Kind: "webhook", Run: func(context.Context) error { return nil }})
	if err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated job ID")
	}
	if job.EnqueuedAt.IsZero() {
		t.Fatal("expected enqueue timestamp")
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	pool := New(1, 1, testLogger())
	_, err := pool.Enqueue(Job{Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	pool := New(1, 2, testLogger())
	release := make(chan struct{})
	started := make(chan struct{})
	stop := startPool(t, pool)
	defer stop()
	defer close(release)

	blocking := Job{Run: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	if _, err := pool.Enqueue(blocking); err != nil {
		t.Fatalf("enqueue blocking job: %v", err)
	}
	<-started

	waiting := Job{Run: func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	for index := 0; index < 2; index++ {
		if _, err := pool.Enqueue(waiting); err != nil {
			t.Fatalf("unexpected enqueue error before queue full: %v", err)
		}
	}
	if _, err := pool.Enqueue(waiting); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSubmitRunsInlineWhenNotRunning(t *testing.T) {
	pool := New(1, 1, testLogger())
	ran := false
	queued := pool.Submit(context.Background(), Job{Run: func(context.Context) error {
		ran = true
		return nil
	}})
	if queued {
		t.Fatal("expected inline execution")
	}
	if !ran {
		t.Fatal("expected job to run on the caller goroutine")
	}
}

func TestWorkersRunQueuedJobs(t *testing.T) {
	pool := New(3, 10, testLogger())
	stop := startPool(t, pool)
	defer stop()

	var (
		count atomic.Int32
		wg    sync.WaitGroup
	)
	for index := 0; index < 5; index++ {
		wg.Add(1)
		queued := pool.Submit(context.Background(), Job{Kind: "webhook", Run: func(context.Context) error {
			defer wg.Done()
			count.Add(1)
			return nil
		}})
		if !queued {
			t.Fatal("expected job to be queued")
		}
	}
	wg.Wait()
	if count.Load() != 5 {
		t.Fatalf("expected 5 jobs to run, got %d", count.Load())
	}
}

func TestRunRecoversPanics(t *testing.T) {
	pool := New(1, 1, testLogger())
	pool.Run(context.Background(), 0, Job{Kind: "webhook", Run: func(context.Context) error {
		panic("boom")
	}})
}

func TestStopRunsQueuedJobs(t *testing.T) {
	pool := New(1, 8, testLogger())
	stop := startPool(t, pool)

	release := make(chan struct{})
	started := make(chan struct{})
	if _, err := pool.Enqueue(Job{Kind: "webhook", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("enqueue blocking job: %v", err)
	}
	<-started

	var (
		count   atomic.Int32
		ctxLive atomic.Int32
	)
	for index := 0; index < 3; index++ {
		if _, err := pool.Enqueue(Job{Kind: "webhook", ChatID: int64(index), Run: func(ctx context.Context) error {
			if ctx.Err() == nil {
				ctxLive.Add(1)
			}
			count.Add(1)
			return nil
		}}); err != nil {
			t.Fatalf("enqueue queued job: %v", err)
		}
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	stop()

	if count.Load() != 3 {
		t.Fatalf("expected 3 queued jobs to run on shutdown, got %d", count.Load())
	}
	if ctxLive.Load() != 3 {
		t.Fatalf("expected drained jobs to get a live context, got %d", ctxLive.Load())
	}
	if pool.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", pool.Pending())
	}
	if _, err := pool.Enqueue(Job{Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning after stop, got %v", err)
	}
}

func TestStopLogsJobsPastDrainWindow(t *testing.T) {
	var logs bytes.Buffer
	pool := New(1, 8, slog.New(slog.NewTextHandler(&logs, nil)))
	pool.drainTimeout = time.Nanosecond
	stop := startPool(t, pool)

	release := make(chan struct{})
	started := make(chan struct{})
	if _, err := pool.Enqueue(Job{Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("enqueue blocking job: %v", err)
	}
	<-started

	var count atomic.Int32
	for index := 0; index < 2; index++ {
		if _, err := pool.Enqueue(Job{ID: "late", Kind: "webhook", ChatID: 77, Run: func(context.Context) error {
			count.Add(1)
			return nil
		}}); err != nil {
			t.Fatalf("enqueue queued job: %v", err)
		}
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	stop()

	if count.Load() != 0 {
		t.Fatalf("expected jobs past the drain window not to run, got %d", count.Load())
	}
	output := logs.String()
	if strings.Count(output, "job dropped on shutdown") != 2 {
		t.Fatalf("expected two dropped-job log lines, got:\n%s", output)
	}
	if !strings.Contains(output, "job_id=late") || !strings.Contains(output, "chat_id=77") {
		t.Fatalf("expected job identifiers in the log, got:\n%s", output)
	}
}
