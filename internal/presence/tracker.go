package presence

import (
	"context"
	"log/slog"
	"time"
)

type Signaler interface {
	SendTyping(ctx context.Context, chatID int64) error
}

type Config struct {
	TTL         time.Duration
	MaxDuration time.Duration
	Interval    time.Duration
	Logger      *slog.Logger
}

type Tracker struct {
	flags       Flags
	signaler    Signaler
	ttl         time.Duration
	maxDuration time.Duration
	interval    time.Duration
	logger      *slog.Logger
}

func NewTracker(flags Flags, signaler Signaler, cfg Config) *Tracker {
	if flags == nil {
		flags = NewMemoryFlags()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 60 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{
		flags:       flags,
		signaler:    signaler,
		ttl:         cfg.TTL,
		maxDuration: cfg.MaxDuration,
		interval:    cfg.Interval,
		logger:      cfg.Logger,
	}
}

// Begin raises the chat's flag and starts the typing loop in its own goroutine.
// The returned end func clears the flag and stops the loop; it is safe to defer.
func (t *Tracker) Begin(ctx context.Context, chatID int64) func() {
	if err := t.flags.Set(ctx, chatID, t.ttl); err != nil {
		t.logger.Warn("presence flag set failed", "chat_id", chatID, "error", err)
		return func() {}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.Run(loopCtx, chatID)
	}()

	return func() {
		cancel()
		clearCtx, clearCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer clearCancel()
		if err := t.flags.Clear(clearCtx, chatID); err != nil {
			t.logger.Warn("presence flag clear failed", "chat_id", chatID, "error", err)
		}
		<-done
	}
}

// Run emits typing signals while the flag is present, up to the max duration.
func (t *Tracker) Run(ctx context.Context, chatID int64) {
	started := time.Now()
	for time.Since(started) < t.maxDuration {
		if ctx.Err() != nil {
			return
		}
		present, err := t.flags.Present(ctx, chatID)
		if err != nil || !present {
			return
		}
		if t.signaler != nil {
			if err := t.signaler.SendTyping(ctx, chatID); err != nil {
				if ctx.Err() == nil {
					t.logger.Warn("presence signal failed", "chat_id", chatID, "error", err)
				}
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.interval):
		}
	}
}
