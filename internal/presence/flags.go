package presence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Flags is the ActivityFlag store: a per-chat marker with expiry.
type Flags interface {
	Set(ctx context.Context, chatID int64, ttl time.Duration) error
	Present(ctx context.Context, chatID int64) (bool, error)
	Clear(ctx context.Context, chatID int64) error
}

func FlagKey(chatID int64) string {
	return "typing_active_" + strconv.FormatInt(chatID, 10)
}

type MemoryFlags struct {
	mu      sync.Mutex
	expires map[int64]time.Time
	now     func() time.Time
}

func NewMemoryFlags() *MemoryFlags {
	return &MemoryFlags{
		expires: map[int64]time.Time{},
		now:     time.Now,
	}
}

func (f *MemoryFlags) Set(_ context.Context, chatID int64, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[chatID] = f.now().Add(ttl)
	return nil
}

func (f *MemoryFlags) Present(_ context.Context, chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expiresAt, ok := f.expires[chatID]
	if !ok {
		return false, nil
	}
	if !f.now().Before(expiresAt) {
		delete(f.expires, chatID)
		return false, nil
	}
	return true, nil
}

func (f *MemoryFlags) Clear(_ context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.expires, chatID)
	return nil
}

// RedisFlags shares the flag between processes.
type RedisFlags struct {
	client *redis.Client
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisFlags(opts RedisOptions) *RedisFlags {
	return &RedisFlags{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}
}

func (f *RedisFlags) Ping(ctx context.Context) error {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (f *RedisFlags) Set(ctx context.Context, chatID int64, ttl time.Duration) error {
	if err := f.client.Set(ctx, FlagKey(chatID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("set presence flag: %w", err)
	}
	return nil
}

func (f *RedisFlags) Present(ctx context.Context, chatID int64) (bool, error) {
	count, err := f.client.Exists(ctx, FlagKey(chatID)).Result()
	if err != nil {
		return false, fmt.Errorf("read presence flag: %w", err)
	}
	return count > 0, nil
}

func (f *RedisFlags) Clear(ctx context.Context, chatID int64) error {
	if err := f.client.Del(ctx, FlagKey(chatID)).Err(); err != nil {
		return fmt.Errorf("clear presence flag: %w", err)
	}
	return nil
}

func (f *RedisFlags) Close() error {
	return f.client.Close()
}
