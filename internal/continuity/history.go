package continuity

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// History remembers the greeting templates recently used for each player.
type History interface {
	// Recent returns up to n templates, most recent first.
	Recent(ctx context.Context, email string, n int) ([]string, error)
	Record(ctx context.Context, email, template string) error
}

// historyCap bounds how many templates are kept per player.
const historyCap = 10

// MemoryHistory keeps greeting history in process memory.
type MemoryHistory struct {
	mu   sync.Mutex
	used map[string][]string
}

// NewMemoryHistory returns an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{used: make(map[string][]string)}
}

func (h *MemoryHistory) Recent(_ context.Context, email string, n int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.used[email]
	if n > len(list) {
		n = len(list)
	}
	out := make([]string, n)
	copy(out, list[:n])
	return out, nil
}

func (h *MemoryHistory) Record(_ context.Context, email, template string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append([]string{template}, h.used[email]...)
	if len(list) > historyCap {
		list = list[:historyCap]
	}
	h.used[email] = list
	return nil
}

// RedisHistory stores greeting history as a capped Redis list per player.
type RedisHistory struct {
	client *redis.Client
	prefix string
}

// NewRedisHistory creates a Redis-backed history.
func NewRedisHistory(client *redis.Client) *RedisHistory {
	return &RedisHistory{client: client, prefix: "rallycoach:greetings:"}
}

func (h *RedisHistory) key(email string) string { return h.prefix + email }

func (h *RedisHistory) Recent(ctx context.Context, email string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := h.client.LRange(ctx, h.key(email), 0, int64(n-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read greeting history: %w", err)
	}
	return vals, nil
}

func (h *RedisHistory) Record(ctx context.Context, email, template string) error {
	key := h.key(email)
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, template)
		pipe.LTrim(ctx, key, 0, historyCap-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record greeting: %w", err)
	}
	return nil
}

var (
	_ History = (*MemoryHistory)(nil)
	_ History = (*RedisHistory)(nil)
)
