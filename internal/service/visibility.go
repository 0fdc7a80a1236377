package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// VisibilityTracker holds the per-session reveal state of secrets. The
// state is never written to a key record and disappears with the session.
type VisibilityTracker interface {
	// Toggle flips the reveal flag for keyID and returns the new state.
	Toggle(ctx context.Context, sessionID, keyID string) (bool, error)

	// Revealed returns the set of key ids revealed in the session.
	Revealed(ctx context.Context, sessionID string) (map[string]bool, error)

	// Clear drops all state for the session.
	Clear(ctx context.Context, sessionID string) error

	Close() error
}

// ---------------------------------------------------------------------------
// in-memory
// ---------------------------------------------------------------------------

type memorySession struct {
	revealed  map[string]bool
	expiresAt time.Time
}

// MemoryVisibility keeps reveal state in process memory. Sessions idle for
// longer than the ttl are dropped lazily.
type MemoryVisibility struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memorySession
	now      func() time.Time
}

var _ VisibilityTracker = (*MemoryVisibility)(nil)

func NewMemoryVisibility(ttl time.Duration) *MemoryVisibility {
	return &MemoryVisibility{
		ttl:      ttl,
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (m *MemoryVisibility) Toggle(ctx context.Context, sessionID, keyID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &memorySession{revealed: make(map[string]bool)}
		m.sessions[sessionID] = sess
	}
	sess.expiresAt = m.now().Add(m.ttl)

	if sess.revealed[keyID] {
		delete(sess.revealed, keyID)
		return false, nil
	}
	sess.revealed[keyID] = true
	return true, nil
}

func (m *MemoryVisibility) Revealed(ctx context.Context, sessionID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	out := make(map[string]bool)
	if sess, ok := m.sessions[sessionID]; ok {
		for id := range sess.revealed {
			out[id] = true
		}
	}
	return out, nil
}

func (m *MemoryVisibility) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryVisibility) Close() error { return nil }

// sweep drops expired sessions. Caller holds m.mu.
func (m *MemoryVisibility) sweep() {
	now := m.now()
	for id, sess := range m.sessions {
		if now.After(sess.expiresAt) {
			delete(m.sessions, id)
		}
	}
}

// ---------------------------------------------------------------------------
// redis
// ---------------------------------------------------------------------------

const redisVisibilityPrefix = "keyhub:visible:"

// RedisVisibility keeps reveal state in a Redis set per session so replicas
// behind a load balancer agree on it. Each set expires with the session.
type RedisVisibility struct {
	client *redis.Client
	ttl    time.Duration
}

var _ VisibilityTracker = (*RedisVisibility)(nil)

// NewRedisVisibility connects to redisURL and verifies the connection.
func NewRedisVisibility(ctx context.Context, redisURL string, ttl time.Duration) (*RedisVisibility, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisVisibility{client: client, ttl: ttl}, nil
}

func (r *RedisVisibility) key(sessionID string) string {
	return redisVisibilityPrefix + sessionID
}

func (r *RedisVisibility) Toggle(ctx context.Context, sessionID, keyID string) (bool, error) {
	key := r.key(sessionID)
	removed, err := r.client.SRem(ctx, key, keyID).Result()
	if err != nil {
		return false, fmt.Errorf("toggle visibility: %w", err)
	}
	visible := removed == 0

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if visible {
			pipe.SAdd(ctx, key, keyID)
		}
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("toggle visibility: %w", err)
	}
	return visible, nil
}

func (r *RedisVisibility) Revealed(ctx context.Context, sessionID string) (map[string]bool, error) {
	ids, err := r.client.SMembers(ctx, r.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read visibility: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *RedisVisibility) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear visibility: %w", err)
	}
	return nil
}

func (r *RedisVisibility) Close() error {
	return r.client.Close()
}
