package authcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter is a Counter backed by Redis, shared across instances.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a Redis-backed rate counter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// RedisCodeStore keeps hashed codes in Redis with their TTL.
type RedisCodeStore struct {
	client *redis.Client
}

// NewRedisCodeStore creates a Redis-backed code store.
func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func (s *RedisCodeStore) Put(ctx context.Context, email, hash string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("expiry is in the past")
	}
	if err := s.client.Set(ctx, "authcode:code:"+email, hash, ttl).Err(); err != nil {
		return fmt.Errorf("store code for %s: %w", email, err)
	}
	return nil
}

func (s *RedisCodeStore) Get(ctx context.Context, email string) (string, time.Time, error) {
	key := "authcode:code:" + email
	hash, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load code for %s: %w", email, err)
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("code ttl for %s: %w", email, err)
	}
	return hash, time.Now().Add(ttl), nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, email string) error {
	return s.client.Del(ctx, "authcode:code:"+email).Err()
}

// MemoryCounter is an in-memory Counter for tests and single-node runs.
type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryCounter creates an in-memory rate counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if exp, ok := c.expires[key]; ok && c.now().After(exp) {
		delete(c.counts, key)
		delete(c.expires, key)
	}
	if _, ok := c.expires[key]; !ok {
		c.expires[key] = c.now().Add(ttl)
	}
	c.counts[key]++
	return c.counts[key], nil
}

// MemoryCodeStore is an in-memory CodeStore for tests.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]storedCode
}

type storedCode struct {
	hash      string
	expiresAt time.Time
}

// NewMemoryCodeStore creates an in-memory code store.
func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]storedCode)}
}

func (s *MemoryCodeStore) Put(_ context.Context, email, hash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email] = storedCode{hash: hash, expiresAt: expiresAt}
	return nil
}

func (s *MemoryCodeStore) Get(_ context.Context, email string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[email]
	if !ok {
		return "", time.Time{}, nil
	}
	return c.hash, c.expiresAt, nil
}

func (s *MemoryCodeStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, email)
	return nil
}
