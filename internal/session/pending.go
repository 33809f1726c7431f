// Package session keeps per-browser state: the signed session cookie and the
// checkid requests parked while a user decides whether to trust a site.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/eldarion/identeco/internal/openid"
)

// PendingStore parks a checkid request across the interactive round trip,
// keyed by session ID
type PendingStore interface {
	Put(ctx context.Context, key string, req *openid.CheckIDRequest) error
	// Get returns found=false when nothing is parked under key
	Get(ctx context.Context, key string) (*openid.CheckIDRequest, bool, error)
	Delete(ctx context.Context, key string) error
}

func encodePending(req *openid.CheckIDRequest) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode pending request: %w", err)
	}
	return data, nil
}

func decodePending(data []byte) (*openid.CheckIDRequest, error) {
	var req openid.CheckIDRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode pending request: %w", err)
	}
	return &req, nil
}

// MemoryPending keeps pending requests in process memory with a TTL
type MemoryPending struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewMemoryPending creates a store whose entries expire after ttl
func NewMemoryPending(ttl time.Duration) *MemoryPending {
	cleanup := ttl
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &MemoryPending{cache: cache.New(ttl, cleanup), ttl: ttl}
}

// Put stores a serialized copy of req
func (m *MemoryPending) Put(ctx context.Context, key string, req *openid.CheckIDRequest) error {
	data, err := encodePending(req)
	if err != nil {
		return err
	}
	m.cache.Set(key, data, m.ttl)
	return nil
}

// Get returns the parked request
func (m *MemoryPending) Get(ctx context.Context, key string) (*openid.CheckIDRequest, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	req, err := decodePending(v.([]byte))
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

// Delete drops the parked request
func (m *MemoryPending) Delete(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

// Len returns the number of parked requests, including expired ones not yet swept
func (m *MemoryPending) Len() int {
	return m.cache.ItemCount()
}

// RedisPending keeps pending requests in Redis so any instance can resume them
type RedisPending struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisPending connects to Redis and checks the connection
func NewRedisPending(ctx context.Context, opts RedisOptions, ttl time.Duration) (*RedisPending, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisPendingClient(client, opts.Prefix, ttl), nil
}

// NewRedisPendingClient wraps an existing client
func NewRedisPendingClient(client *redis.Client, prefix string, ttl time.Duration) *RedisPending {
	if prefix == "" {
		prefix = "identeco:pending:"
	}
	return &RedisPending{client: client, prefix: prefix, ttl: ttl}
}

// Put stores req with the configured TTL
func (r *RedisPending) Put(ctx context.Context, key string, req *openid.CheckIDRequest) error {
	data, err := encodePending(req)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get returns the parked request
func (r *RedisPending) Get(ctx context.Context, key string) (*openid.CheckIDRequest, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	req, err := decodePending(data)
	if err != nil {
		return nil, false, err
	}
	return req, true, nil
}

// Delete drops the parked request
func (r *RedisPending) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the client
func (r *RedisPending) Close() error {
	return r.client.Close()
}
