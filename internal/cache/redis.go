package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgallion1/rtfbridge/internal/convert"
	backend "github.com/redis/go-redis/v9"
)

// Redis shares results between processes.
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Redis)

// WithTTL sets the expiry of stored results.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) { r.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis connects using a redis:// URL.
func NewRedis(url string, opts ...Option) (*Redis, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFromClient(backend.NewClient(o), opts...), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...Option) *Redis {
	r := &Redis{client: client, prefix: "rtfbridge:result:", ttl: time.Hour}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (convert.Output, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return convert.Output{}, ErrMiss
		}
		return convert.Output{}, fmt.Errorf("redis get: %w", err)
	}
	var out convert.Output
	if err := json.Unmarshal(val, &out); err != nil {
		return convert.Output{}, fmt.Errorf("decode cached result: %w", err)
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, key string, out convert.Output) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
