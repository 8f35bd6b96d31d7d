package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fusserg007/botconstructor/internal/session"
)

const redisSessionPrefix = "botrt:session:"

// RedisSessions persists sessions in Redis with a TTL, for deployments
// where several runtime processes share users.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessions connects to redisURL and pings it. ttl is normally the
// session idle timeout.
func NewRedisSessions(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSessions, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisSessions{client: client, ttl: ttl}, nil
}

// NewRedisSessionsFromClient wraps an existing client.
func NewRedisSessionsFromClient(client *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{client: client, ttl: ttl}
}

func (r *RedisSessions) SaveSession(ctx context.Context, us *session.UserSession) error {
	data, err := json.Marshal(us)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, redisSessionPrefix+us.Key(), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// LoadSession reads a session and refreshes its TTL.
func (r *RedisSessions) LoadSession(ctx context.Context, key string) (*session.UserSession, error) {
	data, err := r.client.GetEx(ctx, redisSessionPrefix+key, r.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storeNotFound("session", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(string(data))
}

func (r *RedisSessions) DeleteSession(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisSessionPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisSessions) ListSessions(ctx context.Context) ([]*session.UserSession, error) {
	var out []*session.UserSession
	iter := r.client.Scan(ctx, 0, redisSessionPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}
		us, err := decodeSession(string(data))
		if err != nil {
			return nil, err
		}
		out = append(out, us)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}

// Close closes the client.
func (r *RedisSessions) Close() error { return r.client.Close() }

var _ session.Persister = (*RedisSessions)(nil)
