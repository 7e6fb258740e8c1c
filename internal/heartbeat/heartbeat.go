// Package heartbeat reports worker liveness to Redis. Each worker refreshes
// a TTL-bound key; a key expiring means the worker stopped beating.
package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/openinbox/inboxd/pkg/logger"
)

// Reporter writes liveness keys for named workers.
type Reporter struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(addr, password string, db int, ttl time.Duration, log *logger.Logger) (*Reporter, error) {
	if log == nil {
		log = logger.NewDefault("heartbeat")
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(client.Context()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Reporter{client: client, ttl: ttl, log: log}, nil
}

// NewWithClient wraps an existing client; used by tests.
func NewWithClient(client *redis.Client, ttl time.Duration, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.NewDefault("heartbeat")
	}
	return &Reporter{client: client, ttl: ttl, log: log}
}

// Key returns the Redis key holding the named worker's heartbeat.
func Key(worker string) string {
	return "inboxd:heartbeat:" + worker
}

// Beat refreshes the liveness key for the named worker. Failures are logged
// and returned but are not fatal to the worker.
func (r *Reporter) Beat(ctx context.Context, worker string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, Key(worker), now, r.ttl).Err(); err != nil {
		r.log.WithError(err).WithField("worker", worker).Warn("heartbeat write failed")
		return err
	}
	return nil
}

// Alive reports whether the named worker's key is still present.
func (r *Reporter) Alive(ctx context.Context, worker string) (bool, error) {
	n, err := r.client.Exists(ctx, Key(worker)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the underlying client.
func (r *Reporter) Close() error {
	return r.client.Close()
}
