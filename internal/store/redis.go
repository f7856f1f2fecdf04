// Package store mirrors job records into redis so a restarted process can
// still answer "what happened to my job". The mirror is strictly best-effort:
// without redis the service runs purely in-memory.
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStore writes job snapshots under job:<id> with a TTL matching the
// artifact retention ceiling. A nil client disables every method.
type RedisStore struct {
	logger *slog.Logger
	client *redis.Client
	ttl    time.Duration
}

// New dials redis and returns a disabled store if the server is unreachable.
func New(ctx context.Context, logger *slog.Logger, addr, password string, db int, ttl time.Duration) *RedisStore {
	s := &RedisStore{logger: logger, ttl: ttl}
	if addr == "" {
		return s
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available, job mirror disabled", "addr", addr, "error", err)
		_ = client.Close()
		return s
	}
	logger.Info("redis job mirror connected", "addr", addr)
	s.client = client
	return s
}

// Save mirrors one job snapshot. Marshal or write failures are logged and
// swallowed; the in-memory registry stays authoritative.
func (s *RedisStore) Save(jobID string, job any) {
	if s == nil || s.client == nil {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		s.logger.Warn("could not marshal job for mirror", "job_id", jobID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, "job:"+jobID, data, s.ttl).Err(); err != nil {
		s.logger.Warn("could not mirror job to redis", "job_id", jobID, "error", err)
	}
}

// Close releases the client if one was dialed.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
