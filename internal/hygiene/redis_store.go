package hygiene

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig mirrors the subset of internal/config.RedisConfig this package
// needs, avoiding an import of internal/config from internal/hygiene.
type RedisConfig struct {
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// RedisWindowStore is a WindowStore backed by a Redis sorted set per
// (tool, error) key, letting several engine replicas share one rolling
// echo-poisoning window. Grounded on the teacher's
// internal/skills.RedisSkillsCache connection setup.
type RedisWindowStore struct {
	client redis.UniversalClient
}

// NewRedisWindowStore connects to Redis per cfg and returns a WindowStore.
func NewRedisWindowStore(cfg RedisConfig) (*RedisWindowStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("hygiene: redis window store ping: %w", err)
	}
	return &RedisWindowStore{client: client}, nil
}

func (s *RedisWindowStore) key(tool, errString string) string {
	return fmt.Sprintf("toadcore:echo:%s:%x", tool, hashErr(errString))
}

// RecordAndCount implements WindowStore using ZADD + ZREMRANGEBYSCORE + ZCARD
// so the prune-then-count is a single round of sorted-set operations.
func (s *RedisWindowStore) RecordAndCount(ctx context.Context, tool, errString string, now, cutoff time.Time) (int, error) {
	key := s.key(tool, errString)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), errString)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, 5*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("hygiene_redis_window_store_error")
		return 0, err
	}
	return int(card.Val()), nil
}

// Close closes the underlying Redis client.
func (s *RedisWindowStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// hashErr keeps Redis key names bounded regardless of how long a tool's
// error string is; the detector only needs a stable, collision-resistant
// grouping key, not the original bytes back.
func hashErr(s string) uint64 {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
